package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultAndNormalize(t *testing.T) {
	cfg := Default()
	if cfg.DropDir == "" || cfg.PollInterval <= 0 || cfg.Agent.Timeout != 300*time.Second {
		t.Fatalf("default config invalid: %+v", cfg)
	}

	got := normalizeCandidates([]string{" qwen ", "npx   qwen", "qwen", ""})
	if len(got) != 2 || got[0] != "qwen" || got[1] != "npx qwen" {
		t.Fatalf("unexpected normalized candidates %v", got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "not_exists.yml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.CycleInterval != defaultCycleInterval {
		t.Fatalf("expected default cycle interval, got %s", cfg.CycleInterval)
	}
}

func TestLoadReadsAndValidates(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "cfg.yml")
	content := []byte("drop_dir: inbox\npoll_interval: 5s\nlog_level: DEBUG\nagent:\n  candidates: [claude, \"npx  claude\"]\n  timeout: 2m\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DropDir != "inbox" || cfg.PollInterval != 5*time.Second || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Agent.Timeout != 2*time.Minute || len(cfg.Agent.Candidates) != 2 || cfg.Agent.Candidates[1] != "npx claude" {
		t.Fatalf("unexpected agent cfg: %+v", cfg.Agent)
	}
}

func TestLoadRejectsInvalidRecentEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte("recent_entries: 0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid recent_entries")
	}
}

func TestLoadForVaultAppliesEnvOverrides(t *testing.T) {
	vault := t.TempDir()
	if err := os.WriteFile(DefaultPath(vault), []byte("poll_interval: 10s\nstatus_addr: \":9000\"\n"), 0o600); err != nil {
		t.Fatalf("write cfg: %v", err)
	}
	if err := os.WriteFile(filepath.Join(vault, ".env"), []byte("TASKVAULT_DROP_DIR=/srv/drop\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("TASKVAULT_POLL_INTERVAL", "3s")
	t.Cleanup(func() { _ = os.Unsetenv("TASKVAULT_DROP_DIR") })

	cfg, err := LoadForVault(vault, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VaultPath != vault {
		t.Fatalf("vault path not set: %q", cfg.VaultPath)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("env override not applied: %s", cfg.PollInterval)
	}
	if cfg.StatusAddr != ":9000" {
		t.Fatalf("file value lost: %q", cfg.StatusAddr)
	}
	if cfg.ResolvedDropDir() != "/srv/drop" {
		t.Fatalf("expected .env drop dir, got %q", cfg.ResolvedDropDir())
	}
}

func TestResolvedDropDirRelativeToVault(t *testing.T) {
	cfg := Default()
	cfg.VaultPath = "/vault"
	if got := cfg.ResolvedDropDir(); got != filepath.Join("/vault", "Drop_Folder") {
		t.Fatalf("unexpected drop dir %q", got)
	}
}

func TestApplyEnvRejectsBadDuration(t *testing.T) {
	cfg := Default()
	lookup := func(key string) (string, bool) {
		if key == "TASKVAULT_CYCLE_INTERVAL" {
			return "soon", true
		}
		return "", false
	}
	if err := cfg.applyEnv(lookup); err == nil {
		t.Fatalf("expected duration parse error")
	}
}
