package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultDropDir        = "Drop_Folder"
	defaultPollInterval   = 30 * time.Second
	defaultCycleInterval  = 60 * time.Second
	defaultAgentTimeout   = 300 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultRunnerTimeout  = 10 * time.Second
	defaultRecentEntries  = 10
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	defaultConfigFileName = "taskvault.yml"

	envPrefix = "TASKVAULT_"
)

// Config describes runtime configuration shared by the watcher and the orchestrator.
type Config struct {
	VaultPath string `yaml:"vault_path"`
	// DropDir is resolved against VaultPath when relative.
	DropDir       string        `yaml:"drop_dir"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	CycleInterval time.Duration `yaml:"cycle_interval"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	StatusAddr    string        `yaml:"status_addr"`
	RecentEntries int           `yaml:"recent_entries"`
	Agent         AgentConfig   `yaml:"agent"`
}

// AgentConfig controls discovery and invocation of the external agent.
type AgentConfig struct {
	// Candidates are probed in order; each entry is a command line such as "qwen" or "npx qwen".
	Candidates    []string      `yaml:"candidates"`
	Timeout       time.Duration `yaml:"timeout"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	RunnerTimeout time.Duration `yaml:"runner_probe_timeout"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	return Config{
		DropDir:       defaultDropDir,
		PollInterval:  defaultPollInterval,
		CycleInterval: defaultCycleInterval,
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
		RecentEntries: defaultRecentEntries,
		Agent: AgentConfig{
			Candidates:    []string{"qwen", "qwen-code", "@alibaba/qwen-code", "npx qwen"},
			Timeout:       defaultAgentTimeout,
			ProbeTimeout:  defaultProbeTimeout,
			RunnerTimeout: defaultRunnerTimeout,
		},
	}
}

// DefaultPath returns the conventional config file location inside a vault.
func DefaultPath(vaultPath string) string {
	return filepath.Join(vaultPath, defaultConfigFileName)
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, cfg.normalize()
}

// LoadForVault loads <vault>/.env into the process environment (existing
// variables win), reads the YAML file at path (or the vault default when
// empty) and applies TASKVAULT_* environment overrides on top.
func LoadForVault(vaultPath, path string) (Config, error) {
	if vaultPath == "" {
		return Default(), errors.New("empty vault path")
	}
	envFile := filepath.Join(vaultPath, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Default(), fmt.Errorf("load env file: %w", err)
		}
	}
	if path == "" {
		path = DefaultPath(vaultPath)
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.VaultPath = vaultPath
	return cfg, cfg.normalize()
}

// ResolvedDropDir returns the absolute or vault-relative drop folder.
func (c Config) ResolvedDropDir() string {
	if filepath.IsAbs(c.DropDir) {
		return c.DropDir
	}
	return filepath.Join(c.VaultPath, c.DropDir)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("DROP_DIR", &c.DropDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("STATUS_ADDR", &c.StatusAddr)
	if err := dur("POLL_INTERVAL", &c.PollInterval); err != nil {
		return err
	}
	if err := dur("CYCLE_INTERVAL", &c.CycleInterval); err != nil {
		return err
	}
	if err := dur("AGENT_TIMEOUT", &c.Agent.Timeout); err != nil {
		return err
	}
	if v, ok := lookup(envPrefix + "AGENT_CANDIDATES"); ok && strings.TrimSpace(v) != "" {
		c.Agent.Candidates = strings.Split(v, ",")
	}
	if v, ok := lookup(envPrefix + "RECENT_ENTRIES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sRECENT_ENTRIES: %w", envPrefix, err)
		}
		c.RecentEntries = n
	}
	return nil
}

func (c *Config) normalize() error {
	def := Default()
	if strings.TrimSpace(c.DropDir) == "" {
		c.DropDir = def.DropDir
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = def.CycleInterval
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = def.Agent.Timeout
	}
	if c.Agent.ProbeTimeout <= 0 {
		c.Agent.ProbeTimeout = def.Agent.ProbeTimeout
	}
	if c.Agent.RunnerTimeout <= 0 {
		c.Agent.RunnerTimeout = def.Agent.RunnerTimeout
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	switch c.LogFormat {
	case "":
		c.LogFormat = def.LogFormat
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (want console or json)", c.LogFormat)
	}
	if c.RecentEntries < 1 {
		return fmt.Errorf("invalid recent_entries: %d (must be >= 1)", c.RecentEntries)
	}
	c.Agent.Candidates = normalizeCandidates(c.Agent.Candidates)
	if len(c.Agent.Candidates) == 0 {
		c.Agent.Candidates = def.Agent.Candidates
	}
	return nil
}

func normalizeCandidates(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, candidate := range in {
		c := strings.Join(strings.Fields(candidate), " ")
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		normalized = append(normalized, c)
	}
	return normalized
}
