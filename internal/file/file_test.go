package file

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriteAtomicReplacesContent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "doc.md")
	if err := WriteAtomic(target, []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteAtomic(target, []byte("two")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("expected two, got %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestCopyUniqueSuffixesCollisions(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	src := filepath.Join(srcDir, "invoice.pdf")
	if err := os.WriteFile(src, []byte("pdf bytes"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}

	want := []string{"invoice.pdf", "invoice_1.pdf", "invoice_2.pdf"}
	for i, name := range want {
		res, err := CopyUnique(src, dstDir)
		if err != nil {
			t.Fatalf("copy %d: %v", i, err)
		}
		if filepath.Base(res.Path) != name {
			t.Fatalf("copy %d: expected %s, got %s", i, name, filepath.Base(res.Path))
		}
		if res.Size != int64(len("pdf bytes")) {
			t.Fatalf("unexpected size %d", res.Size)
		}
	}

	hash, err := HashFile(src)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	res, err := CopyUnique(src, dstDir)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if res.Hash != hash {
		t.Fatalf("copy hash %s != file hash %s", res.Hash, hash)
	}
}

func TestHashFileDiffersByContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	_ = os.WriteFile(a, []byte("alpha"), 0o600)
	_ = os.WriteFile(b, []byte("beta"), 0o600)
	ha, _ := HashFile(a)
	hb, _ := HashFile(b)
	if ha == hb || len(ha) != 64 {
		t.Fatalf("unexpected hashes %q %q", ha, hb)
	}
}

func TestAppendLineConcurrentWritersKeepWholeLines(t *testing.T) {
	target := filepath.Join(t.TempDir(), "log.json")
	const writers = 8
	const perWriter = 50
	line := strings.Repeat("x", 200)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := AppendLine(target, line); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("expected %d lines, got %d", writers*perWriter, len(lines))
	}
	for _, l := range lines {
		if l != line {
			t.Fatalf("interleaved record: %q", l)
		}
	}
}

func TestAppendTextRequiresExistingFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing.md")
	if err := AppendText(target, "more"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRenameNoReplaceKeepsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "task.md")
	dst := filepath.Join(dir, "done.md")
	if err := os.WriteFile(src, []byte("mine"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("human"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := RenameNoReplace(src, dst); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected os.ErrExist, got %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "human" {
		t.Fatalf("destination overwritten: %q", got)
	}
	if got, _ := os.ReadFile(src); string(got) != "mine" {
		t.Fatalf("source changed: %q", got)
	}

	free := filepath.Join(dir, "free.md")
	if err := RenameNoReplace(src, free); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present: %v", err)
	}
	if got, _ := os.ReadFile(free); string(got) != "mine" {
		t.Fatalf("unexpected content %q", got)
	}
}
