package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskvault/internal/ledger"
	"taskvault/internal/task"
	"taskvault/internal/watch"
)

var fixedNow = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

type vaultFixture struct {
	root   string
	drop   string
	store  task.Store
	ledger *ledger.Ledger
	source *FileDropSource
}

func newVault(t *testing.T) *vaultFixture {
	t.Helper()
	root := t.TempDir()
	f := &vaultFixture{root: root, drop: filepath.Join(root, "Drop_Folder")}
	f.store = task.NewFileStore(root)
	if err := f.store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.MkdirAll(f.drop, 0o750); err != nil {
		t.Fatalf("mkdir drop: %v", err)
	}
	f.reopen(t)
	return f
}

// reopen simulates a process restart: the ledger is reloaded from disk.
func (f *vaultFixture) reopen(t *testing.T) {
	t.Helper()
	l, err := ledger.Open(filepath.Join(f.root, ledger.FileName))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	f.ledger = l
	f.source = NewFileDropSource(f.root, f.drop, f.store, l, WithClock(func() time.Time { return fixedNow }))
}

func (f *vaultFixture) put(t *testing.T, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.drop, name), data, 0o600); err != nil {
		t.Fatalf("drop %s: %v", name, err)
	}
}

func (f *vaultFixture) needsAction(t *testing.T) []task.Ref {
	t.Helper()
	refs, err := f.store.List(context.Background(), task.StateNeedsAction)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return refs
}

func TestDroppedDocumentBecomesTask(t *testing.T) {
	f := newVault(t)
	payload := bytes.Repeat([]byte("invoice-"), 1280)
	f.put(t, "invoice.pdf", payload)

	stats := watch.NewLoop[Item](f.source, watch.Options{}).RunOnce(context.Background())
	if stats.Discovered != 1 || stats.Created != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	stored, err := os.ReadFile(filepath.Join(f.root, "Files", "invoice.pdf"))
	if err != nil {
		t.Fatalf("stored copy: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatal("stored copy differs from dropped file")
	}

	refs := f.needsAction(t)
	if len(refs) != 1 || refs[0].Name != "FILE_invoice_20260506_070809.md" {
		t.Fatalf("unexpected tasks %+v", refs)
	}
	tk, err := f.store.Load(context.Background(), refs[0])
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tk.Meta.Type != "file_drop" || tk.Meta.Field("category") != "document" {
		t.Fatalf("unexpected meta %+v", tk.Meta)
	}
	if tk.Meta.Field("size") != "10240" || tk.Meta.Field("stored_path") != "Files/invoice.pdf" {
		t.Fatalf("unexpected file fields %+v", tk.Meta.Fields)
	}
	if items := tk.Checklist(); len(items) != 4 {
		t.Fatalf("expected 4 suggested actions, got %v", items)
	}
	if f.ledger.Len() != 1 {
		t.Fatalf("expected one ledger record, got %d", f.ledger.Len())
	}
}

func TestIdenticalContentAdmittedOnce(t *testing.T) {
	f := newVault(t)
	payload := []byte("quarterly numbers")
	f.put(t, "report.csv", payload)
	if _, err := runCycle(f); err != nil {
		t.Fatal(err)
	}

	f.put(t, "report_copy.csv", payload)
	items, err := f.source.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("renamed duplicate rediscovered: %v", items)
	}

	f.reopen(t)
	items, err = f.source.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover after restart: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("duplicate rediscovered after restart: %v", items)
	}
	if n := len(f.needsAction(t)); n != 1 {
		t.Fatalf("expected a single task, got %d", n)
	}
	entries, _ := os.ReadDir(filepath.Join(f.root, "Files"))
	if len(entries) != 1 {
		t.Fatalf("expected a single stored copy, got %d", len(entries))
	}
}

// createFailingStore refuses every new task.
type createFailingStore struct {
	task.Store
}

var errDiskFull = errors.New("disk full")

func (createFailingStore) Create(context.Context, string, task.Document) (task.Ref, error) {
	return task.Ref{}, errDiskFull
}

func TestFailedTaskWriteLeavesFileForNextCycle(t *testing.T) {
	f := newVault(t)
	f.put(t, "contract.pdf", []byte("signed contract"))
	ctx := context.Background()

	failing := NewFileDropSource(f.root, f.drop, createFailingStore{f.store}, f.ledger, WithClock(func() time.Time { return fixedNow }))
	items, err := failing.Discover(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("discover: %v %v", items, err)
	}
	if _, err := failing.Materialize(ctx, items[0]); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected task write failure, got %v", err)
	}

	if f.ledger.Len() != 0 {
		t.Fatalf("ledger recorded a file without a task: %d", f.ledger.Len())
	}
	stored, err := os.ReadDir(filepath.Join(f.root, "Files"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read files: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("stored copy left behind: %v", stored)
	}
	if refs := f.needsAction(t); len(refs) != 0 {
		t.Fatalf("unexpected tasks %v", refs)
	}

	f.reopen(t)
	again, err := f.source.Discover(ctx)
	if err != nil || len(again) != 1 || again[0].Hash != items[0].Hash {
		t.Fatalf("file not rediscovered: %v %v", again, err)
	}
	if _, err := runCycle(f); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if refs := f.needsAction(t); len(refs) != 1 || f.ledger.Len() != 1 {
		t.Fatalf("retry did not admit the file: %v", refs)
	}
}

func TestSameContentInOnePassQueuedOnce(t *testing.T) {
	f := newVault(t)
	f.put(t, "a.txt", []byte("same"))
	f.put(t, "b.txt", []byte("same"))
	f.put(t, ".hidden", []byte("ignored"))

	items, err := f.source.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(items) != 1 || items[0].Name != "a.txt" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestStoredCopyGetsCollisionFreeName(t *testing.T) {
	f := newVault(t)
	if err := os.MkdirAll(filepath.Join(f.root, "Files"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "Files", "photo.png"), []byte("older"), 0o600); err != nil {
		t.Fatal(err)
	}
	f.put(t, "photo.png", []byte("newer"))
	if _, err := runCycle(f); err != nil {
		t.Fatal(err)
	}
	tk, err := f.store.Load(context.Background(), f.needsAction(t)[0])
	if err != nil {
		t.Fatal(err)
	}
	if got := tk.Meta.Field("stored_path"); got != "Files/photo_1.png" {
		t.Fatalf("unexpected stored path %q", got)
	}
	if got := tk.Meta.Field("category"); got != "image" {
		t.Fatalf("unexpected category %q", got)
	}
	older, _ := os.ReadFile(filepath.Join(f.root, "Files", "photo.png"))
	if string(older) != "older" {
		t.Fatal("existing stored file was overwritten")
	}
}

func TestMissingDropFolderIsCreated(t *testing.T) {
	f := newVault(t)
	if err := os.RemoveAll(f.drop); err != nil {
		t.Fatal(err)
	}
	items, err := f.source.Discover(context.Background())
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty discovery, got %v %v", items, err)
	}
	if info, err := os.Stat(f.drop); err != nil || !info.IsDir() {
		t.Fatalf("drop folder not created: %v", err)
	}
}

func TestCategorizeAndChecklists(t *testing.T) {
	cases := map[string]Category{
		".PDF":  CategoryDocument,
		"docx":  CategoryDocument,
		".txt":  CategoryText,
		".md":   CategoryMarkdown,
		".csv":  CategoryData,
		".xlsx": CategorySpreadsheet,
		".jpeg": CategoryImage,
		".rar":  CategoryArchive,
		".exe":  CategoryUnknown,
		"":      CategoryUnknown,
	}
	for ext, want := range cases {
		if got := Categorize(ext); got != want {
			t.Fatalf("Categorize(%q)=%s want %s", ext, got, want)
		}
	}
	for c := range categoryChecklists {
		want := 3
		if c == CategoryDocument {
			want = 4
		}
		if got := len(c.Checklist()); got != want {
			t.Fatalf("%s checklist has %d items", c, got)
		}
	}
	if len(Category("bogus").Checklist()) != 3 {
		t.Fatal("unknown category fallback missing")
	}
}

func TestTaskNameSanitizesStem(t *testing.T) {
	got := TaskName("FILE", "my report (v2).final", fixedNow)
	if got != "FILE_my_report__v2__final_20260506_070809.md" {
		t.Fatalf("unexpected name %q", got)
	}
	if !strings.HasSuffix(TaskName("FILE", "résumé", fixedNow), "_20260506_070809.md") ||
		!strings.HasPrefix(TaskName("FILE", "résumé", fixedNow), "FILE_résumé_") {
		t.Fatal("letters outside ASCII should be kept")
	}
}

func TestSampleSourceEmitsOnce(t *testing.T) {
	f := newVault(t)
	src := NewSampleSource(f.store)
	loop := watch.NewLoop[SampleItem](src, watch.Options{})
	ctx := context.Background()

	if stats := loop.RunOnce(ctx); stats.Created != 1 {
		t.Fatalf("first cycle: %+v", stats)
	}
	if stats := loop.RunOnce(ctx); stats.Discovered != 0 {
		t.Fatalf("second cycle: %+v", stats)
	}
	refs := f.needsAction(t)
	if len(refs) != 1 || !strings.HasPrefix(refs[0].Name, "TEST_test_1_") {
		t.Fatalf("unexpected tasks %+v", refs)
	}
	tk, _ := f.store.Load(ctx, refs[0])
	if tk.Meta.Type != "test" || tk.Meta.Priority != "low" {
		t.Fatalf("unexpected meta %+v", tk.Meta)
	}
}

func runCycle(f *vaultFixture) (watch.Stats, error) {
	stats := watch.NewLoop[Item](f.source, watch.Options{}).RunOnce(context.Background())
	if stats.Failed > 0 {
		return stats, os.ErrInvalid
	}
	return stats, nil
}
