// Package ingest turns files dropped into a watched folder into NeedsAction
// tasks, admitting each distinct content exactly once.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	fileutil "taskvault/internal/file"
	"taskvault/internal/ledger"
	"taskvault/internal/task"
)

const (
	filesFolder     = "Files"
	fileTaskPrefix  = "FILE"
	nameTimeLayout  = "20060102_150405"
	sourceName      = "file_drop"
	kibibyte        = 1024
	receivedLayout  = time.RFC3339
	dropHeading     = "# File Drop for Processing"
)

// Item is a dropped file awaiting admission.
type Item struct {
	Path string
	Name string
	Hash string
	Size int64
}

func (i Item) String() string { return i.Name }

// Option customizes a FileDropSource.
type Option func(*FileDropSource)

// WithClock overrides the clock used for task names and the received timestamp.
func WithClock(clock func() time.Time) Option {
	return func(s *FileDropSource) {
		s.now = clock
	}
}

// FileDropSource watches a drop folder. It implements watch.Source[Item].
type FileDropSource struct {
	vaultRoot string
	dropDir   string
	filesDir  string
	store     task.Store
	ledger    *ledger.Ledger
	now       func() time.Time
}

func NewFileDropSource(vaultRoot, dropDir string, store task.Store, l *ledger.Ledger, opts ...Option) *FileDropSource {
	s := &FileDropSource{
		vaultRoot: vaultRoot,
		dropDir:   dropDir,
		filesDir:  filepath.Join(vaultRoot, filesFolder),
		store:     store,
		ledger:    l,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileDropSource) Name() string { return sourceName }

// DropDir returns the watched folder.
func (s *FileDropSource) DropDir() string { return s.dropDir }

// Discover lists regular, non-hidden files directly inside the drop folder
// whose content hash has not been admitted yet. A missing drop folder is
// created.
func (s *FileDropSource) Discover(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(s.dropDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fileutil.EnsureDir(s.dropDir)
		}
		return nil, fmt.Errorf("scan drop folder: %w", err)
	}

	seen := make(map[string]struct{})
	var items []Item
	for _, entry := range entries {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.dropDir, name)
		hash, err := fileutil.HashFile(path)
		if err != nil {
			log.Warn().Str("file", name).Err(err).Msg("hash dropped file")
			continue
		}
		if s.ledger.Contains(hash) {
			continue
		}
		if _, dup := seen[hash]; dup {
			log.Debug().Str("file", name).Str("hash", hash).Msg("same content already queued in this pass")
			continue
		}
		seen[hash] = struct{}{}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, Item{Path: path, Name: name, Hash: hash, Size: info.Size()})
	}
	return items, nil
}

// Materialize copies the file into the vault, writes its task document and
// only then records the hash in the ledger.
func (s *FileDropSource) Materialize(ctx context.Context, item Item) (string, error) {
	if s.ledger.Contains(item.Hash) {
		return "", nil
	}
	copied, err := fileutil.CopyUnique(item.Path, s.filesDir)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", item.Name, err)
	}
	if copied.Hash != item.Hash {
		log.Warn().Str("file", item.Name).Msg("content changed since discovery, using copied bytes")
		if s.ledger.Contains(copied.Hash) {
			_ = os.Remove(copied.Path)
			return "", nil
		}
	}

	now := s.now()
	category := Categorize(filepath.Ext(item.Name))
	storedRel := s.relative(copied.Path)
	doc := task.NewDocument(task.Metadata{
		Type:     string(task.OriginFileDrop),
		Received: now.Format(receivedLayout),
		Fields: map[string]any{
			"original_name": item.Name,
			"stored_path":   storedRel,
			"size":          copied.Size,
			"category":      string(category),
			"hash":          copied.Hash,
		},
	}, fileDropBody(item.Name, storedRel, copied.Size, category))

	ref, err := s.store.Create(ctx, TaskName(fileTaskPrefix, strings.TrimSuffix(item.Name, filepath.Ext(item.Name)), now), doc)
	if err != nil {
		_ = os.Remove(copied.Path)
		return "", fmt.Errorf("write task for %s: %w", item.Name, err)
	}
	if err := s.ledger.Record(copied.Hash, item.Name); err != nil {
		return ref.Name, fmt.Errorf("record %s in ledger: %w", item.Name, err)
	}
	log.Info().Str("file", item.Name).Str("stored", storedRel).Str("task", ref.Name).
		Str("category", string(category)).Msg("dropped file admitted")
	return ref.Name, nil
}

func (s *FileDropSource) relative(path string) string {
	rel, err := filepath.Rel(s.vaultRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func fileDropBody(name, stored string, size int64, category Category) string {
	var b strings.Builder
	b.WriteString(dropHeading + "\n\n")
	b.WriteString("A new file was dropped into the monitored folder.\n\n")
	b.WriteString("## File Details\n\n")
	b.WriteString("| Property | Value |\n|----------|-------|\n")
	fmt.Fprintf(&b, "| Original Name | `%s` |\n", name)
	fmt.Fprintf(&b, "| Stored Path | `%s` |\n", stored)
	fmt.Fprintf(&b, "| Size | %d bytes (%.2f KB) |\n", size, float64(size)/kibibyte)
	fmt.Fprintf(&b, "| Type | %s |\n\n", category)
	b.WriteString("## Content Preview\n\n<!-- Agent: read the file and summarize it here -->\n\n")
	b.WriteString(task.ChecklistSection(category.Checklist()))
	return b.String()
}

// TaskName builds "<prefix>_<id>_<YYYYMMDD_HHMMSS>.md" with every rune of
// id that is not a letter, digit, '-' or '_' replaced by '_'.
func TaskName(prefix, id string, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, id)
	return prefix + "_" + safe + "_" + at.Format(nameTimeLayout) + ".md"
}
