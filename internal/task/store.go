package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "taskvault/internal/file"
)

// maxCreateAttempts bounds the name suffix search in Create.
const maxCreateAttempts = 1000

// Store abstracts every read, write and move of task documents. The state of
// a task is the folder that holds it; implementations must not keep an index
// that could disagree with the folders.
type Store interface {
	Init(ctx context.Context) error
	List(ctx context.Context, state State) ([]Ref, error)
	Get(ctx context.Context, state State, name string) (Ref, error)
	Load(ctx context.Context, ref Ref) (*Task, error)
	Create(ctx context.Context, name string, doc Document) (Ref, error)
	Move(ctx context.Context, ref Ref, to State, appendText string) (Ref, error)
	Reject(ctx context.Context, ref Ref, reason string) (Ref, error)
}

// StoreOption customizes a file store during construction.
type StoreOption func(*fileStore)

// WithClock overrides the clock used for rejection timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *fileStore) {
		s.now = clock
	}
}

// fileStore implements Store on the vault's state folders.
type fileStore struct {
	root string
	now  func() time.Time
}

func NewFileStore(vaultRoot string, opts ...StoreOption) Store { //nolint:ireturn
	s := &fileStore{root: vaultRoot, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *fileStore) stateDir(state State) string {
	return filepath.Join(s.root, state.Folder())
}

func (s *fileStore) Init(ctx context.Context) error { //nolint:revive // context reserved for remote stores
	for _, state := range States {
		if err := fileutil.EnsureDir(s.stateDir(state)); err != nil {
			return fmt.Errorf("init %s: %w", state.Folder(), err)
		}
	}
	return nil
}

// List returns the documents in state, oldest modification first. Ties are
// broken by name so the order never depends on directory enumeration.
func (s *fileStore) List(ctx context.Context, state State) ([]Ref, error) { //nolint:revive // context reserved for remote stores
	if !state.Valid() {
		return nil, NewErrUnknownState(string(state))
	}
	dir := s.stateDir(state)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", state.Folder(), err)
	}
	refs := make([]Ref, 0, len(entries))
	for _, entry := range entries {
		if !isTaskDocument(entry.Name()) || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// moved away between ReadDir and Info
			continue
		}
		refs = append(refs, refFromInfo(dir, state, info))
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if !refs[i].ModTime.Equal(refs[j].ModTime) {
			return refs[i].ModTime.Before(refs[j].ModTime)
		}
		return refs[i].Name < refs[j].Name
	})
	return refs, nil
}

func (s *fileStore) Get(ctx context.Context, state State, name string) (Ref, error) { //nolint:revive // context reserved for remote stores
	if !state.Valid() {
		return Ref{}, NewErrUnknownState(string(state))
	}
	if !isTaskDocument(name) || filepath.Base(name) != name {
		return Ref{}, fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	}
	dir := s.stateDir(state)
	info, err := os.Lstat(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return Ref{}, fmt.Errorf("%w: %s/%s", ErrTaskNotFound, state.Folder(), name)
		}
		return Ref{}, fmt.Errorf("stat task: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Ref{}, fmt.Errorf("%w: %s/%s is not a regular file", ErrTaskNotFound, state.Folder(), name)
	}
	return refFromInfo(dir, state, info), nil
}

// Load reads and parses a task document. A document with unparseable front
// matter is still returned, with the whole content as body.
func (s *fileStore) Load(ctx context.Context, ref Ref) (*Task, error) { //nolint:revive // context reserved for remote stores
	raw, err := os.ReadFile(s.pathOf(ref)) //nolint:gosec // path built from vault root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrTaskNotFound, ref.State.Folder(), ref.Name)
		}
		return nil, fmt.Errorf("read task: %w", err)
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		log.Warn().Str("task", ref.Name).Str("state", string(ref.State)).Err(err).Msg("task front matter unreadable, using raw body")
		doc = Document{Body: string(raw)}
	}
	return &Task{Ref: ref, Document: doc, Raw: raw}, nil
}

// Create publishes a new document in NeedsAction. When name is already used
// by a task in any state, an incrementing suffix is added before the
// extension so identities stay unique across the vault.
func (s *fileStore) Create(ctx context.Context, name string, doc Document) (Ref, error) {
	if !isTaskDocument(name) || filepath.Base(name) != name {
		return Ref{}, fmt.Errorf("invalid task name %q", name)
	}
	content, err := doc.Render()
	if err != nil {
		return Ref{}, err
	}
	stem := strings.TrimSuffix(name, documentExt)
	candidate := name
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		if s.nameInUse(ctx, candidate) {
			candidate = stem + "_" + strconv.Itoa(attempt) + documentExt
			continue
		}
		err := fileutil.WriteExclusive(filepath.Join(s.stateDir(StateNeedsAction), candidate), content)
		if err == nil {
			return s.Get(ctx, StateNeedsAction, candidate)
		}
		if !errors.Is(err, os.ErrExist) {
			return Ref{}, fmt.Errorf("write task: %w", err)
		}
		candidate = stem + "_" + strconv.Itoa(attempt) + documentExt
	}
	return Ref{}, fmt.Errorf("no free task name for %s", name)
}

// Move relocates the document with a single rename that never replaces an
// existing destination. If the rename fails the source is untouched. appendText,
// when set, is appended at the destination after the rename.
func (s *fileStore) Move(ctx context.Context, ref Ref, to State, appendText string) (Ref, error) {
	if !to.Valid() {
		return ref, NewErrUnknownState(string(to))
	}
	if !CanTransition(ref.State, to) {
		return ref, newErrInvalidTransition(ref.State, to)
	}
	src := s.pathOf(ref)
	if _, err := os.Lstat(src); err != nil {
		if os.IsNotExist(err) {
			return ref, fmt.Errorf("%w: %s/%s", ErrTaskNotFound, ref.State.Folder(), ref.Name)
		}
		return ref, fmt.Errorf("stat task: %w", err)
	}
	destDir := s.stateDir(to)
	if err := fileutil.EnsureDir(destDir); err != nil {
		return ref, err
	}
	dest := filepath.Join(destDir, ref.Name)
	if err := fileutil.RenameNoReplace(src, dest); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ref, fmt.Errorf("%w: %s/%s", ErrTaskExists, to.Folder(), ref.Name)
		}
		return ref, fmt.Errorf("move %s to %s: %w", ref.Name, to.Folder(), err)
	}

	moved := ref
	moved.State = to
	moved.Path = dest
	// a crash before this append leaves the task moved but without the note
	if appendText != "" {
		if err := fileutil.AppendText(dest, appendText); err != nil {
			return moved, fmt.Errorf("annotate %s in %s: %w", ref.Name, to.Folder(), err)
		}
	}
	if fresh, err := s.Get(ctx, to, ref.Name); err == nil {
		moved = fresh
	}
	return moved, nil
}

// Reject moves the task to Rejected and appends the explanation block.
func (s *fileStore) Reject(ctx context.Context, ref Ref, reason string) (Ref, error) {
	return s.Move(ctx, ref, StateRejected, RejectionNote(reason, s.now()))
}

// RejectionNote renders the block appended to rejected documents.
func RejectionNote(reason string, at time.Time) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("\n\n---\n## Rejected\nReason: %s\nDate: %s\n", reason, at.Format(time.RFC3339))
}

func (s *fileStore) nameInUse(ctx context.Context, name string) bool { //nolint:revive // context reserved for remote stores
	for _, state := range States {
		if _, err := os.Lstat(filepath.Join(s.stateDir(state), name)); err == nil {
			return true
		}
	}
	return false
}

func (s *fileStore) pathOf(ref Ref) string {
	return filepath.Join(s.stateDir(ref.State), ref.Name)
}

func refFromInfo(dir string, state State, info os.FileInfo) Ref {
	return Ref{
		Name:    info.Name(),
		State:   state,
		Path:    filepath.Join(dir, info.Name()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

func isTaskDocument(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), documentExt)
}
