// Package dashboard maintains the human-facing Dashboard.md. Recent activity
// is kept as structured entries under Logs/ and the dashboard region is
// regenerated from them, so patching the document is idempotent.
package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	fileutil "taskvault/internal/file"
)

const (
	FileName       = "Dashboard.md"
	RecentFileName = "recent_activity.json"
	StartMarker    = "<!-- recent-activity:start -->"
	EndMarker      = "<!-- recent-activity:end -->"
	EmptySentinel  = "*No recent activity*"
	SectionHeader  = "## Recent Activity"

	lineTimeLayout = "2006-01-02 15:04"
	defaultLimit   = 10
	logsFolder     = "Logs"
	newDashboard   = "# Dashboard\n\n" + SectionHeader + "\n\n" + EmptySentinel + "\n"
)

// Entry is one recent-activity item.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// Line renders the entry as it appears on the dashboard.
func (e Entry) Line() string {
	return fmt.Sprintf("- [%s] %s: %s", e.Timestamp.Format(lineTimeLayout), e.Action, e.Details)
}

// Option customizes a Dashboard.
type Option func(*Dashboard)

// WithLimit sets how many entries the region shows.
func WithLimit(n int) Option {
	return func(d *Dashboard) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithClock overrides the clock used by Record.
func WithClock(clock func() time.Time) Option {
	return func(d *Dashboard) {
		d.now = clock
	}
}

type Dashboard struct {
	mu         sync.Mutex
	path       string
	recentPath string
	limit      int
	now        func() time.Time
}

func New(vaultRoot string, opts ...Option) *Dashboard {
	d := &Dashboard{
		path:       filepath.Join(vaultRoot, FileName),
		recentPath: filepath.Join(vaultRoot, logsFolder, RecentFileName),
		limit:      defaultLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path returns the dashboard document location.
func (d *Dashboard) Path() string { return d.path }

// Record stores a new entry and re-renders the dashboard.
func (d *Dashboard) Record(ctx context.Context, action, details string) (Entry, error) {
	entry := Entry{ID: uuid.New(), Timestamp: d.now(), Action: action, Details: details}
	return entry, d.Add(ctx, entry)
}

// Add stores entry unless an entry with the same ID exists, then re-renders.
func (d *Dashboard) Add(ctx context.Context, entry Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load()
	if err != nil {
		return err
	}
	if !containsID(entries, entry.ID) {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode recent entry: %w", err)
		}
		if err := fileutil.AppendLine(d.recentPath, string(data)); err != nil {
			return fmt.Errorf("append recent entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return d.render(ctx, entries)
}

// Recent returns the newest entries, newest first.
func (d *Dashboard) Recent() ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.load()
	if err != nil {
		return nil, err
	}
	return newest(entries, d.limit), nil
}

// Render regenerates the region from the stored entries.
func (d *Dashboard) Render(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.load()
	if err != nil {
		return err
	}
	return d.render(ctx, entries)
}

func (d *Dashboard) render(ctx context.Context, entries []Entry) error { //nolint:revive // context kept for symmetry with callers
	current, err := os.ReadFile(d.path)
	switch {
	case os.IsNotExist(err):
		current = []byte(newDashboard)
	case err != nil:
		return fmt.Errorf("read dashboard: %w", err)
	}
	patched := Patch(string(current), RenderRegion(newest(entries, d.limit)))
	if patched == string(current) {
		return nil
	}
	if err := fileutil.WriteAtomic(d.path, []byte(patched)); err != nil {
		return fmt.Errorf("write dashboard: %w", err)
	}
	return nil
}

func (d *Dashboard) load() ([]Entry, error) {
	f, err := os.Open(d.recentPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open recent activity: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.ID == uuid.Nil {
			if len(scanner.Bytes()) > 0 {
				log.Warn().Str("file", d.recentPath).Msg("skipping malformed recent activity line")
			}
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recent activity: %w", err)
	}
	return entries, nil
}

// RenderRegion renders entries, already ordered, between the region markers.
func RenderRegion(entries []Entry) string {
	var b strings.Builder
	b.WriteString(StartMarker + "\n")
	if len(entries) == 0 {
		b.WriteString(EmptySentinel + "\n")
	}
	for _, e := range entries {
		b.WriteString(e.Line() + "\n")
	}
	b.WriteString(EndMarker)
	return b.String()
}

// Patch places region into doc. It replaces an existing marked region,
// else a start marker whose end marker was lost, else the empty-state
// sentinel, else inserts right after the section header, else appends a new
// section. Existing text outside the region is never dropped.
func Patch(doc, region string) string {
	if start, end, ok := markedRegion(doc); ok {
		return doc[:start] + region + doc[end:]
	}
	if start := strings.Index(doc, StartMarker); start >= 0 {
		// end marker lost; replace the start marker alone
		return doc[:start] + region + doc[start+len(StartMarker):]
	}
	if i := strings.Index(doc, EmptySentinel); i >= 0 {
		return doc[:i] + region + doc[i+len(EmptySentinel):]
	}
	if i := headerLineEnd(doc); i >= 0 {
		return doc[:i] + "\n" + region + doc[i:]
	}
	if doc != "" && !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	return doc + "\n" + SectionHeader + "\n\n" + region + "\n"
}

// headerLineEnd returns the offset of the line break ending the section
// header line (len(doc) when the header is the last line), or -1.
// markedRegion finds the first end marker preceded by a start marker and
// pairs it with the closest start marker before it.
func markedRegion(doc string) (start, end int, ok bool) {
	offset := 0
	for {
		i := strings.Index(doc[offset:], EndMarker)
		if i < 0 {
			return 0, 0, false
		}
		i += offset
		if s := strings.LastIndex(doc[:i], StartMarker); s >= 0 {
			return s, i + len(EndMarker), true
		}
		offset = i + len(EndMarker)
	}
}

func headerLineEnd(doc string) int {
	offset := 0
	for _, line := range strings.SplitAfter(doc, "\n") {
		if strings.TrimSpace(line) == SectionHeader {
			return offset + len(strings.TrimRight(line, "\r\n"))
		}
		offset += len(line)
	}
	return -1
}

func newest(entries []Entry, limit int) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsID(entries []Entry, id uuid.UUID) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}
