// Package activity keeps the append-only daily audit log under Logs/. All
// appends from one process go through a single writer goroutine; appends
// from different processes are serialised by an exclusive file lock.
package activity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "taskvault/internal/file"
)

// DayLayout names the daily log files.
const DayLayout = "2006-01-02"

const (
	fileExt        = ".json"
	maxRecordSize  = 1 << 20
	maxDetailsSize = 64 << 10
	truncatedMark  = " [truncated]"
)

var ErrClosed = errors.New("activity log closed")

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one line of the daily log.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Status    Status    `json:"status"`
}

type appendRequest struct {
	entry  Entry
	result chan error
}

// Option customizes a Log.
type Option func(*Log)

// WithClock overrides the clock used to stamp entries without a timestamp.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		l.now = clock
	}
}

// Log is the daily activity log rooted at a directory.
type Log struct {
	dir string
	now func() time.Time

	requests  chan appendRequest
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open ensures dir exists and starts the writer.
func Open(dir string, opts ...Option) (*Log, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	l := &Log{
		dir:      dir,
		now:      time.Now,
		requests: make(chan appendRequest),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.writer()
	return l, nil
}

// Dir returns the directory holding the daily files.
func (l *Log) Dir() string { return l.dir }

// Path returns the file holding entries for day.
func (l *Log) Path(day time.Time) string {
	return filepath.Join(l.dir, day.Format(DayLayout)+fileExt)
}

// Append writes entry and waits until it is on disk.
func (l *Log) Append(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	req := appendRequest{entry: entry, result: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.result
}

// Record is Append for the common case.
func (l *Log) Record(ctx context.Context, action, details string, status Status) error {
	return l.Append(ctx, Entry{Action: action, Details: details, Status: status})
}

// Close stops the writer after in-flight appends complete.
func (l *Log) Close() error {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
	return nil
}

func (l *Log) writer() {
	defer close(l.done)
	for {
		select {
		case req := <-l.requests:
			req.result <- l.write(req.entry)
		case <-l.quit:
			return
		}
	}
}

func (l *Log) write(entry Entry) error {
	entry.Details = truncate(entry.Details, maxDetailsSize)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	if err := fileutil.AppendLine(l.Path(entry.Timestamp), string(data)); err != nil {
		log.Error().Err(err).Str("action", entry.Action).Msg("activity append failed")
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// Read returns the entries logged on day in file order. Malformed and
// oversized lines are skipped; a day without a file has no entries.
func (l *Log) Read(day time.Time) ([]Entry, error) {
	f, err := os.Open(l.Path(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open activity: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	reader := bufio.NewReader(f)
	for {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case len(line) > maxRecordSize:
			log.Warn().Str("file", f.Name()).Int("bytes", len(line)).Msg("skipping oversized activity line")
		default:
			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				log.Warn().Str("file", f.Name()).Err(err).Msg("skipping malformed activity line")
				break
			}
			entries = append(entries, entry)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return entries, nil
			}
			return entries, fmt.Errorf("read activity: %w", readErr)
		}
	}
}

// truncate keeps the head of s within limit bytes, cut on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + truncatedMark
}
