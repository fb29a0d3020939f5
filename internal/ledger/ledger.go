// Package ledger persists admission decisions of the ingestion watcher as
// append-only "hash|original name" lines. Presence of a hash is the only
// dedup signal; entries are never removed.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	fileutil "taskvault/internal/file"
)

// FileName is the ledger's conventional name at the vault root.
const FileName = ".processed_files.txt"

const separator = "|"

// Ledger is the in-memory view of the ledger file, updated as records are appended.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// Open loads the ledger at path. A missing file is an empty ledger;
// malformed lines are skipped.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("empty ledger path")
	}
	l := &Ledger{path: path, entries: make(map[string]string)}
	f, err := os.Open(path) //nolint:gosec // vault-owned file
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	skipped := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		hash, name, ok := strings.Cut(scanner.Text(), separator)
		hash = strings.TrimSpace(hash)
		if !ok || hash == "" {
			skipped++
			continue
		}
		l.entries[hash] = name
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if skipped > 0 {
		log.Warn().Str("path", path).Int("skipped", skipped).Msg("ignored malformed ledger lines")
	}
	return l, nil
}

// Path returns the file backing the ledger.
func (l *Ledger) Path() string { return l.path }

// Contains reports whether hash has already been admitted.
func (l *Ledger) Contains(hash string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[hash]
	return ok
}

// Name returns the original name recorded for hash.
func (l *Ledger) Name(hash string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.entries[hash]
	return name, ok
}

// Len returns the number of admitted hashes.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Record appends hash|name to the ledger file and then to memory. Line
// breaks in name are replaced so one record is always one line.
func (l *Ledger) Record(hash, name string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" || strings.Contains(hash, separator) {
		return fmt.Errorf("invalid ledger hash %q", hash)
	}
	name = strings.NewReplacer("\n", " ", "\r", " ").Replace(name)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := fileutil.AppendLine(l.path, hash+separator+name); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	l.entries[hash] = name
	return nil
}
