package file

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	appDirPerm  os.FileMode = 0o750
	appFilePerm os.FileMode = 0o644
)

// maxNameAttempts bounds the suffix search in CreateUnique.
const maxNameAttempts = 10000

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned vault dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// WriteAtomic writes data to filename via a temporary file in the same
// directory followed by a rename, so readers never observe a partial file.
func WriteAtomic(filename string, data []byte) error {
	if filename == "" {
		return errors.New("empty filename")
	}

	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	// ensure data hits disk
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, appFilePerm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}

	if err := os.Rename(tmpName, filename); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// CreateUnique reserves a new file in dir named after name. While the name is
// taken, an incrementing suffix is inserted before the extension
// (report.pdf, report_1.pdf, report_2.pdf, ...). The reservation uses O_EXCL,
// so two processes can never end up with the same path.
func CreateUnique(dir, name string) (*os.File, string, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, "", err
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		fullPath := filepath.Join(dir, candidate)
		f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, appFilePerm) //nolint:gosec // path built from vault dir
		if err == nil {
			return f, fullPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", candidate, err)
		}
		candidate = stem + "_" + strconv.Itoa(attempt) + ext
	}
	return nil, "", fmt.Errorf("no free name for %s in %s", name, dir)
}

// CopyResult describes a file copied by CopyUnique.
type CopyResult struct {
	Path string
	Size int64
	Hash string
}

// CopyUnique copies src into dir under a collision-free name derived from the
// source's base name. The SHA-256 of the bytes actually written is returned,
// which may differ from a hash taken earlier if the source changed meanwhile.
func CopyUnique(src, dir string) (CopyResult, error) {
	in, err := os.Open(src) //nolint:gosec // drop folder path is operator supplied
	if err != nil {
		return CopyResult{}, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, destPath, err := CreateUnique(dir, filepath.Base(src))
	if err != nil {
		return CopyResult{}, err
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), in)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return CopyResult{}, fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return CopyResult{}, fmt.Errorf("sync copy: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(destPath)
		return CopyResult{}, fmt.Errorf("close copy: %w", err)
	}
	return CopyResult{Path: destPath, Size: size, Hash: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// HashFile returns the hex SHA-256 of the file contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // caller controls path
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// AppendLine appends line plus a trailing newline to filename in a single
// write while holding an exclusive advisory lock on the file, so concurrent
// writers in other processes never interleave partial records.
func AppendLine(filename, line string) error {
	if filename == "" {
		return errors.New("empty filename")
	}
	if err := EnsureDir(filepath.Dir(filename)); err != nil {
		return err
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, appFilePerm) //nolint:gosec // app-owned file
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer func() { _ = unlockFile(f) }()

	record := strings.TrimRight(line, "\n") + "\n"
	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// AppendText appends text to an existing file. Unlike AppendLine the file
// must already exist.
func AppendText(filename, text string) error {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND, appFilePerm) //nolint:gosec // app-owned file
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// WriteExclusive publishes data at filename only if nothing exists there yet.
// The content is written to a temporary file first and then hard-linked into
// place, so the document appears complete or not at all. When filename is
// taken the returned error wraps os.ErrExist.
func WriteExclusive(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, appFilePerm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Link(tmpName, filename); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(filename), err)
	}
	return nil
}

// RenameNoReplace moves src to dst in one step unless dst already exists.
// When it does, src is left in place and the returned error wraps
// os.ErrExist.
func RenameNoReplace(src, dst string) error {
	if err := renameNoReplace(src, dst); err != nil {
		return fmt.Errorf("rename to %s: %w", filepath.Base(dst), err)
	}
	return nil
}

// linkRename publishes src at dst with a hard link, which fails when dst
// exists, then drops the old name.
func linkRename(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
