// Package atomicfile provides crash-safe file writes: every write lands in
// a sibling temporary file in the destination's own directory and is only
// made visible via os.Rename, so a reader never observes a partially
// written file and a crash mid-write leaves only an orphaned temp file
// behind rather than a corrupt destination.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Write creates a temporary file alongside path, invokes fn with it, fsyncs
// and closes it, then renames it onto path. If fn returns an error, or any
// step after it fails, the temporary file is removed and the error (or a
// wrapped form of it) is returned; path is left untouched.
func Write(path string, fn func(tmp *os.File) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempName(filepath.Base(path)))
	if err != nil {
		return fmt.Errorf("atomicfile: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if ferr := fn(tmp); ferr != nil {
		return fmt.Errorf("atomicfile: writing %s: %w", path, ferr)
	}

	if ferr := tmp.Sync(); ferr != nil {
		return fmt.Errorf("atomicfile: fsync %s: %w", tmpPath, ferr)
	}

	if ferr := tmp.Close(); ferr != nil {
		return fmt.Errorf("atomicfile: closing %s: %w", tmpPath, ferr)
	}

	if ferr := os.Rename(tmpPath, path); ferr != nil {
		return fmt.Errorf("atomicfile: renaming %s to %s: %w", tmpPath, path, ferr)
	}

	return nil
}

// Staged represents an in-progress atomic write addressed by path rather
// than by an open file handle, for callers (like a task's per-file
// callback) that want to open/write the temp file themselves — e.g. via
// os.WriteFile, or a third-party encoder that only accepts a path.
type Staged struct {
	TmpPath  string
	destPath string
	done     bool
}

// Stage creates the temporary sibling file for path and returns a Staged
// handle around it. The caller must call Commit on success or Abort on
// failure; forgetting either leaks the temp file. Unlike Write, the
// caller owns the temp file's content (it may use any API that accepts a
// path, including one that opens and fsyncs the file itself) — Stage only
// guarantees the rename-on-commit half of the atomicity contract.
func Stage(path string) (*Staged, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempName(filepath.Base(path)))
	if err != nil {
		return nil, fmt.Errorf("atomicfile: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if cerr := tmp.Close(); cerr != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("atomicfile: closing temp file: %w", cerr)
	}
	return &Staged{TmpPath: tmpPath, destPath: path}, nil
}

// Commit renames the temp file onto the destination path, making the
// write visible. It does not fsync the file or its directory.
func (s *Staged) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := os.Rename(s.TmpPath, s.destPath); err != nil {
		return fmt.Errorf("atomicfile: renaming %s to %s: %w", s.TmpPath, s.destPath, err)
	}
	return nil
}

// Abort discards the temp file without touching the destination.
func (s *Staged) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := os.Remove(s.TmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("atomicfile: removing %s: %w", s.TmpPath, err)
	}
	return nil
}

// WriteBytes atomically writes data to path.
func WriteBytes(path string, data []byte) error {
	return Write(path, func(tmp *os.File) error {
		_, err := tmp.Write(data)
		return err
	})
}

// tempName produces a temp-file name pattern with no dot characters at
// all, so filepath.Ext reports "" for every name os.CreateTemp generates
// from it. Directory scanners that key off an extension (staging,
// unprocessed-file detection, progress counting) rely on that to tell a
// file mid-write from a finished one. base's own dots (a destination like
// "stem.out" is common) are replaced rather than carried through, since a
// stray dot anywhere in the name would give it a non-empty extension.
func tempName(base string) string {
	sanitized := strings.NewReplacer(
		".", "_",
		string(filepath.Separator), "_",
	).Replace(base)
	return "tmp-" + sanitized + "-*"
}

// RemoveResidue deletes direct children of dir left behind by an
// interrupted atomicfile.Write (a crash between CreateTemp and Rename).
// It returns the number of files removed. Only extension-less files —
// the pattern tempName produces — are touched.
func RemoveResidue(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("atomicfile: reading %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isResidue(name) {
			if rerr := os.Remove(filepath.Join(dir, name)); rerr == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func isResidue(name string) bool {
	return filepath.Ext(name) == ""
}
