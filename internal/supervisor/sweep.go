package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// loadKnownStems populates known_stems from the union
// of names already present under .symlinks/ and .finished/, so a restart
// never re-stages work it has already claimed or finished.
func (s *Supervisor) loadKnownStems() error {
	for _, dirName := range []string{symlinksDirName, finishedDirName} {
		dir := filepath.Join(s.tigerflowDir, dirName)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("supervisor: reading %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			s.knownStems[entry.Name()] = struct{}{}
		}
	}
	return nil
}

// sweepSymlinks implements the residue sweep: remove every
// .symlinks/ entry that is not a symlink, and every symlink whose target no
// longer exists, cascade-deleting any downstream task output for that stem
// since the source it was built from is gone.
func (s *Supervisor) sweepSymlinks() error {
	dir := filepath.Join(s.tigerflowDir, symlinksDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("supervisor: reading %s: %w", dir, err)
	}

	rootExt := s.cfg.Graph.RootExt()
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)

		info, lerr := os.Lstat(path)
		if lerr != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink == 0 {
			_ = os.Remove(path)
			continue
		}
		if _, serr := os.Stat(path); serr != nil {
			_ = os.Remove(path)
			s.cascadeDelete(strings.TrimSuffix(name, rootExt))
		}
	}
	return nil
}

// cascadeDelete removes every task's output and error marker for stem,
// used when the original input a stem was derived from has disappeared.
func (s *Supervisor) cascadeDelete(stem string) {
	for _, t := range s.cfg.Graph.Order() {
		_ = os.Remove(filepath.Join(s.tigerflowDir, t.Name, stem+t.OutputExt))
		_ = os.Remove(filepath.Join(s.tigerflowDir, t.Name, stem+".err"))
	}
}

// deleteFinishedInputs implements the startup sweep: best-effort delete
// of original input files whose name already appears in .finished/.
func (s *Supervisor) deleteFinishedInputs() error {
	dir := filepath.Join(s.tigerflowDir, finishedDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("supervisor: reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(s.cfg.InputDir, entry.Name()))
	}
	return nil
}
