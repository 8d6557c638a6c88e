package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/tigerflow/internal/atomicfile"
	"github.com/jmylchreest/tigerflow/internal/progress"
	"github.com/jmylchreest/tigerflow/internal/staging"
)

// mainLoop runs the five-step tick, repeating until ctx is
// cancelled (by signal, idle timeout, or the caller).
func (s *Supervisor) mainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		s.refreshLiveness()
		s.stageNewFiles(ctx)
		s.failureScan()
		s.harvestCompletions()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refreshLiveness queries each task's subprocess state and logs
// alive-to-dead transitions. Every variant forks a subprocess (cluster
// tasks manage their own job submission from inside it), so liveness is
// just the subprocess's own Wait() outcome.
func (s *Supervisor) refreshLiveness() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, proc := range s.procs {
		alive := !proc.dead
		prev, seen := s.taskAlive[name]
		s.taskAlive[name] = alive
		if seen && prev && !alive {
			s.log.Error("task process exited", slog.String("task", name))
		}
	}
}

// stageNewFiles implements step 2: enumerate unclaimed root-extension
// inputs, run them through the staging chain, and symlink every survivor
// into .symlinks/.
func (s *Supervisor) stageNewFiles(ctx context.Context) {
	rootExt := s.cfg.Graph.RootExt()

	entries, err := os.ReadDir(s.cfg.InputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("scanning input directory failed", slog.Any("error", err))
		}
		return
	}

	var candidates []staging.Candidate
	s.mu.Lock()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, rootExt) {
			continue
		}
		if _, known := s.knownStems[name]; known {
			continue
		}
		info, ierr := entry.Info()
		if ierr != nil {
			continue
		}
		candidates = append(candidates, staging.Candidate{
			Path:    filepath.Join(s.cfg.InputDir, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	s.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	survivors := s.cfg.StagingChain.Run(ctx, s.snapshot(), candidates)
	if len(survivors) == 0 {
		return
	}

	symlinksDir := filepath.Join(s.tigerflowDir, symlinksDirName)
	for _, c := range survivors {
		absSrc, aerr := filepath.Abs(c.Path)
		if aerr != nil {
			s.log.Error("resolving staged input path failed", slog.String("file", c.Name), slog.Any("error", aerr))
			continue
		}
		linkPath := filepath.Join(symlinksDir, c.Name)
		if lerr := os.Symlink(absSrc, linkPath); lerr != nil {
			s.log.Error("staging symlink failed", slog.String("file", c.Name), slog.Any("error", lerr))
			continue
		}
		s.mu.Lock()
		s.knownStems[c.Name] = struct{}{}
		s.mu.Unlock()
		s.recordActivity()
	}
}

// snapshot builds the read-only pipeline-state view the staging chain
// consults, reusing the progress reporter's own directory scan rather than
// tracking duplicate counters.
func (s *Supervisor) snapshot() staging.Snapshot {
	report, err := progress.Snapshot(s.cfg.WorkspaceRoot, s.cfg.Graph)
	if err != nil {
		return staging.Snapshot{InputDir: s.cfg.InputDir, OutputDir: s.tigerflowDir}
	}
	return staging.Snapshot{
		Staged:    report.Staged,
		Completed: report.Finished,
		Failed:    report.Failed,
		InputDir:  s.cfg.InputDir,
		OutputDir: s.tigerflowDir,
	}
}

// failureScan implements step 3: count each task's new ".err" markers
// since the last tick and emit one summary log line per task that produced
// any.
func (s *Supervisor) failureScan() {
	for _, t := range s.cfg.Graph.Order() {
		dir := filepath.Join(s.tigerflowDir, t.Name)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		seen := s.knownErrs[t.Name]
		if seen == nil {
			seen = make(map[string]struct{})
			s.knownErrs[t.Name] = seen
		}

		newCount := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !strings.HasSuffix(name, ".err") {
				continue
			}
			if _, already := seen[name]; already {
				continue
			}
			seen[name] = struct{}{}
			newCount++
		}
		if newCount > 0 {
			s.log.Error("task failures detected", slog.String("task", t.Name), slog.Int("count", newCount))
		}
	}
}

// harvestCompletions implements step 4: a stem is complete once every
// terminal task has produced its output; completed stems are promoted or
// discarded per keep_output, the staging symlink and (optionally) the
// original input are removed, and a .finished marker is written.
func (s *Supervisor) harvestCompletions() {
	terminals := s.cfg.Graph.Terminals()
	if len(terminals) == 0 {
		return
	}

	var stemSets []map[string]struct{}
	for _, t := range terminals {
		dir := filepath.Join(s.tigerflowDir, t.Name)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		set := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasSuffix(name, t.OutputExt) {
				set[strings.TrimSuffix(name, t.OutputExt)] = struct{}{}
			}
		}
		stemSets = append(stemSets, set)
	}

	common := stemSets[0]
	for _, set := range stemSets[1:] {
		for stem := range common {
			if _, ok := set[stem]; !ok {
				delete(common, stem)
			}
		}
	}
	if len(common) == 0 {
		return
	}

	rootExt := s.cfg.Graph.RootExt()
	for stem := range common {
		s.harvestStem(stem, rootExt)
		s.recordActivity()
	}
}

// harvestStem runs the promote-or-delete/marker sequence for one completed
// stem across every task in the pipeline, not just the terminals.
func (s *Supervisor) harvestStem(stem, rootExt string) {
	for _, t := range s.cfg.Graph.Order() {
		src := filepath.Join(s.tigerflowDir, t.Name, stem+t.OutputExt)
		if t.KeepOutput {
			destDir := filepath.Join(s.cfg.WorkspaceRoot, t.Name)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				s.log.Error("creating keep-output directory failed",
					slog.String("task", t.Name), slog.Any("error", err))
				continue
			}
			dest := filepath.Join(destDir, stem+t.OutputExt)
			if err := os.Rename(src, dest); err != nil && !os.IsNotExist(err) {
				s.log.Error("preserving task output failed",
					slog.String("task", t.Name), slog.String("stem", stem), slog.Any("error", err))
			}
			continue
		}
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			s.log.Error("removing intermediate output failed",
				slog.String("task", t.Name), slog.String("stem", stem), slog.Any("error", err))
		}
	}

	symlinkPath := filepath.Join(s.tigerflowDir, symlinksDirName, stem+rootExt)
	if err := os.Remove(symlinkPath); err != nil && !os.IsNotExist(err) {
		s.log.Error("removing staging symlink failed", slog.String("stem", stem), slog.Any("error", err))
	}

	if s.cfg.DeleteInput {
		inputPath := filepath.Join(s.cfg.InputDir, stem+rootExt)
		if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("deleting original input failed", slog.String("stem", stem), slog.Any("error", err))
		}
	}

	markerPath := filepath.Join(s.tigerflowDir, finishedDirName, stem+rootExt)
	if err := atomicfile.WriteBytes(markerPath, nil); err != nil {
		s.log.Error("writing finished marker failed", slog.String("stem", stem), slog.Any("error", err))
	}
}
