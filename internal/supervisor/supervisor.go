// Package supervisor implements the pipeline supervisor: the long-running
// process that validates a task graph, forks one subprocess per task,
// stages new inputs through the staging chain, harvests completed work,
// and shuts the whole fleet down gracefully on signal or idle timeout.
// Grounded on an orchestrator shape of sequential stage execution with
// per-stage logging, progress reporting, and cleanup-on-error, generalized
// from "one proxy's pipeline run" to "the supervisor's perpetual tick loop",
// and on a signal-handling shape of signal.Notify plus a goroutine
// cancelling a context.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jmylchreest/tigerflow/internal/atomicfile"
	"github.com/jmylchreest/tigerflow/internal/cluster"
	"github.com/jmylchreest/tigerflow/internal/lock"
	"github.com/jmylchreest/tigerflow/internal/staging"
	"github.com/jmylchreest/tigerflow/internal/taskgraph"
	"github.com/jmylchreest/tigerflow/internal/tferrors"
)

const (
	symlinksDirName = ".symlinks"
	finishedDirName = ".finished"
	logsDirName     = "logs"
	pidFileName     = "run.pid"

	// graphFileName is a copy of the run's task-graph config, kept inside
	// .tigerflow so the status/stop tooling can reload it without being
	// handed the original config path.
	graphFileName = "graph.yaml"
)

// Config parameterizes one supervisor run.
type Config struct {
	// WorkspaceRoot is <output_root>: the directory under which .tigerflow/
	// and (for keep_output tasks) user-visible copies live.
	WorkspaceRoot string
	// InputDir is where root-task input files first appear.
	InputDir string

	Graph        *taskgraph.Graph
	StagingChain *staging.Chain

	// TaskBinary is the executable each task subprocess runs (typically
	// the tigerflow-taskrun binary's own path).
	TaskBinary string
	// ConfigPath is the task-graph YAML file, re-read by each task
	// subprocess to resolve its own configuration.
	ConfigPath string

	TickInterval      time.Duration // default 10s
	ValidationTimeout time.Duration // bounds the startup launch-target probe; default 60s
	IdleTimeout       time.Duration // 0 disables

	DeleteInput bool

	Log *slog.Logger
}

// taskProc tracks one task's subprocess.
type taskProc struct {
	task *taskgraph.Task
	cmd  *exec.Cmd
	dead bool
}

// Supervisor drives one pipeline run end to end.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	tigerflowDir string
	pidPath      string

	procs      map[string]*taskProc
	knownStems map[string]struct{}
	taskAlive  map[string]bool
	knownErrs  map[string]map[string]struct{}

	mu           sync.Mutex
	lastActivity time.Time
	idleTimer    *time.Timer
}

// New constructs a Supervisor. Defaults TickInterval to 10s and
// ValidationTimeout to 60s when unset.
func New(cfg Config) *Supervisor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Second
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = 60 * time.Second
	}
	return &Supervisor{
		cfg:          cfg,
		log:          cfg.Log,
		tigerflowDir: filepath.Join(cfg.WorkspaceRoot, ".tigerflow"),
		pidPath:      filepath.Join(cfg.WorkspaceRoot, ".tigerflow", pidFileName),
		procs:        make(map[string]*taskProc),
		knownStems:   make(map[string]struct{}),
		taskAlive:    make(map[string]bool),
		knownErrs:    make(map[string]map[string]struct{}),
	}
}

// Run executes the full startup sequence, the main loop, and the shutdown
// sequence, returning the process exit code.
func (s *Supervisor) Run(ctx context.Context) (exitCode int, err error) {
	if err := s.startup(); err != nil {
		return 1, err
	}
	defer s.releaseLock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signum := s.installSignalHandlers(cancel)

	idleTimer, stopIdle := s.armIdleTimeout(cancel)
	defer stopIdle()
	_ = idleTimer

	s.mainLoop(runCtx)

	s.shutdownTasks()

	if sig := signum.Load(); sig != 0 {
		return 128 + int(sig), nil
	}
	return 0, nil
}

// startup runs the startup sequence.
func (s *Supervisor) startup() error {
	// Step 1: resolve directories.
	for _, dir := range []string{
		filepath.Join(s.tigerflowDir, symlinksDirName),
		filepath.Join(s.tigerflowDir, finishedDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("supervisor: creating %s: %w", dir, err)
		}
	}
	for _, t := range s.cfg.Graph.Order() {
		for _, dir := range []string{
			filepath.Join(s.tigerflowDir, t.Name),
			filepath.Join(s.tigerflowDir, t.Name, logsDirName),
		} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("supervisor: creating %s: %w", dir, err)
			}
		}
	}

	// Step 2: acquire single-instance lock.
	acquired, err := lock.Acquire(s.pidPath)
	if err != nil {
		return fmt.Errorf("supervisor: acquiring lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: pipeline already running", tferrors.ErrAlreadyRunning)
	}

	// Step 3 (config already loaded/validated by the caller into s.cfg.Graph).
	if err := s.snapshotGraphConfig(); err != nil {
		s.log.Warn("saving task graph snapshot failed", slog.Any("error", err))
	}

	// Step 4: validate each task's launch target with a help probe.
	for _, t := range s.cfg.Graph.Order() {
		if err := s.probeTask(t); err != nil {
			s.releaseLock()
			return fmt.Errorf("supervisor: validating task %q: %w", t.Name, err)
		}
	}

	// Step 5: optionally delete inputs already marked finished.
	if s.cfg.DeleteInput {
		if err := s.deleteFinishedInputs(); err != nil {
			s.log.Warn("deleting finished inputs failed", slog.Any("error", err))
		}
	}

	// Step 6: sweep residue.
	if err := s.sweepSymlinks(); err != nil {
		s.log.Warn("sweeping symlinks failed", slog.Any("error", err))
	}
	for _, t := range s.cfg.Graph.Order() {
		if err := atomicfile.RemoveResidue(filepath.Join(s.tigerflowDir, t.Name)); err != nil {
			s.log.Warn("sweeping task residue failed", slog.String("task", t.Name), slog.Any("error", err))
		}
		if _, err := removeExtensionlessResidue(filepath.Join(s.tigerflowDir, t.Name), t.OutputExt); err != nil {
			s.log.Warn("sweeping task output residue failed", slog.String("task", t.Name), slog.Any("error", err))
		}
	}

	// Step 7: known_stems from .symlinks/ ∪ .finished/.
	if err := s.loadKnownStems(); err != nil {
		return fmt.Errorf("supervisor: loading known stems: %w", err)
	}

	// Step 8: start each task in topological order.
	for _, t := range s.cfg.Graph.Order() {
		if err := s.startTask(t); err != nil {
			return fmt.Errorf("supervisor: starting task %q: %w", t.Name, err)
		}
	}

	s.lastActivity = now()
	return nil
}

// snapshotGraphConfig copies ConfigPath into .tigerflow/graph.yaml so that a
// separate status/stop invocation can reload the task graph by output
// directory alone, matching the description of external
// status/stop tooling.
func (s *Supervisor) snapshotGraphConfig() error {
	data, err := os.ReadFile(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return atomicfile.WriteBytes(filepath.Join(s.tigerflowDir, graphFileName), data)
}

// releaseLock removes the PID file, logging (not failing) on error since
// it only ever runs during shutdown.
func (s *Supervisor) releaseLock() {
	if err := lock.Release(s.pidPath); err != nil {
		s.log.Warn("releasing lock failed", slog.Any("error", err))
	}
}

// probeTask resolves task t's own launch target — its library or module
// script — by invoking the task subprocess binary against t in "--probe"
// mode: it loads the same config and task name the real subprocess would,
// resolves the run function, and exits without starting the runtime.
// Bounded by s.cfg.ValidationTimeout so a hung or missing launch target is
// caught as a fatal configuration error before any task is started.
func (s *Supervisor) probeTask(t *taskgraph.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ValidationTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cfg.TaskBinary,
		"--config", s.cfg.ConfigPath,
		"--task", t.Name,
		"--workspace", s.cfg.WorkspaceRoot,
		"--probe",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("launch target probe for task %q failed: %w: %s", t.Name, err, out)
	}
	return nil
}

func (s *Supervisor) startTask(t *taskgraph.Task) error {
	script := s.renderTaskScript(t)
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.Dir = s.cfg.WorkspaceRoot

	logPath := filepath.Join(s.tigerflowDir, t.Name, logsDirName, t.Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("starting subprocess: %w", err)
	}

	proc := &taskProc{task: t, cmd: cmd}
	s.procs[t.Name] = proc

	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		proc.dead = true
		s.mu.Unlock()
		logFile.Close()
	}()

	return nil
}

// renderTaskScript composes the subprocess command line for t, reusing the
// same local-composition rule as internal/cluster.RenderLocal (setup
// commands joined by ";"), since a task subprocess's launch line and a
// cluster job's "run-directly" invocation share the same grammar.
func (s *Supervisor) renderTaskScript(t *taskgraph.Task) string {
	runCmd := fmt.Sprintf(
		"%s --config %s --task %s --workspace %s",
		quoteArg(s.cfg.TaskBinary), quoteArg(s.cfg.ConfigPath), quoteArg(t.Name), quoteArg(s.cfg.WorkspaceRoot),
	)
	return cluster.RenderLocal(cluster.ScriptParams{
		SetupCommands: t.SetupCommands,
		RunCommand:    runCmd,
	})
}

// GraphConfigPath returns the path status/stop tooling should load the
// task graph from for a given workspace root.
func GraphConfigPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".tigerflow", graphFileName)
}

// PIDPath returns the path status/stop tooling should read the
// supervisor's PID from for a given workspace root.
func PIDPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".tigerflow", pidFileName)
}

func quoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func removeExtensionlessResidue(dir, outputExt string) (int, error) {
	_ = outputExt
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == "" {
			if rerr := os.Remove(filepath.Join(dir, entry.Name())); rerr == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func now() time.Time { return time.Now() }
