package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tigerflow/internal/atomicfile"
	"github.com/jmylchreest/tigerflow/internal/cluster"
	"github.com/jmylchreest/tigerflow/internal/registry"
	"github.com/jmylchreest/tigerflow/internal/taskgraph"
	"github.com/jmylchreest/tigerflow/internal/taskrun"
	"github.com/jmylchreest/tigerflow/internal/tferrors"
	"github.com/jmylchreest/tigerflow/pkg/bytesize"
	"github.com/jmylchreest/tigerflow/pkg/duration"
)

// defaultPollInterval matches the task runtime's own per-scan poll default.
const defaultPollInterval = 3 * time.Second

// defaultScaleInterval is how often a cluster task re-evaluates its
// autoscale ceiling when the task config omits cluster.scale_interval.
const defaultScaleInterval = 30 * time.Second

func runTask(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	graph, err := taskgraph.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading task graph: %w", err)
	}

	t, ok := graph.ByName(flagTask)
	if !ok {
		return fmt.Errorf("%w: %q", tferrors.ErrTaskNotFound, flagTask)
	}

	runFn, err := resolveRunFunc(t)
	if err != nil {
		return fmt.Errorf("resolving task %q launch target: %w", t.Name, err)
	}

	if flagProbe {
		return probeRunFunc(cmd.Context(), t, runFn)
	}

	if flagInput != "" || flagOutput != "" {
		if flagInput == "" || flagOutput == "" {
			return fmt.Errorf("--input and --output must be given together (run-directly mode)")
		}
		return runDirectly(cmd.Context(), runFn, flagInput, flagOutput)
	}

	return runDaemon(cmd.Context(), t, runFn, log)
}

// resolveRunFunc builds the task's callback from its graph definition:
// a library task resolves to a registered built-in; a module task execs
// the named local script, handing it the input/output paths as arguments.
func resolveRunFunc(t *taskgraph.Task) (taskrun.RunFunc, error) {
	if t.Library != "" {
		reg, ok := registry.Lookup(t.Library)
		if !ok {
			return nil, fmt.Errorf("%w: library %q", tferrors.ErrTaskNotFound, t.Library)
		}
		return reg.New(t.Params)
	}

	modulePath := t.Module
	return func(ctx context.Context, uc *taskrun.UserContext, inputPath, outputPath string) error {
		c := exec.CommandContext(ctx, modulePath, inputPath, outputPath)
		out, err := c.CombinedOutput()
		if err != nil {
			return fmt.Errorf("module %s: %w: %s", modulePath, err, out)
		}
		return nil
	}, nil
}

// probeRunFunc implements the supervisor's startup launch-target probe: a
// library task is already proven resolvable by resolveRunFunc's registry
// lookup above, so there is nothing further to invoke. A module task's
// backing script is additionally invoked with "--help" and must exit
// non-error within the context's deadline, matching the conventional
// exit-0 help contract user scripts are expected to support.
func probeRunFunc(ctx context.Context, t *taskgraph.Task, _ taskrun.RunFunc) error {
	if t.Module == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, t.Module, "--help")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("module %s --help: %w: %s", t.Module, err, out)
	}
	return nil
}

// runDirectly handles the cluster run-directly mode (--input/--output): process
// exactly one input/output pair and exit, writing the result atomically
// but leaving failure reporting to the submitting side's own job-status
// poll (internal/taskrun.Cluster writes the ".err" marker once the
// scheduler reports the job as failed).
func runDirectly(ctx context.Context, runFn taskrun.RunFunc, inputPath, outputPath string) error {
	uc := taskrun.NewUserContext()
	uc.Freeze()

	staged, err := atomicfile.Stage(outputPath)
	if err != nil {
		return fmt.Errorf("staging output: %w", err)
	}
	if err := runFn(ctx, uc, inputPath, staged.TmpPath); err != nil {
		_ = staged.Abort()
		return err
	}
	return staged.Commit()
}

// runDaemon drives the task as a long-running directory-scan runtime, the
// mode the supervisor launches for every local-variant task. It blocks
// until a shutdown signal arrives, then cancels the runtime and waits for
// teardown to finish.
func runDaemon(ctx context.Context, t *taskgraph.Task, runFn taskrun.RunFunc, log *slog.Logger) error {
	inputDir := filepath.Join(flagWorkspace, ".tigerflow", ".symlinks")
	if t.Parent != nil {
		inputDir = filepath.Join(flagWorkspace, ".tigerflow", t.Parent.Name)
	}
	outputDir := filepath.Join(flagWorkspace, ".tigerflow", t.Name)

	cfg := taskrun.Config{
		TaskName:  t.Name,
		InputDir:  inputDir,
		OutputDir: outputDir,
		InputExt:  t.InputExt,
		OutputExt: t.OutputExt,
		Run:       runFn,
	}

	rt, err := buildRuntime(t, cfg, log)
	if err != nil {
		return err
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("starting task runtime: %w", err)
	}

	stopSignals, done := installSignalContext()
	defer stopSignals()

	select {
	case <-done:
	case <-ctx.Done():
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return rt.Cancel(cancelCtx)
}

// parsePollInterval parses a task's optional per-task poll_interval
// override, falling back to defaultPollInterval when unset or invalid.
func parsePollInterval(s string) time.Duration {
	if s == "" {
		return defaultPollInterval
	}
	d, err := duration.Parse(s)
	if err != nil {
		return defaultPollInterval
	}
	return d
}

// parseScaleInterval parses a cluster task's optional scale_interval
// override, falling back to defaultScaleInterval when unset or invalid.
func parseScaleInterval(s string) time.Duration {
	if s == "" {
		return defaultScaleInterval
	}
	d, err := duration.Parse(s)
	if err != nil {
		return defaultScaleInterval
	}
	return d
}

// selfPath resolves the path to this running tigerflow-taskrun executable,
// for the cluster variant's run-directly re-invocation script.
func selfPath() string {
	p, err := os.Executable()
	if err != nil {
		return "tigerflow-taskrun"
	}
	return p
}

// quoteArg single-quotes s for safe inclusion in a shell command line.
func quoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildRuntime picks the Runtime implementation matching t.Variant. Cluster
// tasks build their own cluster.Client here — the supervisor only ever
// forks a local subprocess per task, and a cluster-variant task's own
// subprocess is the thing that opens the scheduler connection and fans
// per-file work out to it.
func buildRuntime(t *taskgraph.Task, cfg taskrun.Config, log *slog.Logger) (taskrun.Runtime, error) {
	pollInterval := parsePollInterval(t.PollInterval)

	switch t.Variant {
	case taskgraph.VariantConcurrent:
		return taskrun.NewConcurrent(cfg, t.Workers, pollInterval, log), nil

	case taskgraph.VariantCluster:
		client := cluster.New(&cluster.SlurmBackend{SbatchOptions: t.Cluster.SbatchOptions})
		ccfg := taskrun.ClusterConfig{
			MaxWorkers:        t.Cluster.MaxWorkers,
			ScaleInterval:     parseScaleInterval(t.Cluster.ScaleInterval),
			IdleScaleDownWait: t.Cluster.IdleThreshold,
			RenderScript:      clusterScriptFuncFor(t),
		}
		return taskrun.NewCluster(cfg, ccfg, client, pollInterval, log), nil

	default:
		return taskrun.NewSequential(cfg, pollInterval, log), nil
	}
}

// clusterScriptFuncFor renders the per-stem submission script: resource
// directives from the task's cluster descriptor, its setup commands one
// per line, then a run-directly (--input/--output) re-invocation of this same binary
// against the single stem's input/output pair.
func clusterScriptFuncFor(t *taskgraph.Task) taskrun.ClusterScriptFunc {
	return func(stem, inputPath, outputPath string) (string, error) {
		mem, err := bytesize.Parse(t.Cluster.Memory)
		if err != nil {
			return "", fmt.Errorf("cluster memory %q: %w", t.Cluster.Memory, err)
		}
		runCmd := fmt.Sprintf(
			"%s --config %s --task %s --workspace %s --input %s --output %s",
			quoteArg(selfPath()), quoteArg(flagConfig), quoteArg(t.Name), quoteArg(flagWorkspace),
			quoteArg(inputPath), quoteArg(outputPath),
		)
		return cluster.RenderCluster(cluster.ScriptParams{
			Resources: cluster.ClusterResources{
				CPUs:          t.Cluster.CPUs,
				GPUs:          t.Cluster.GPUs,
				MemoryMB:      int(mem / bytesize.MB),
				WallTime:      t.Cluster.WallTime,
				JobName:       t.Name + "-" + stem,
				SbatchOptions: t.Cluster.SbatchOptions,
			},
			SetupCommands: t.SetupCommands,
			RunCommand:    runCmd,
		})
	}
}
