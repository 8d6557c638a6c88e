package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tigerflow/internal/config"
	"github.com/jmylchreest/tigerflow/internal/staging"
	"github.com/jmylchreest/tigerflow/internal/supervisor"
	"github.com/jmylchreest/tigerflow/internal/taskgraph"
)

var (
	runBackground  bool
	runIdleTimeout string
	runDeleteInput bool
)

var runCmd = &cobra.Command{
	Use:   "run <config> <input_dir> <output_dir>",
	Short: "Start the pipeline supervisor",
	Long: `Validate the task graph at <config>, then launch one subprocess per
task and supervise the pipeline: staging inputs dropped into <input_dir>,
routing them through the task tree, and harvesting completed work under
<output_dir>.`,
	Args: cobra.ExactArgs(3),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVarP(&runBackground, "background", "b", false, "detach and run the supervisor in the background")
	runCmd.Flags().StringVar(&runIdleTimeout, "idle-timeout", "", "shut down after this long with no pipeline activity (e.g. 10m); overrides the configured default")
	runCmd.Flags().BoolVar(&runDeleteInput, "delete-input", false, "delete original input files once their stem is fully harvested")
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, inputDir, outputDir := args[0], args[1], args[2]

	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	absInput, err := filepath.Abs(inputDir)
	if err != nil {
		return fmt.Errorf("resolving input dir: %w", err)
	}
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("resolving output dir: %w", err)
	}

	if runBackground {
		return launchBackground(absConfig, absInput, absOutput)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	graph, err := taskgraph.Load(absConfig)
	if err != nil {
		return fmt.Errorf("loading task graph: %w", err)
	}

	log := slog.Default()

	chain, err := staging.Build(graph.Staging, log, nil)
	if err != nil {
		return fmt.Errorf("building staging chain: %w", err)
	}

	taskBinary, err := resolveTaskBinary()
	if err != nil {
		return err
	}

	idleTimeout := cfg.Runtime.IdleTimeout.Duration()
	if runIdleTimeout != "" {
		d, err := config.ParseDuration(runIdleTimeout)
		if err != nil {
			return fmt.Errorf("parsing --idle-timeout: %w", err)
		}
		idleTimeout = d.Duration()
	}

	sup := supervisor.New(supervisor.Config{
		WorkspaceRoot:     absOutput,
		InputDir:          absInput,
		Graph:             graph,
		StagingChain:      chain,
		TaskBinary:        taskBinary,
		ConfigPath:        absConfig,
		TickInterval:      cfg.Runtime.TickInterval.Duration(),
		ValidationTimeout: cfg.Runtime.ValidationTimeout.Duration(),
		IdleTimeout:       idleTimeout,
		DeleteInput:       runDeleteInput,
		Log:               log,
	})

	exitCode, err := sup.Run(cmd.Context())
	if err != nil {
		return err
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// resolveTaskBinary locates the tigerflow-taskrun binary the supervisor
// execs for every task subprocess: first as a sibling of this executable,
// falling back to a PATH lookup.
func resolveTaskBinary() (string, error) {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "tigerflow-taskrun")
		if _, serr := os.Stat(sibling); serr == nil {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("tigerflow-taskrun")
	if err != nil {
		return "", fmt.Errorf("locating tigerflow-taskrun binary: %w", err)
	}
	return path, nil
}

// launchBackground re-execs the current process with --background dropped,
// detached into its own session with output redirected to a log file under
// the workspace, and returns immediately once the child has been started.
func launchBackground(configPath, inputDir, outputDir string) error {
	if err := os.MkdirAll(filepath.Join(outputDir, ".tigerflow"), 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	logPath := filepath.Join(outputDir, ".tigerflow", "run.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening supervisor log: %w", err)
	}
	defer logFile.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable: %w", err)
	}

	childArgs := []string{"run", configPath, inputDir, outputDir}
	if runIdleTimeout != "" {
		childArgs = append(childArgs, "--idle-timeout", runIdleTimeout)
	}
	if runDeleteInput {
		childArgs = append(childArgs, "--delete-input")
	}

	child := exec.Command(self, childArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting background supervisor: %w", err)
	}

	fmt.Fprintf(os.Stdout, "tigerflow supervisor started in background, pid %d\n", child.Process.Pid)
	return child.Process.Release()
}
