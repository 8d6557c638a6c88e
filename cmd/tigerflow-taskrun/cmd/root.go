// Package cmd implements the CLI for tigerflow-taskrun: the process every
// task subprocess actually execs, resolving a named task from the graph
// config and driving it either as a long-running directory-scan daemon
// (local variants) or as a single run-directly invocation against one
// input/output pair (cluster-submitted jobs).
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tigerflow/internal/config"
	"github.com/jmylchreest/tigerflow/internal/observability"
	"github.com/jmylchreest/tigerflow/internal/version"
)

var (
	flagConfig    string
	flagTask      string
	flagWorkspace string
	flagInput     string
	flagOutput    string
	flagLogLevel  string
	flagLogFormat string
	flagProbe     bool
)

var rootCmd = &cobra.Command{
	Use:     "tigerflow-taskrun",
	Short:   "Run one tigerflow task, either as a daemon or a single invocation",
	Version: version.Short(),
	Long: `tigerflow-taskrun is the process every pipeline task subprocess actually
execs. The supervisor launches it once per local-variant task as a
long-running directory-scan daemon; a cluster-variant task's own
subprocess launches it again, per submitted job, in "run-directly" mode
against exactly one input/output pair.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
	RunE: runTask,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "json", "log format (text, json)")

	rootCmd.Flags().StringVar(&flagConfig, "config", "", "task graph config file")
	rootCmd.Flags().StringVar(&flagTask, "task", "", "name of the task to run")
	rootCmd.Flags().StringVar(&flagWorkspace, "workspace", "", "pipeline output root (.tigerflow lives here)")
	rootCmd.Flags().StringVar(&flagInput, "input", "", "run-directly mode: process exactly this input file")
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "run-directly mode: write the result to exactly this path")
	rootCmd.Flags().BoolVar(&flagProbe, "probe", false, "resolve the task's launch target and exit, without starting the runtime")

	_ = rootCmd.MarkFlagRequired("config")
	_ = rootCmd.MarkFlagRequired("task")
	_ = rootCmd.MarkFlagRequired("workspace")
}

// initLogging configures the slog default logger via the observability
// package's redacting handler, matching the supervisor's own setup.
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(flagLogLevel),
		Format: strings.ToLower(flagLogFormat),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}
	observability.SetDefault(observability.NewLoggerWithWriter(logCfg, os.Stderr))
	return nil
}

// installSignalContext wires SIGTERM/SIGINT into ctx cancellation so the
// daemon mode shuts its runtime down gracefully when the supervisor (or an
// operator, via "tigerflow stop") signals this subprocess.
func installSignalContext() (func(), <-chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-ch
		close(done)
	}()
	return func() { signal.Stop(ch) }, done
}
