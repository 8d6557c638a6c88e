package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/tigerflow/internal/lock"
	"github.com/jmylchreest/tigerflow/internal/progress"
	"github.com/jmylchreest/tigerflow/internal/supervisor"
	"github.com/jmylchreest/tigerflow/internal/taskgraph"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <output_dir>",
	Short: "Report a pipeline's running state and per-task counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit a JSON object instead of human-readable text")
}

func runStatus(cmd *cobra.Command, args []string) error {
	outputDir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving output dir: %w", err)
	}

	graph, err := taskgraph.Load(supervisor.GraphConfigPath(outputDir))
	if err != nil {
		return fmt.Errorf("loading task graph snapshot: %w", err)
	}

	report, err := progress.Snapshot(outputDir, graph)
	if err != nil {
		return fmt.Errorf("scanning workspace: %w", err)
	}

	pid, ok := lock.ReadPID(supervisor.PIDPath(outputDir))
	running := ok && lock.IsRunning(pid)
	if ok {
		report.PID = pid
	}
	report.Running = running

	if statusJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling report: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printStatusText(report)
	}

	if !running {
		os.Exit(1)
	}
	return nil
}

func printStatusText(r *progress.Report) {
	state := "not running"
	if r.Running {
		state = fmt.Sprintf("running (pid %d)", r.PID)
	}
	fmt.Printf("pipeline: %s\n", state)
	fmt.Printf("staged: %s  finished: %s  failed: %s\n",
		humanize.Comma(int64(r.Staged)), humanize.Comma(int64(r.Finished)), humanize.Comma(int64(r.Failed)))
	for _, t := range r.Tasks {
		fmt.Printf("  %-20s processed=%s ongoing=%s failed=%s\n",
			t.Name, humanize.Comma(int64(t.Processed)), humanize.Comma(int64(t.Ongoing)), humanize.Comma(int64(t.Failed)))
	}
}
