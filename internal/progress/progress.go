// Package progress produces a point-in-time snapshot of a tigerflow
// workspace's state by scanning its filesystem layout — no shared memory
// with a running supervisor, so it is safe to call from a separate status
// process. Grounded on a familiar progress-service shape (aggregation of
// per-stage counters into one reportable structure) and a StageProgress
// layout, re-expressed
// as a stateless scan; the exact field set and nesting matches
// original_source's cli/status.py JSON output.
package progress

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/tigerflow/internal/taskgraph"
)

// TaskProgress reports one task's processed/ongoing/failed counters.
type TaskProgress struct {
	Name      string `json:"name"`
	Processed int    `json:"processed"`
	Ongoing   int    `json:"ongoing"`
	Failed    int    `json:"failed"`
}

// Report is the exact status payload shape, field-for-field, including
// JSON key order via struct field order.
type Report struct {
	PID      int            `json:"pid"`
	Running  bool           `json:"running"`
	Staged   int            `json:"staged"`
	Finished int            `json:"finished"`
	Failed   int            `json:"failed"`
	Tasks    []TaskProgress `json:"tasks"`
}

// Snapshot scans workspaceRoot and produces a Report. graph is used only to
// enumerate task names and output extensions; it is never mutated.
func Snapshot(workspaceRoot string, graph *taskgraph.Graph) (*Report, error) {
	staged, err := countEntries(filepath.Join(workspaceRoot, ".tigerflow", ".symlinks"))
	if err != nil {
		return nil, err
	}
	finished, err := countEntries(filepath.Join(workspaceRoot, ".tigerflow", ".finished"))
	if err != nil {
		return nil, err
	}

	report := &Report{Staged: staged, Finished: finished}

	for _, t := range graph.Order() {
		taskDir := filepath.Join(workspaceRoot, ".tigerflow", t.Name)
		tp, err := scanTaskDir(taskDir, t.OutputExt)
		if err != nil {
			return nil, err
		}
		tp.Name = t.Name
		report.Tasks = append(report.Tasks, tp)
		report.Failed += tp.Failed
	}

	return report, nil
}

// scanTaskDir counts a task's processed (matching outputExt), failed
// (".err"), and ongoing (extension-less residue) files.
func scanTaskDir(dir, outputExt string) (TaskProgress, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return TaskProgress{}, nil
		}
		return TaskProgress{}, err
	}

	var tp TaskProgress
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".err"):
			tp.Failed++
		case strings.HasSuffix(name, outputExt):
			tp.Processed++
		case filepath.Ext(name) == "":
			tp.Ongoing++
		}
	}
	return tp, nil
}

func countEntries(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			n++
		}
	}
	return n, nil
}
