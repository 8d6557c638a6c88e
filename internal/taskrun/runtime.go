// Package taskrun implements the task runtime shared by every pipeline
// stage: a long-running driver that scans an input directory, dispatches
// unprocessed files through a user callback inside an atomic-write
// context, and isolates per-file failures as ".err" markers. Three
// variants share one Runtime contract — Start, Status, Cancel — as a
// tagged union over sequential, cooperative-concurrent, and cluster
// fan-out execution.
package taskrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Status reports a runtime's current liveness.
type Status struct {
	Alive  bool
	Detail string
}

// Runtime is the contract every task-runtime variant implements.
type Runtime interface {
	// Start begins driving the task. It returns once startup has
	// completed (setup callback run, workers launched); the runtime
	// continues operating in the background until ctx is cancelled or
	// Cancel is called.
	Start(ctx context.Context) error

	// Status reports whether the runtime is currently alive.
	Status() Status

	// Cancel requests graceful shutdown and blocks until teardown
	// completes.
	Cancel(ctx context.Context) error
}

// SetupFunc populates the user context once, before any file is
// processed.
type SetupFunc func(ctx context.Context, uc *UserContext) error

// RunFunc processes one file: inputPath is an existing file matching the
// task's input extension; outputPath is where the callback must write its
// result (handed to it already pointed at the right task/stem/output_ext
// location — the callback does not choose it).
type RunFunc func(ctx context.Context, uc *UserContext, inputPath, outputPath string) error

// TeardownFunc runs once, on shutdown, after all in-flight work has
// stopped.
type TeardownFunc func(ctx context.Context, uc *UserContext) error

// Config parameterizes every variant.
type Config struct {
	TaskName  string
	InputDir  string
	OutputDir string
	InputExt  string
	OutputExt string

	Setup    SetupFunc
	Run      RunFunc
	Teardown TeardownFunc
}

// unprocessedFiles enumerates files in cfg.InputDir matching cfg.InputExt
// whose stem does not already appear in cfg.OutputDir as
// "<stem><OutputExt>" or "<stem>.err" — i.e. files neither succeeded nor
// failed yet. Grounded on original_source's Task._get_unprocessed_files:
// processed_ids is computed from the output directory's own listing, not
// from any separate ledger.
func unprocessedFiles(cfg Config) ([]string, error) {
	processed, err := processedStems(cfg.OutputDir, cfg.OutputExt)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(cfg.InputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, cfg.InputExt) {
			continue
		}
		stem := strings.TrimSuffix(name, cfg.InputExt)
		if _, done := processed[stem]; done {
			continue
		}
		out = append(out, filepath.Join(cfg.InputDir, name))
	}
	return out, nil
}

// processedStems returns the set of stems that already have a successful
// output or an error marker in dir.
func processedStems(dir, outputExt string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".err"):
			set[strings.TrimSuffix(name, ".err")] = struct{}{}
		case strings.HasSuffix(name, outputExt):
			set[strings.TrimSuffix(name, outputExt)] = struct{}{}
		}
	}
	return set, nil
}

// stemOf returns the portion of an input file's name before inputExt.
func stemOf(path, inputExt string) string {
	return strings.TrimSuffix(filepath.Base(path), inputExt)
}

// outputPathFor returns the destination path for a stem's successful
// output.
func outputPathFor(cfg Config, stem string) string {
	return filepath.Join(cfg.OutputDir, stem+cfg.OutputExt)
}

// errPathFor returns the destination path for a stem's error marker.
func errPathFor(cfg Config, stem string) string {
	return filepath.Join(cfg.OutputDir, stem+".err")
}

// removeResidue deletes extension-less temporaries in dir left behind by
// a prior crash.
func removeResidue(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == "" {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
