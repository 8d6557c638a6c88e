package taskrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentProcessesAllFilesOnce(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	const n = 20
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("f%02d.txt", i)
		if err := os.WriteFile(filepath.Join(in, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	var calls atomic.Int64
	cfg := Config{
		TaskName:  "echo",
		InputDir:  in,
		OutputDir: out,
		InputExt:  ".txt",
		OutputExt: ".out",
		Run: func(ctx context.Context, uc *UserContext, inputPath, outputPath string) error {
			calls.Add(1)
			data, err := os.ReadFile(inputPath)
			if err != nil {
				return err
			}
			return os.WriteFile(outputPath, data, 0o644)
		},
	}

	rt := NewConcurrent(cfg, 4, 20*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(out)
		if err == nil && len(entries) == n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("reading output dir: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("got %d output files, want %d", len(entries), n)
	}
	if got := calls.Load(); got != n {
		t.Errorf("callback invoked %d times, want %d (at-most-once dispatch)", got, n)
	}

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCancel()
	if err := rt.Cancel(cancelCtx); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
}
