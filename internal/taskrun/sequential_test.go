package taskrun

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func TestSequentialProcessesExistingFiles(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(in, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		TaskName:  "echo",
		InputDir:  in,
		OutputDir: out,
		InputExt:  ".txt",
		OutputExt: ".out",
		Run: func(ctx context.Context, uc *UserContext, inputPath, outputPath string) error {
			data, err := os.ReadFile(inputPath)
			if err != nil {
				return err
			}
			return os.WriteFile(outputPath, data, 0o644)
		},
	}

	rt := NewSequential(cfg, 20*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForFile(t, filepath.Join(out, "a.out"), time.Second)

	data, err := os.ReadFile(filepath.Join(out, "a.out"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("output = %q, want %q", data, "hello")
	}

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), time.Second)
	defer cancelCancel()
	if err := rt.Cancel(cancelCtx); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if rt.Status().Alive {
		t.Error("expected runtime to report not alive after Cancel")
	}
}

func TestSequentialWritesErrMarkerOnFailure(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(in, "bad.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		TaskName:  "broken",
		InputDir:  in,
		OutputDir: out,
		InputExt:  ".txt",
		OutputExt: ".out",
		Run: func(ctx context.Context, uc *UserContext, inputPath, outputPath string) error {
			return errBoom
		},
	}

	rt := NewSequential(cfg, 20*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForFile(t, filepath.Join(out, "bad.err"), time.Second)

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), time.Second)
	defer cancelCancel()
	_ = rt.Cancel(cancelCtx)
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
