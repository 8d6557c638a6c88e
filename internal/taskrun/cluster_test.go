package taskrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/tigerflow/internal/cluster"
)

// fakeBackend is an in-memory cluster.Backend. Scripts are rendered as
// "script for <stem>" by the tests below, which fakeBackend stores so a
// test can later identify and "complete" a job by the stem it belongs to
// without threading a separate jobID<->stem map through the runtime.
type fakeBackend struct {
	mu       sync.Mutex
	next     int
	states   map[cluster.JobID]cluster.State
	scripts  map[cluster.JobID]string
	canceled map[cluster.JobID]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		states:   make(map[cluster.JobID]cluster.State),
		scripts:  make(map[cluster.JobID]string),
		canceled: make(map[cluster.JobID]bool),
	}
}

func (f *fakeBackend) Submit(_ context.Context, scriptPath string) (cluster.JobID, error) {
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := cluster.JobID(strconv.Itoa(f.next))
	f.states[id] = cluster.StateRunning
	f.scripts[id] = string(data)
	return id, nil
}

func (f *fakeBackend) Status(_ context.Context, id cluster.JobID) (cluster.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cluster.Status{State: f.states[id]}, nil
}

func (f *fakeBackend) Cancel(_ context.Context, id cluster.JobID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled[id] = true
	return nil
}

// completeRunning marks every currently-running job completed, first
// writing its stem's output file into outDir — standing in for the real
// submitted job writing its own atomic output before exiting, which is
// what actually makes unprocessedFiles stop finding that stem.
func (f *fakeBackend) completeRunning(t *testing.T, outDir string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, state := range f.states {
		if state != cluster.StateRunning {
			continue
		}
		stem := strings.TrimPrefix(f.scripts[id], "script for ")
		if err := os.WriteFile(filepath.Join(outDir, stem+".out"), []byte("done"), 0o644); err != nil {
			t.Fatal(err)
		}
		f.states[id] = cluster.StateCompleted
	}
}

func (f *fakeBackend) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func TestClusterSubmitsAndReapsOneJobPerStem(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(in, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := newFakeBackend()
	cfg := Config{TaskName: "ingest", InputDir: in, OutputDir: out, InputExt: ".txt", OutputExt: ".out"}
	ccfg := ClusterConfig{
		MaxWorkers: 4,
		RenderScript: func(stem, inputPath, outputPath string) (string, error) {
			return "script for " + stem, nil
		},
	}

	rt := NewCluster(cfg, ccfg, cluster.New(backend), 10*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && backend.jobCount() < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if n := backend.jobCount(); n != 1 {
		t.Fatalf("expected exactly one job submitted, got %d", n)
	}

	backend.completeRunning(t, out)

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), time.Second)
	defer cancelCancel()
	if err := rt.Cancel(cancelCtx); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if status := rt.Status(); status.Alive {
		t.Error("expected runtime to report not alive after Cancel")
	}
	if _, err := os.Stat(filepath.Join(out, "a.out")); err != nil {
		t.Errorf("expected completed job's output file to exist: %v", err)
	}
}

func TestClusterAutoscaleLimitsConcurrentSubmissionsUntilBacklogSeen(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(in, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	backend := newFakeBackend()
	cfg := Config{TaskName: "ingest", InputDir: in, OutputDir: out, InputExt: ".txt", OutputExt: ".out"}
	ccfg := ClusterConfig{
		MaxWorkers:        3,
		ScaleInterval:     10 * time.Millisecond,
		IdleScaleDownWait: 1,
		RenderScript: func(stem, inputPath, outputPath string) (string, error) {
			return "script for " + stem, nil
		},
	}

	rt := NewCluster(cfg, ccfg, cluster.New(backend), 10*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && backend.jobCount() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if n := backend.jobCount(); n != 3 {
		t.Fatalf("expected backlog to scale up to max_workers=3, submitted %d", n)
	}

	backend.completeRunning(t, out)

	// Once every job drains and the cluster sits idle for IdleScaleDownWait
	// scale-checks, desiredWorkers should have been pulled back down from
	// MaxWorkers rather than staying pinned at the ceiling forever.
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rt.mu.Lock()
		workers := rt.desiredWorkers
		rt.mu.Unlock()
		if workers < ccfg.MaxWorkers {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	rt.mu.Lock()
	workers := rt.desiredWorkers
	rt.mu.Unlock()
	if workers >= ccfg.MaxWorkers {
		t.Errorf("desiredWorkers = %d, want < %d after idling", workers, ccfg.MaxWorkers)
	}

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), time.Second)
	defer cancelCancel()
	_ = rt.Cancel(cancelCtx)
}
