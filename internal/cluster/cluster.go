// Package cluster submits and tracks cluster-scheduler jobs for Variant C
// task runtimes. It is a thin process-spawn-and-capture wrapper, grounded
// on the spawn/capture/track idiom of other_examples'
// ronakg-runner pkg/lib/job.go (StartJob captures a subprocess's output and
// hands back a trackable handle) and on a RegistrationClient poll shape.
// Each Status call is a single scheduler query, with no retry or backoff.
package cluster

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// JobID identifies a submitted cluster job in scheduler-native terms (a
// Slurm job number, by default).
type JobID string

// State is a coarse cluster job lifecycle state.
type State int

const (
	StateUnknown State = iota
	StatePending
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status reports a submitted job's current lifecycle state.
type Status struct {
	State  State
	Detail string
}

// Backend abstracts the scheduler CLI a cluster installation actually runs,
// so Slurm is the default but not the only possible implementation.
type Backend interface {
	Submit(ctx context.Context, scriptPath string) (JobID, error)
	Status(ctx context.Context, jobID JobID) (Status, error)
	Cancel(ctx context.Context, jobID JobID) error
}

// Client submits scripts and polls job state through a Backend, writing
// each script to a temp file first since the scheduler CLI (sbatch
// included) takes a script path, not stdin content, as its canonical
// invocation.
type Client struct {
	backend Backend
}

// New returns a Client wrapping the given Backend.
func New(backend Backend) *Client {
	return &Client{backend: backend}
}

// Submit writes scriptText to a temp file and hands it to the backend.
func (c *Client) Submit(ctx context.Context, scriptText string) (JobID, error) {
	path, err := writeScript(scriptText)
	if err != nil {
		return "", fmt.Errorf("cluster: staging script: %w", err)
	}
	return c.backend.Submit(ctx, path)
}

// Status reports jobID's current state, looked up by job ID alone.
func (c *Client) Status(ctx context.Context, jobID JobID) (Status, error) {
	return c.backend.Status(ctx, jobID)
}

// Cancel requests termination of jobID.
func (c *Client) Cancel(ctx context.Context, jobID JobID) error {
	return c.backend.Cancel(ctx, jobID)
}

// SlurmBackend drives sbatch/squeue/scancel as subprocesses.
type SlurmBackend struct {
	// SbatchOptions are extra flags appended to every sbatch invocation
	// (e.g. "--partition=gpu"), beyond what the rendered script's own
	// #SBATCH prologue already requests.
	SbatchOptions []string
}

var submittedJobRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// Submit runs "sbatch <scriptPath>" and parses the job ID out of its
// "Submitted batch job NNNN" stdout line.
func (b *SlurmBackend) Submit(ctx context.Context, scriptPath string) (JobID, error) {
	args := append(append([]string{}, b.SbatchOptions...), scriptPath)
	cmd := exec.CommandContext(ctx, "sbatch", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("cluster: sbatch failed: %w: %s", err, out.String())
	}

	m := submittedJobRe.FindStringSubmatch(out.String())
	if m == nil {
		return "", fmt.Errorf("cluster: could not parse job id from sbatch output: %q", out.String())
	}
	return JobID(m[1]), nil
}

// Status runs "squeue -j <id> -h -o %T" and maps Slurm's job-state codes
// onto the package's coarse State enum. An empty result (the job has
// already left the queue) is reported as StateCompleted; sacct is not
// consulted, so a job that has left the queue reads as completed whatever
// its final state was.
func (b *SlurmBackend) Status(ctx context.Context, jobID JobID) (Status, error) {
	cmd := exec.CommandContext(ctx, "squeue", "-j", string(jobID), "-h", "-o", "%T")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return Status{}, fmt.Errorf("cluster: squeue failed: %w", err)
	}

	line := firstNonEmptyLine(out.String())
	if line == "" {
		return Status{State: StateCompleted, Detail: "not in queue"}, nil
	}

	return Status{State: mapSlurmState(line), Detail: line}, nil
}

// Cancel runs "scancel <id>".
func (b *SlurmBackend) Cancel(ctx context.Context, jobID JobID) error {
	cmd := exec.CommandContext(ctx, "scancel", string(jobID))
	var out bytes.Buffer
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cluster: scancel failed: %w: %s", err, out.String())
	}
	return nil
}

func mapSlurmState(code string) State {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PENDING", "CONFIGURING":
		return StatePending
	case "RUNNING", "COMPLETING", "SUSPENDED":
		return StateRunning
	case "COMPLETED":
		return StateCompleted
	case "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY", "BOOT_FAIL", "DEADLINE":
		return StateFailed
	default:
		return StateUnknown
	}
}

func firstNonEmptyLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line
		}
	}
	return ""
}
