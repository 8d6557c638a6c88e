package taskrun

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tigerflow/internal/cluster"
)

// ClusterScriptFunc renders the submission script for one unprocessed
// input file. stem is the file's stem (without the task's input
// extension); inputPath/outputPath are the paths the eventual
// tigerflow-taskrun invocation must be told to use.
type ClusterScriptFunc func(stem, inputPath, outputPath string) (string, error)

// ClusterConfig parameterizes Variant C beyond the shared Config.
type ClusterConfig struct {
	MaxWorkers        int
	ScaleInterval     time.Duration
	IdleScaleDownWait int // consecutive idle scale-ticks before workers are considered drainable
	RenderScript      ClusterScriptFunc
}

// handle tracks one in-flight cluster submission.
type handle struct {
	jobID cluster.JobID
	stem  string
}

// Cluster is Variant C: fan-out onto a cluster scheduler. One unprocessed
// stem becomes one submitted job; the runtime polls each in-flight job's
// status instead of running the callback itself. Grounded on a
// RegistrationClient poll/reconnect loop shape, re-expressed over exec/poll
// rather than a persistent gRPC session.
type Cluster struct {
	cfg          Config
	ccfg         ClusterConfig
	client       *cluster.Client
	pollInterval time.Duration
	log          *slog.Logger

	mu             sync.Mutex
	inFlight       map[string]handle // stem -> handle
	desiredWorkers int               // current autoscale ceiling, 0..MaxWorkers
	idleTicks      int               // consecutive idle scale-checks since desiredWorkers last dropped
	backlog        bool              // unprocessed work seen on the most recent scan

	cancel context.CancelFunc
	done   chan struct{}
	alive  atomic.Bool
}

// NewCluster constructs a Cluster runtime. pollInterval defaults to 3s.
func NewCluster(cfg Config, ccfg ClusterConfig, client *cluster.Client, pollInterval time.Duration, log *slog.Logger) *Cluster {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if ccfg.MaxWorkers <= 0 {
		ccfg.MaxWorkers = 8
	}
	return &Cluster{
		cfg:          cfg,
		ccfg:         ccfg,
		client:       client,
		pollInterval: pollInterval,
		log:          log,
		inFlight:     make(map[string]handle),
		done:         make(chan struct{}),
	}
}

func (c *Cluster) Start(ctx context.Context) error {
	if err := removeResidue(c.cfg.OutputDir); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.alive.Store(true)

	go c.loop(runCtx)
	if c.ccfg.ScaleInterval > 0 {
		go c.scaleLoop(runCtx)
	}
	return nil
}

func (c *Cluster) loop(ctx context.Context) {
	defer close(c.done)
	defer c.alive.Store(false)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		c.reapFinished(ctx)
		c.submitNew(ctx)

		select {
		case <-ctx.Done():
			c.shutdown(context.Background())
			return
		case <-ticker.C:
		}
	}
}

// submitNew scans for unprocessed files and submits one cluster job per
// stem not already in flight, bounded by the current autoscaled worker
// ceiling rather than MaxWorkers directly: a backlog scales that ceiling
// up to MaxWorkers immediately (see scaleLoop), so submission is never
// throttled below demand, but an idle cluster is left scaled down between
// bursts.
func (c *Cluster) submitNew(ctx context.Context) {
	files, err := unprocessedFiles(c.cfg)
	if err != nil {
		c.log.Error("scan failed", slog.String("task", c.cfg.TaskName), slog.Any("error", err))
		return
	}

	c.mu.Lock()
	backlog := false
	for _, f := range files {
		if _, already := c.inFlight[stemOf(f, c.cfg.InputExt)]; !already {
			backlog = true
			break
		}
	}
	c.backlog = backlog
	if backlog && c.desiredWorkers < c.ccfg.MaxWorkers {
		c.desiredWorkers = c.ccfg.MaxWorkers
		c.idleTicks = 0
	}
	slots := c.desiredWorkers - len(c.inFlight)
	c.mu.Unlock()

	if slots <= 0 {
		return
	}

	for _, f := range files {
		if slots <= 0 {
			return
		}
		stem := stemOf(f, c.cfg.InputExt)

		c.mu.Lock()
		_, already := c.inFlight[stem]
		c.mu.Unlock()
		if already {
			continue
		}

		outPath := outputPathFor(c.cfg, stem)
		script, err := c.ccfg.RenderScript(stem, f, outPath)
		if err != nil {
			c.log.Error("rendering cluster script failed",
				slog.String("task", c.cfg.TaskName), slog.String("stem", stem), slog.Any("error", err))
			continue
		}

		jobID, err := c.client.Submit(ctx, script)
		if err != nil {
			c.log.Error("cluster submission failed",
				slog.String("task", c.cfg.TaskName), slog.String("stem", stem), slog.Any("error", err))
			continue
		}

		c.mu.Lock()
		c.inFlight[stem] = handle{jobID: jobID, stem: stem}
		c.mu.Unlock()
		slots--
	}
}

// scaleLoop ticks at ScaleInterval, independent of the submit/reap poll
// cadence, and drives the autoscale ceiling down when the cluster has sat
// idle (no in-flight jobs, no unsubmitted backlog) for IdleScaleDownWait
// consecutive checks. Scale-up happens immediately in submitNew instead of
// waiting for this cadence, so a new burst of work is never held back by
// a slow scale-down timer.
func (c *Cluster) scaleLoop(ctx context.Context) {
	ticker := time.NewTicker(c.ccfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		idle := !c.backlog && len(c.inFlight) == 0
		if idle {
			c.idleTicks++
			if c.idleTicks >= c.ccfg.IdleScaleDownWait && c.desiredWorkers > 0 {
				c.desiredWorkers--
				c.idleTicks = 0
			}
		} else {
			c.idleTicks = 0
		}
		workers := c.desiredWorkers
		c.mu.Unlock()

		c.log.Debug("cluster autoscale check",
			slog.String("task", c.cfg.TaskName), slog.Int("desired_workers", workers), slog.Bool("idle", idle))
	}
}

// reapFinished polls every in-flight job and releases its handle once the
// scheduler reports it as no longer running; a failed job gets an ".err"
// marker, matching the local-variant failure contract.
func (c *Cluster) reapFinished(ctx context.Context) {
	c.mu.Lock()
	snapshot := make([]handle, 0, len(c.inFlight))
	for _, h := range c.inFlight {
		snapshot = append(snapshot, h)
	}
	c.mu.Unlock()

	for _, h := range snapshot {
		status, err := c.client.Status(ctx, h.jobID)
		if err != nil {
			c.log.Warn("cluster status check failed",
				slog.String("task", c.cfg.TaskName), slog.String("stem", h.stem), slog.Any("error", err))
			continue
		}

		switch status.State {
		case cluster.StateCompleted:
			c.release(h.stem)
		case cluster.StateFailed:
			c.markFailed(h.stem, status.Detail)
			c.release(h.stem)
		}
	}
}

func (c *Cluster) markFailed(stem, detail string) {
	errPath := errPathFor(c.cfg, stem)
	if err := writeErrMarker(errPath, fmt.Sprintf("cluster job failed: %s", detail)); err != nil {
		c.log.Error("failed to write error marker",
			slog.String("task", c.cfg.TaskName), slog.String("stem", stem), slog.Any("error", err))
	}
}

func (c *Cluster) release(stem string) {
	c.mu.Lock()
	delete(c.inFlight, stem)
	c.mu.Unlock()
}

func (c *Cluster) shutdown(ctx context.Context) {
	c.mu.Lock()
	snapshot := make([]handle, 0, len(c.inFlight))
	for _, h := range c.inFlight {
		snapshot = append(snapshot, h)
	}
	c.mu.Unlock()

	for _, h := range snapshot {
		if err := c.client.Cancel(ctx, h.jobID); err != nil {
			c.log.Warn("cancelling in-flight cluster job failed",
				slog.String("task", c.cfg.TaskName), slog.String("stem", h.stem), slog.Any("error", err))
		}
	}
}

func (c *Cluster) Status() Status {
	c.mu.Lock()
	n := len(c.inFlight)
	c.mu.Unlock()
	return Status{Alive: c.alive.Load(), Detail: fmt.Sprintf("%d jobs in flight", n)}
}

func (c *Cluster) Cancel(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
