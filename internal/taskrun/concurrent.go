package taskrun

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Concurrent is Variant A: a fixed-size pool of worker goroutines draining
// a bounded queue, with an in-flight set guaranteeing a given stem is
// dispatched at most once even if the scan loop sees it again before a
// worker finishes with it. Grounded on a familiar worker-pool shape (N
// goroutines launched via go r.worker(id), shutdown coordinated with a
// sync.WaitGroup), generalized from a DB job queue to the directory-scan
// queue described by original_source's tasks/local_async.py (asyncio.Queue
// plus a fixed set of consumer tasks).
type Concurrent struct {
	cfg          Config
	workers      int
	pollInterval time.Duration
	log          *slog.Logger

	uc       *UserContext
	queue    chan string
	wg       sync.WaitGroup
	inFlight sync.Map // stem -> struct{}

	cancel context.CancelFunc
	done   chan struct{}
	alive  atomic.Bool
}

// NewConcurrent constructs a Concurrent runtime with the given worker
// count and scan-poll interval (defaults: 4 workers, 3s poll).
func NewConcurrent(cfg Config, workers int, pollInterval time.Duration, log *slog.Logger) *Concurrent {
	if workers <= 0 {
		workers = 4
	}
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Concurrent{
		cfg:          cfg,
		workers:      workers,
		pollInterval: pollInterval,
		log:          log,
		queue:        make(chan string, workers*2),
		done:         make(chan struct{}),
	}
}

func (c *Concurrent) Start(ctx context.Context) error {
	if err := removeResidue(c.cfg.OutputDir); err != nil {
		return err
	}

	c.uc = NewUserContext()
	if c.cfg.Setup != nil {
		if err := c.cfg.Setup(ctx, c.uc); err != nil {
			return err
		}
	}
	c.uc.Freeze()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.alive.Store(true)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(runCtx, i)
	}

	go c.scanLoop(runCtx)
	return nil
}

func (c *Concurrent) scanLoop(ctx context.Context) {
	defer close(c.done)
	defer c.alive.Store(false)
	defer c.drainAndWait(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		files, err := unprocessedFiles(c.cfg)
		if err != nil {
			c.log.Error("scan failed", slog.String("task", c.cfg.TaskName), slog.Any("error", err))
		} else {
			for _, f := range files {
				stem := stemOf(f, c.cfg.InputExt)
				if _, already := c.inFlight.LoadOrStore(stem, struct{}{}); already {
					continue
				}
				select {
				case c.queue <- f:
				case <-ctx.Done():
					c.inFlight.Delete(stem)
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Concurrent) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	for {
		select {
		case f, ok := <-c.queue:
			if !ok {
				return
			}
			stem := stemOf(f, c.cfg.InputExt)
			dispatch(ctx, c.cfg, c.uc, f, c.log)
			c.inFlight.Delete(stem)
		case <-ctx.Done():
			return
		}
	}
}

// drainAndWait closes the queue once the scan loop has stopped feeding it
// and waits for every worker to finish its current file, then runs
// teardown. Called from the scan loop's own goroutine after its ctx is
// done, so no further sends race the close.
func (c *Concurrent) drainAndWait(ctx context.Context) {
	close(c.queue)
	c.wg.Wait()
	if c.cfg.Teardown != nil {
		if err := c.cfg.Teardown(context.Background(), c.uc); err != nil {
			c.log.Error("teardown failed", slog.String("task", c.cfg.TaskName), slog.Any("error", err))
		}
	}
}

func (c *Concurrent) Status() Status {
	return Status{Alive: c.alive.Load()}
}

func (c *Concurrent) Cancel(ctx context.Context) error {
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
