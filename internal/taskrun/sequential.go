package taskrun

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sequential is Variant S: a single thread of control performing a
// strict scan → process-all → sleep loop, one file at a time. Grounded on
// a familiar Runner shape configured with a single worker, generalized
// from a DB-backed job queue to a directory-scan-backed one, and on
// original_source's tasks/local.py (LocalTask.start's while-True
// scan/process/sleep loop).
type Sequential struct {
	cfg          Config
	pollInterval time.Duration
	log          *slog.Logger

	uc     *UserContext
	cancel context.CancelFunc
	done   chan struct{}
	alive  atomic.Bool
}

// NewSequential constructs a Sequential runtime. pollInterval defaults to
// 3s when zero.
func NewSequential(cfg Config, pollInterval time.Duration, log *slog.Logger) *Sequential {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	return &Sequential{cfg: cfg, pollInterval: pollInterval, log: log, done: make(chan struct{})}
}

func (s *Sequential) Start(ctx context.Context) error {
	if err := removeResidue(s.cfg.OutputDir); err != nil {
		return err
	}

	s.uc = NewUserContext()
	if s.cfg.Setup != nil {
		if err := s.cfg.Setup(ctx, s.uc); err != nil {
			return err
		}
	}
	s.uc.Freeze()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.alive.Store(true)

	go s.loop(runCtx)
	return nil
}

func (s *Sequential) loop(ctx context.Context) {
	defer close(s.done)
	defer s.alive.Store(false)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		files, err := unprocessedFiles(s.cfg)
		if err != nil {
			s.log.Error("scan failed", slog.String("task", s.cfg.TaskName), slog.Any("error", err))
		} else {
			for _, f := range files {
				select {
				case <-ctx.Done():
					s.teardown(context.Background())
					return
				default:
				}
				dispatch(ctx, s.cfg, s.uc, f, s.log)
			}
		}

		select {
		case <-ctx.Done():
			s.teardown(context.Background())
			return
		case <-ticker.C:
		}
	}
}

func (s *Sequential) teardown(ctx context.Context) {
	if s.cfg.Teardown != nil {
		if err := s.cfg.Teardown(ctx, s.uc); err != nil {
			s.log.Error("teardown failed", slog.String("task", s.cfg.TaskName), slog.Any("error", err))
		}
	}
}

func (s *Sequential) Status() Status {
	return Status{Alive: s.alive.Load()}
}

func (s *Sequential) Cancel(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
