package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// shutdownPollInterval is how often shutdownTasks rechecks subprocess
// liveness while waiting for a graceful exit.
const shutdownPollInterval = 200 * time.Millisecond

// shutdownGracePeriod bounds how long shutdownTasks waits for a SIGTERM'd
// task group to exit before escalating to SIGKILL.
const shutdownGracePeriod = 15 * time.Second

// installSignalHandlers registers SIGINT/SIGTERM/SIGHUP as graceful
// shutdown triggers : the handler goroutine does only an
// atomic store of the signal number and a context cancel, nothing else.
// The returned atomic.Int32 lets Run compute the 128+signum exit code once
// the main loop has unwound.
func (s *Supervisor) installSignalHandlers(cancel context.CancelFunc) *atomic.Int32 {
	var signum atomic.Int32

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		if s, ok := sig.(syscall.Signal); ok {
			signum.Store(int32(s))
		}
		cancel()
	}()

	return &signum
}

// armIdleTimeout starts the secondary shutdown trigger: if IdleTimeout is
// unset, it is a no-op. The returned stop func must always be deferred;
// recordActivity resets the timer whenever a file is staged or a stem is
// harvested.
func (s *Supervisor) armIdleTimeout(cancel context.CancelFunc) (*time.Timer, func()) {
	if s.cfg.IdleTimeout <= 0 {
		return nil, func() {}
	}
	timer := time.AfterFunc(s.cfg.IdleTimeout, cancel)
	s.idleTimer = timer
	return timer, func() { timer.Stop() }
}

// recordActivity marks the current time as the last observed pipeline
// activity and resets the idle timer, if armed.
func (s *Supervisor) recordActivity() {
	s.lastActivity = now()
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.cfg.IdleTimeout)
	}
}

// shutdownTasks implements the shutdown sequence: send
// every live task's subprocess group a terminate signal, then poll until
// all are dead, escalating to SIGKILL if the grace period elapses.
func (s *Supervisor) shutdownTasks() {
	s.mu.Lock()
	procs := make([]*taskProc, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	signalGroup(procs, syscall.SIGTERM)

	deadline := time.Now().Add(shutdownGracePeriod)
	for time.Now().Before(deadline) {
		if s.allDead(procs) {
			return
		}
		time.Sleep(shutdownPollInterval)
	}

	signalGroup(procs, syscall.SIGKILL)
}

func signalGroup(procs []*taskProc, sig syscall.Signal) {
	for _, p := range procs {
		if p.cmd.Process == nil {
			continue
		}
		// Setpgid was set at Start; -pid targets the whole process group
		// so a task's own child commands die with it.
		_ = syscall.Kill(-p.cmd.Process.Pid, sig)
	}
}

func (s *Supervisor) allDead(procs []*taskProc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range procs {
		if !p.dead {
			return false
		}
	}
	return true
}
