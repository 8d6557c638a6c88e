// Package lock implements tigerflow's single-instance guard: a PID file
// written at startup and checked at every subsequent start, status, and
// stop invocation so that at most one supervisor runs against a given
// output directory at a time.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

// ReadPID reads the PID recorded in path. ok is false if the file does not
// exist or does not contain a parseable integer.
func ReadPID(path string) (pid int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsRunning reports whether pid refers to a live process. A
// permission-denied probe (the process exists but is owned by another
// user) counts as running, since the supervisor plainly cannot be started
// twice in that case either.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	exists, err := process.PidExists(int32(pid))
	if err == nil && exists {
		return true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	sigErr := proc.Signal(syscall.Signal(0))
	if sigErr == nil {
		return true
	}
	return sigErr == os.ErrPermission || strings.Contains(sigErr.Error(), "operation not permitted")
}

// Acquire attempts to claim path as the running instance's PID file. It
// first cleans up a stale file (one whose PID is no longer live), then
// fails if a live instance is already holding the lock, then writes the
// current process's PID.
//
// acquired is false (with no error) when another live instance holds the
// lock; callers should report this as "already running" rather than a
// generic error.
func Acquire(path string) (acquired bool, err error) {
	if existing, ok := ReadPID(path); ok {
		if IsRunning(existing) {
			return false, nil
		}
		// Stale PID file left behind by a crash; remove it before
		// claiming the lock ourselves.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return false, fmt.Errorf("lock: removing stale pid file: %w", rerr)
		}
	}

	if werr := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); werr != nil {
		return false, fmt.Errorf("lock: writing pid file: %w", werr)
	}
	return true, nil
}

// Release removes the PID file. Callers should defer this immediately
// after a successful Acquire.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: removing pid file: %w", err)
	}
	return nil
}
