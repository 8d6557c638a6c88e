package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tigerflow/internal/lock"
	"github.com/jmylchreest/tigerflow/internal/supervisor"
)

var stopForce bool

var stopCmd = &cobra.Command{
	Use:   "stop <output_dir>",
	Short: "Stop a running pipeline supervisor",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "send SIGKILL instead of SIGTERM")
}

func runStop(cmd *cobra.Command, args []string) error {
	outputDir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving output dir: %w", err)
	}
	pidPath := supervisor.PIDPath(outputDir)

	pid, ok := lock.ReadPID(pidPath)
	if !ok {
		fmt.Println("no pipeline running for this output directory")
		return nil
	}
	if !lock.IsRunning(pid) {
		_ = os.Remove(pidPath)
		fmt.Println("stale pid file removed; nothing to stop")
		return nil
	}

	sig := syscall.SIGTERM
	if stopForce {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(pid, sig); err != nil {
		switch err {
		case syscall.EPERM:
			fmt.Fprintf(os.Stderr, "permission denied signalling pid %d\n", pid)
			os.Exit(1)
		case syscall.ESRCH:
			// Lost the race: the process exited between our liveness check
			// and the signal. Already stopped, not an error.
			fmt.Println("pipeline already stopped")
			return nil
		default:
			return fmt.Errorf("signalling pid %d: %w", pid, err)
		}
	}

	fmt.Printf("sent %s to pid %d\n", sig, pid)
	waitForExit(pid)
	return nil
}

// waitForExit briefly polls pid's liveness so the caller can report whether
// the process actually stopped, without blocking the CLI indefinitely —
// the supervisor's own shutdown sequence may still be draining tasks.
func waitForExit(pid int) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !lock.IsRunning(pid) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}
