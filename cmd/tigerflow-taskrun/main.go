// Package main is the entry point for tigerflow-taskrun, the process every
// task subprocess (local or cluster-submitted) actually execs.
package main

import (
	"os"

	"github.com/jmylchreest/tigerflow/cmd/tigerflow-taskrun/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
