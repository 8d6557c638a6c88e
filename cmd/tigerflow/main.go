// Package main is the entry point for the tigerflow application.
package main

import (
	"os"

	"github.com/jmylchreest/tigerflow/cmd/tigerflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
