package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/automaxprocs/maxprocs"
)

func init() {
	// Lock holders may wait on ledger and lease I/O.
	deadlock.Opts.DeadlockTimeout = 2 * time.Minute
}

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
