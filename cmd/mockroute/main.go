// File: cmd/mockroute/main.go
/*
Copyright © 2025 Kyle McAllister (xkilldash9x@proton.me)
*/

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/mockroute/cmd"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

// execute is swapped out in tests.
var execute = cmd.Execute

func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if code := exitCode(ctx, execute(ctx)); code != 0 {
		osExit(code)
	}
}

// exitCode maps a command error to the process status. Only a run stopped by
// a signal on ctx exits cleanly. A canceled step on a live ctx is a failure.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return 0
	default:
		return 1
	}
}
