package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/taskengine/internal/backend"
)

func main() {
	// Signal-aware context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Every backend subprocess is tracked here so a shutdown never leaves
	// orphaned process groups behind.
	pm := backend.NewProcessManager()

	err := newRootCmd(pm).ExecuteContext(ctx)

	if ctx.Err() != nil {
		stop()
		if killErr := pm.KillAll(); killErr != nil {
			fmt.Fprintf(os.Stderr, "Error killing subprocesses: %v\n", killErr)
		}
	}

	if err != nil {
		var incomplete *incompleteRunError
		if errors.As(err, &incomplete) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}
