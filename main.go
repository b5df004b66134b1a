// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/e2e-harness/cmd"
)

// main is the entry point for the harness CLI.
func main() {
	// Ctrl+C stops long-running commands such as `logs -f` and `data watch`.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
