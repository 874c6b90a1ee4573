package runtime

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// RunUntilSignal runs fn with a context that is cancelled on SIGINT or SIGTERM.
func RunUntilSignal(ctx context.Context, service string, logger *log.Logger, fn func(context.Context) error) error {
	if logger == nil {
		logger = log.Default()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := fn(ctx)
	if ctx.Err() != nil {
		logger.Printf("[%s] shutting down", service)
	}
	return err
}
