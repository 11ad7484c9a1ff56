package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional exit status after SIGINT.
const exitInterrupted = 130

// shutdownContext cancels on the first SIGINT or SIGTERM. Drivers stop at the
// next wavelet or bundle boundary and still print their counts; a bundle
// already written or replayed stays complete. A second signal exits at once.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("signal received, stopping after the current item",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal received, exiting",
				slog.String("signal", sig.String()),
			)
			os.Exit(exitInterrupted)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
