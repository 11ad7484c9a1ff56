package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/importer"
	"github.com/wavemigrate/wavemigrate/internal/wavestore"
)

// readHeaderTimeout guards against slow-header clients.
const readHeaderTimeout = 10 * time.Second

func newServeImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-import",
		Short: "Run a destination import endpoint backed by a local wavelet store",
		Long: `Accept POSTed bundles (headers: domain, waveId, waveletId) and replay them
into a SQLite wavelet store. Answers "imported", "skipped", or the error.`,
		Args: cobra.NoArgs,
		RunE: runServeImport,
	}

	cmd.Flags().String("listen", "", "listen address (overrides listen_addr)")
	cmd.Flags().String("db", "", "wavelet store path (overrides db_path)")

	return cmd
}

func runServeImport(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(os.Stderr)
	ctx := shutdownContext(cmd.Context(), logger)

	flush, err := setupTelemetry(ctx, logger)
	if err != nil {
		return err
	}
	defer flush()

	release, err := acquireLock(resolvedCfg.DBPath + ".lock")
	if err != nil {
		return fmt.Errorf("serve-import: %w", err)
	}
	defer release()

	store, err := wavestore.Open(ctx, resolvedCfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	mux := http.NewServeMux()
	mux.Handle("/", importer.NewHandler(importer.NewReplayer(store, logger), 0, logger))

	// Request contexts are not derived from ctx: Shutdown drains in-flight
	// imports instead of cancelling them.
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ln, err := net.Listen("tcp", resolvedCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("serve-import: %w", err)
	}

	logger.Info("import endpoint listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve-import: %w", err)
	case <-ctx.Done():
	}

	// No deadline: a bundle cut off mid-replay would be skipped forever. A
	// second signal still exits at once.
	logger.Info("waiting for in-flight imports")

	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("serve-import: shutting down: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve-import: %w", err)
	}

	logger.Info("import endpoint stopped")

	return nil
}
