package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <wave-id> <wavelet-id>",
		Short: "Fetch one wavelet's snapshot and optionally its delta bundle",
		Long: `Fetch the raw snapshot of a single wavelet and report its size. With --out,
also fetch the delta history and write it as a bundle file, the same way
export does. Credentials come from WAVEMIGRATE_* variables or --credentials.`,
		Args: cobra.ExactArgs(2),
		RunE: runFetch,
	}

	cmd.Flags().String("rpc-url", "", "robot RPC endpoint (overrides rpc_url)")
	cmd.Flags().String("out", "", "write the wavelet's delta bundle into this directory")
	addCredentialsFlag(cmd)

	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	wave, err := waveid.ParseWaveID(args[0])
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	wavelet, err := waveid.ParseWaveletID(args[1])
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	name := waveid.NewWaveletName(wave, wavelet)

	creds, err := loadSourceCredentials(cmd)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	logger := buildLogger(os.Stderr)
	ctx := shutdownContext(cmd.Context(), logger)

	flush, err := setupTelemetry(ctx, logger)
	if err != nil {
		return err
	}
	defer flush()

	session := newSourceSession(resolvedCfg, creds, logger)

	snap, err := session.client.FetchSnapshot(ctx, name)
	if err != nil {
		return fmt.Errorf("fetch: %s: %w", name, err)
	}

	var docBytes int64
	for _, d := range snap.Documents {
		docBytes += int64(len(d))
	}

	fmt.Printf("%s\n  metadata:  %s\n  documents: %d (%s)\n",
		name, formatSize(int64(len(snap.Wavelet))), len(snap.Documents), formatSize(docBytes))

	if out == "" {
		return nil
	}

	history, err := session.client.FetchDeltaHistory(ctx, name)
	if err != nil {
		return fmt.Errorf("fetch: delta history of %s: %w", name, err)
	}

	store := bundle.NewStore(out)
	if err := store.Write(name, history); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	logger.Debug("bundle written", slog.String("wavelet", name.String()))
	statusf("bundle: %s (%s)\n", store.Path(name), formatSize(int64(len(history))))

	return nil
}
