package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/importer"
	"github.com/wavemigrate/wavemigrate/internal/report"
	"github.com/wavemigrate/wavemigrate/internal/wavestore"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <bundle-dir>",
		Short: "Replay every bundle into a scratch store to check it would import",
		Long: `Replay each bundle in bundle-dir into a temporary wavelet store, running the
same decode, domain rewrite, and hash chain checks as the import endpoint.
Nothing is sent anywhere. Exits non-zero if any bundle fails.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}

	cmd.Flags().String("domain", "", "destination domain to rewrite to (default: keep each bundle's domain)")

	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	domain, err := cmd.Flags().GetString("domain")
	if err != nil {
		return err
	}

	logger := buildLogger(os.Stderr)
	ctx := shutdownContext(cmd.Context(), logger)

	sum, err := verifyBundles(ctx, args[0], domain, logger)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return fmt.Errorf("verify: interrupted: %w", ctx.Err())
	}

	if err := sum.Write(os.Stdout, report.NewPrinter(""), "bundles", "verified"); err != nil {
		return err
	}

	if sum.Failed > 0 {
		return fmt.Errorf("verify: %d of %d bundles failed", sum.Failed, sum.Total())
	}

	return nil
}

// verifyBundles replays every listed bundle into a throwaway store. A
// bundle that fails to read, re-scope, or replay counts as failed.
func verifyBundles(ctx context.Context, dir, domain string, logger *slog.Logger) (report.Summary, error) {
	entries, err := bundle.NewStore(dir).List()
	if err != nil {
		return report.Summary{}, err
	}

	scratch, err := os.MkdirTemp("", "wavemigrate-verify-")
	if err != nil {
		return report.Summary{}, fmt.Errorf("verify: %w", err)
	}
	defer os.RemoveAll(scratch)

	store, err := wavestore.Open(ctx, filepath.Join(scratch, "verify.db"), logger)
	if err != nil {
		return report.Summary{}, err
	}
	defer store.Close()

	replayer := importer.NewReplayer(store, logger)
	tally := report.NewTally(logger)

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}

		item := filepath.Base(e.Path)
		if e.Err != nil {
			tally.Failed(item, e.Err)

			continue
		}

		target := e.Name
		if domain != "" {
			if target, err = e.Name.Rescope(domain); err != nil {
				tally.Failed(item, err)

				continue
			}
		}

		data, err := bundle.ReadFile(e.Path)
		if err != nil {
			tally.Failed(item, err)

			continue
		}

		if _, err := replayer.Replay(ctx, target, data); err != nil {
			tally.Failed(item, err)

			continue
		}

		tally.Done(item)
	}

	return tally.Summary(), nil
}
