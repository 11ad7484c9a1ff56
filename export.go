package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/auth"
	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/config"
	"github.com/wavemigrate/wavemigrate/internal/export"
	"github.com/wavemigrate/wavemigrate/internal/report"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <client-id> <client-secret> <user-id> <participant> <refresh-token> <access-token> <export-dir>",
		Short: "Export the delta history of every matching wavelet",
		Long: `Page through a search of the source server and write one bundle file per
wavelet into export-dir. Wavelets already exported are skipped, so the
command can be re-run after an interruption.`,
		Args: cobra.ExactArgs(7),
		RunE: runExport,
	}

	cmd.Flags().String("rpc-url", "", "robot RPC endpoint (overrides rpc_url)")
	cmd.Flags().String("query", "", "search query (overrides search_query)")
	cmd.Flags().Int("page-size", 0, "digests per search call (overrides page_size)")
	cmd.Flags().String("credentials-out", "", "write the final credential pair to this file (0600)")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	creds := config.SourceCredentials{
		ClientID:     args[0],
		ClientSecret: args[1],
		UserID:       args[2],
		Participant:  args[3],
		RefreshToken: args[4],
		AccessToken:  args[5],
	}

	if err := creds.Validate(); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	release, err := acquireLock(filepath.Join(args[6], lockFileName))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer release()

	logger := buildLogger(os.Stderr)
	ctx := shutdownContext(cmd.Context(), logger)

	shutdown, err := setupTelemetry(ctx, logger)
	if err != nil {
		return err
	}
	defer shutdown()

	session := newSourceSession(resolvedCfg, creds, logger)
	store := bundle.NewStore(args[6])

	driver := export.NewDriver(session.client, store, resolvedCfg.SearchQuery, resolvedCfg.PageSize, logger)
	rep, runErr := driver.Run(ctx)

	printExportReport(rep)

	credsOut, err := cmd.Flags().GetString("credentials-out")
	if err != nil {
		return err
	}

	if credsOut != "" {
		if err := captureCredentials(credsOut, session.holder, creds, logger); err != nil {
			return errors.Join(runErr, err)
		}
	}

	return runErr
}

func printExportReport(rep export.Report) {
	p := report.NewPrinter("")

	if err := rep.Wavelets.Write(os.Stdout, p, "wavelets", "exported"); err != nil {
		return
	}

	_, _ = p.Fprintf(os.Stdout, "documents: %d processed, %d failed\n", rep.Documents.Done, rep.Documents.Failed)
}

// captureCredentials saves the holder's current pair so a later run can
// start from the refreshed access token.
func captureCredentials(path string, holder *auth.Holder, creds config.SourceCredentials, logger *slog.Logger) error {
	meta := map[string]string{
		"user_id":     creds.UserID,
		"participant": creds.Participant,
	}

	if err := auth.SaveCredentials(path, holder.Credentials(), meta); err != nil {
		return fmt.Errorf("export: saving credentials: %w", err)
	}

	logger.Info("credentials saved",
		slog.String("path", path),
		slog.Int("refreshes", holder.Refreshes()),
	)

	return nil
}
