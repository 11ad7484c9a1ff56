package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/importer"
	"github.com/wavemigrate/wavemigrate/internal/report"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [<import-url> <domain>] <bundle-dir>",
		Short: "Post every exported bundle to a destination import endpoint",
		Long: `Post each bundle file in bundle-dir to the destination's import endpoint,
re-scoped to domain. The destination skips wavelets it already has, so the
command can be re-run. With only bundle-dir, import_url and import_domain
come from the configuration.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return errors.New("expected <bundle-dir> or <import-url> <domain> <bundle-dir>")
			}

			return nil
		},
		RunE: runImport,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	url, domain, dir := resolvedCfg.ImportURL, resolvedCfg.ImportDomain, args[len(args)-1]
	if len(args) == 3 {
		url, domain = args[0], args[1]
	}

	if url == "" || domain == "" {
		return errors.New("import: import URL and destination domain are required")
	}

	logger := buildLogger(os.Stderr)
	ctx := shutdownContext(cmd.Context(), logger)

	// No client timeout: the endpoint answers only after replaying every
	// delta of the bundle. Cancellation comes from ctx.
	client := importer.NewClient(url, &http.Client{}, logger)
	driver := importer.NewDriver(bundle.NewStore(dir), client, domain, logger)

	sum, runErr := driver.Run(ctx)

	if err := sum.Write(os.Stdout, report.NewPrinter(""), "bundles", "imported"); err != nil {
		return errors.Join(runErr, err)
	}

	return runErr
}
