package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/config"
	"github.com/wavemigrate/wavemigrate/internal/telemetry"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// resolvedCfgPath is the config file consulted, for "config show".
var resolvedCfgPath string

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wavemigrate",
		Short:   "Wave history migration tool",
		Long:    "Export wavelet delta histories from a Wave server and replay them into another.",
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newServeImportCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer override
// chain and stores the result in resolvedCfg for use by subcommands. Command
// flags that mirror config keys only override when explicitly set.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath:  flagConfigPath,
		RPCURL:      stringFlag(cmd, "rpc-url"),
		SearchQuery: stringFlag(cmd, "query"),
		PageSize:    intFlag(cmd, "page-size"),
		ListenAddr:  stringFlag(cmd, "listen"),
		DBPath:      stringFlag(cmd, "db"),
	}

	env, err := config.ReadEnvOverrides()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, path, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

func stringFlag(cmd *cobra.Command, name string) *string {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}

	v := f.Value.String()

	return &v
}

func intFlag(cmd *cobra.Command, name string) *int {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}

	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return nil
	}

	return &v
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it. With log_format "auto" the handler is text on a
// terminal and JSON otherwise. Every logger carries a fresh run_id.
func buildLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.LogFormat
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if format == "json" || (format == "auto" && !isTerminal(w)) {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With(slog.String("run_id", uuid.NewString()))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newHTTPClient returns an HTTP client with the configured request timeout.
// Prevents hung connections from blocking a long batch indefinitely.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: resolvedCfg.Timeout()}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// setupTelemetry enables tracing when otlp_endpoint is configured. The
// returned func flushes spans with a fresh context so an interrupted run
// still exports what it recorded.
func setupTelemetry(ctx context.Context, logger *slog.Logger) (func(), error) {
	shutdown, err := telemetry.Setup(ctx, resolvedCfg.OTLPEndpoint, "wavemigrate", version)
	if err != nil {
		return func() {}, err
	}

	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
	}, nil
}
