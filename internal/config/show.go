package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as TOML-like text to w,
// annotated with the config file it came from. Powers "config show".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	if path == "" {
		ew.printf("# Effective configuration (no config file)\n\n")
	} else {
		ew.printf("# Effective configuration (file: %s)\n\n", path)
	}

	ew.printf("# source\n")
	ew.printf("rpc_url           = %q\n", cfg.RPCURL)
	ew.printf("token_url         = %q\n", cfg.TokenURL)
	ew.printf("search_query      = %q\n", cfg.SearchQuery)
	ew.printf("page_size         = %d\n", cfg.PageSize)
	ew.printf("request_timeout   = %q\n\n", cfg.RequestTimeout)

	ew.printf("# import\n")
	ew.printf("import_url        = %q\n", cfg.ImportURL)
	ew.printf("import_domain     = %q\n", cfg.ImportDomain)
	ew.printf("listen_addr       = %q\n", cfg.ListenAddr)
	ew.printf("db_path           = %q\n\n", cfg.DBPath)

	ew.printf("# retry\n")
	ew.printf("retry_start_delay = %q\n", cfg.RetryStartDelay)
	ew.printf("retry_max_delay   = %q\n", cfg.RetryMaxDelay)
	ew.printf("retry_max_total   = %q\n\n", cfg.RetryMaxTotal)

	ew.printf("# logging\n")
	ew.printf("log_level         = %q\n", cfg.LogLevel)
	ew.printf("log_format        = %q\n", cfg.LogFormat)

	if cfg.OTLPEndpoint != "" {
		ew.printf("\n# telemetry\n")
		ew.printf("otlp_endpoint     = %q\n", cfg.OTLPEndpoint)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
