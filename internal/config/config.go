// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for wavemigrate. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// All keys are flat; the section structs below only group them in code.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	SourceConfig
	ImportConfig
	RetryConfig
	LoggingConfig
	TelemetryConfig
}

// SourceConfig describes the service content is exported from.
type SourceConfig struct {
	RPCURL         string `toml:"rpc_url"`
	TokenURL       string `toml:"token_url"`
	SearchQuery    string `toml:"search_query"`
	PageSize       int    `toml:"page_size"`
	RequestTimeout string `toml:"request_timeout"`
}

// ImportConfig describes the destination: where bundles are posted, and
// where serve-import listens and keeps its wavelet store.
type ImportConfig struct {
	ImportURL    string `toml:"import_url"`
	ImportDomain string `toml:"import_domain"`
	ListenAddr   string `toml:"listen_addr"`
	DBPath       string `toml:"db_path"`
}

// RetryConfig is the backoff for robot API calls. Each delay is random in
// [0, min(retry_max_delay, retry_start_delay * 2^attempt)]; retrying stops
// once retry_max_total has elapsed.
type RetryConfig struct {
	RetryStartDelay string `toml:"retry_start_delay"`
	RetryMaxDelay   string `toml:"retry_max_delay"`
	RetryMaxTotal   string `toml:"retry_max_total"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// TelemetryConfig enables trace export. Tracing is off when the endpoint
// is empty.
type TelemetryConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath  string // --config flag (empty = use default)
	LogLevel    *string
	RPCURL      *string
	SearchQuery *string
	PageSize    *int
	ListenAddr  *string
	DBPath      *string
}

// RetryDelays is the parsed form of RetryConfig.
type RetryDelays struct {
	Start time.Duration
	Max   time.Duration
	Total time.Duration
}

// Retry returns the parsed retry delays. Only meaningful on a validated
// Config; unparsable values come back as zero.
func (c *Config) Retry() RetryDelays {
	return RetryDelays{
		Start: mustDuration(c.RetryStartDelay),
		Max:   mustDuration(c.RetryMaxDelay),
		Total: mustDuration(c.RetryMaxTotal),
	}
}

// Timeout returns the parsed request timeout. Only meaningful on a
// validated Config.
func (c *Config) Timeout() time.Duration {
	return mustDuration(c.RequestTimeout)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
