package config

import "path/filepath"

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultRPCURL          = "https://www-opensocial.googleusercontent.com/api/rpc"
	defaultTokenURL        = "https://accounts.google.com/o/oauth2/token"
	defaultSearchQuery     = "after:2000/01/01 before:2012/12/31"
	defaultPageSize        = 100
	defaultRequestTimeout  = "20s"
	defaultRetryStartDelay = "5ms"
	defaultRetryMaxDelay   = "200ms"
	defaultRetryMaxTotal   = "15s"
	defaultListenAddr      = "localhost:9898"
	defaultDBFileName      = "waves.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		SourceConfig: SourceConfig{
			RPCURL:         defaultRPCURL,
			TokenURL:       defaultTokenURL,
			SearchQuery:    defaultSearchQuery,
			PageSize:       defaultPageSize,
			RequestTimeout: defaultRequestTimeout,
		},
		ImportConfig: ImportConfig{
			ListenAddr: defaultListenAddr,
			DBPath:     defaultDBPath(),
		},
		RetryConfig: RetryConfig{
			RetryStartDelay: defaultRetryStartDelay,
			RetryMaxDelay:   defaultRetryMaxDelay,
			RetryMaxTotal:   defaultRetryMaxTotal,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

func defaultDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return defaultDBFileName
	}

	return filepath.Join(dir, defaultDBFileName)
}
