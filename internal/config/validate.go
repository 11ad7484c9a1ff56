package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minPageSize       = 1
	maxPageSize       = 1000
	minRequestTimeout = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSource(&cfg.SourceConfig)...)
	errs = append(errs, validateImport(&cfg.ImportConfig)...)
	errs = append(errs, validateRetry(&cfg.RetryConfig)...)
	errs = append(errs, validateLogLevel(cfg.LogLevel)...)
	errs = append(errs, validateLogFormat(cfg.LogFormat)...)

	if cfg.OTLPEndpoint != "" {
		errs = append(errs, validateHTTPURL("otlp_endpoint", cfg.OTLPEndpoint)...)
	}

	return errors.Join(errs...)
}

func validateSource(s *SourceConfig) []error {
	var errs []error

	errs = append(errs, validateHTTPURL("rpc_url", s.RPCURL)...)
	errs = append(errs, validateHTTPURL("token_url", s.TokenURL)...)

	if s.SearchQuery == "" {
		errs = append(errs, errors.New("search_query: must not be empty"))
	}

	if s.PageSize < minPageSize || s.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, s.PageSize))
	}

	errs = append(errs, validateDurationMin("request_timeout", s.RequestTimeout, minRequestTimeout)...)

	return errs
}

func validateImport(i *ImportConfig) []error {
	var errs []error

	if i.ImportURL != "" {
		errs = append(errs, validateHTTPURL("import_url", i.ImportURL)...)
	}

	if _, _, err := net.SplitHostPort(i.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen_addr: %w", err))
	}

	if i.DBPath == "" {
		errs = append(errs, errors.New("db_path: must not be empty"))
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	start, errStart := parsePositive("retry_start_delay", r.RetryStartDelay)
	maxDelay, errMax := parsePositive("retry_max_delay", r.RetryMaxDelay)
	total, errTotal := parsePositive("retry_max_total", r.RetryMaxTotal)

	errs := nonNil(errStart, errMax, errTotal)
	if len(errs) > 0 {
		return errs
	}

	if start > maxDelay {
		errs = append(errs, fmt.Errorf("retry_start_delay: must not exceed retry_max_delay (%s > %s)",
			r.RetryStartDelay, r.RetryMaxDelay))
	}

	if maxDelay > total {
		errs = append(errs, fmt.Errorf("retry_max_delay: must not exceed retry_max_total (%s > %s)",
			r.RetryMaxDelay, r.RetryMaxTotal))
	}

	return errs
}

func parsePositive(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, value)
	}

	return d, nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, value)}
	}

	return nil
}

func validateHTTPURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an http or https URL, got %q", field, value)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func nonNil(errs ...error) []error {
	var out []error

	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}

	return out
}
