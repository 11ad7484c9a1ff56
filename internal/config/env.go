package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string `env:"WAVEMIGRATE_CONFIG"`
	RPCURL       string `env:"WAVEMIGRATE_RPC_URL"`
	TokenURL     string `env:"WAVEMIGRATE_TOKEN_URL"`
	LogLevel     string `env:"WAVEMIGRATE_LOG_LEVEL"`
	OTLPEndpoint string `env:"WAVEMIGRATE_OTLP_ENDPOINT"`
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse env: %w", err)
	}

	return o, nil
}

// SourceCredentials are the OAuth inputs for talking to the source service.
// export takes them as positional arguments; fetch and search read them from
// the environment.
type SourceCredentials struct {
	ClientID     string `env:"WAVEMIGRATE_CLIENT_ID"`
	ClientSecret string `env:"WAVEMIGRATE_CLIENT_SECRET"`
	UserID       string `env:"WAVEMIGRATE_USER_ID"`
	Participant  string `env:"WAVEMIGRATE_PARTICIPANT"`
	RefreshToken string `env:"WAVEMIGRATE_REFRESH_TOKEN"`
	AccessToken  string `env:"WAVEMIGRATE_ACCESS_TOKEN"`
}

// ReadSourceCredentials reads SourceCredentials from the environment.
func ReadSourceCredentials() (SourceCredentials, error) {
	var c SourceCredentials
	if err := env.Parse(&c); err != nil {
		return SourceCredentials{}, fmt.Errorf("parse env: %w", err)
	}

	return c, nil
}

// Validate requires the fields a token refresh needs. An empty access
// token is allowed: the first call then refreshes.
func (c SourceCredentials) Validate() error {
	var errs []error

	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}

	if c.ClientSecret == "" {
		errs = append(errs, errors.New("client secret is required"))
	}

	if c.RefreshToken == "" {
		errs = append(errs, errors.New("refresh token is required"))
	}

	return errors.Join(errs...)
}
