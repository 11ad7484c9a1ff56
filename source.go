package main

import (
	"log/slog"

	"github.com/wavemigrate/wavemigrate/internal/auth"
	"github.com/wavemigrate/wavemigrate/internal/config"
	"github.com/wavemigrate/wavemigrate/internal/retry"
	"github.com/wavemigrate/wavemigrate/internal/robot"
	"github.com/wavemigrate/wavemigrate/internal/transport"
)

// sourceSession is an authenticated robot API client and the credential
// holder behind it.
type sourceSession struct {
	client *robot.Client
	holder *auth.Holder
}

// newSourceSession wires the source stack: OAuth refresher, credential
// holder, authorized transport, and a robot client retrying under the
// configured backoff. Refreshes are logged without token values.
func newSourceSession(cfg *config.Config, creds config.SourceCredentials, logger *slog.Logger) *sourceSession {
	httpClient := newHTTPClient()

	refresher := auth.NewOAuthRefresher(creds.ClientID, creds.ClientSecret, cfg.TokenURL, httpClient)
	holder := auth.NewHolder(auth.Credentials{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
	}, refresher, logger)

	holder.OnChange(func(auth.Credentials) {
		logger.Info("access token refreshed", slog.String("user_id", creds.UserID))
	})

	delays := cfg.Retry()
	exec := retry.New(retry.Backoff{
		StartDelay: delays.Start,
		MaxDelay:   delays.Max,
		MaxTotal:   delays.Total,
	}, logger)

	tr := transport.New(httpClient, holder, logger)

	return &sourceSession{
		client: robot.NewClient(cfg.RPCURL, tr, exec, logger),
		holder: holder,
	}
}
