// Package auth owns the OAuth2 credential pair used to sign robot API
// requests. A Holder is the only mutable state shared across calls in a run;
// it changes only through Refresh, and refreshes are serialized.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Sentinel errors. Both are fatal for the holder: retrying cannot fix them.
var (
	// ErrReauthorizationRequired means the token endpoint refused the refresh
	// token or answered without an access token. The user must authorize again.
	ErrReauthorizationRequired = errors.New("auth: re-authorization required")

	// ErrRefreshTokenChanged means a refresh returned a different refresh
	// token. The upstream protocol keeps refresh tokens stable, so a change
	// means client and server state have diverged.
	ErrRefreshTokenChanged = errors.New("auth: refresh token changed during refresh")
)

// Credentials is the OAuth2 token pair. Never log these values.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresher exchanges a refresh token for a new credential pair. An empty
// RefreshToken in the result means "unchanged".
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credentials, error)
}

// Holder provides thread-safe access to the current credentials and
// serializes refreshes: concurrent callers of Refresh share one exchange.
type Holder struct {
	mu    sync.RWMutex
	creds Credentials

	refresher Refresher
	flight    singleflight.Group
	logger    *slog.Logger

	refreshes int
	onChange  func(Credentials)
}

// NewHolder creates a Holder seeded with the credentials supplied at start.
func NewHolder(creds Credentials, refresher Refresher, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Holder{
		creds:     creds,
		refresher: refresher,
		logger:    logger,
	}
}

// OnChange registers fn to be called after each successful refresh, outside
// the holder's lock. Call before the holder is shared.
func (h *Holder) OnChange(fn func(Credentials)) {
	h.onChange = fn
}

// AccessToken returns the current bearer token.
func (h *Holder) AccessToken() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.creds.AccessToken
}

// Credentials returns a snapshot of the current pair, e.g. for capture at
// shutdown.
func (h *Holder) Credentials() Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.creds
}

// Refreshes returns how many refreshes have succeeded.
func (h *Holder) Refreshes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.refreshes
}

// Refresh obtains a new access token. Concurrent calls coalesce into a
// single exchange and all observe its result.
func (h *Holder) Refresh(ctx context.Context) error {
	_, err, shared := h.flight.Do("refresh", func() (any, error) {
		return nil, h.refresh(ctx)
	})

	if shared {
		h.logger.Debug("joined in-flight token refresh")
	}

	return err
}

func (h *Holder) refresh(ctx context.Context) error {
	if h.refresher == nil {
		return fmt.Errorf("%w: no refresher configured", ErrReauthorizationRequired)
	}

	current := h.Credentials()

	next, err := h.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		h.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		return err
	}

	if next.AccessToken == "" {
		return fmt.Errorf("%w: refresh response has no access token", ErrReauthorizationRequired)
	}

	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	if next.RefreshToken != current.RefreshToken {
		h.logger.Error("refresh token changed during refresh, refusing new credentials")
		return ErrRefreshTokenChanged
	}

	h.mu.Lock()
	h.creds = next
	h.refreshes++
	count := h.refreshes
	h.mu.Unlock()

	h.logger.Info("access token refreshed", slog.Int("refreshes", count))

	if h.onChange != nil {
		h.onChange(next)
	}

	return nil
}
