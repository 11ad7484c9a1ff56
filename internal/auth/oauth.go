package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is the token endpoint of the source service.
const DefaultTokenURL = "https://accounts.google.com/o/oauth2/token"

// OAuthRefresher performs the refresh_token grant against a token endpoint.
// Only refresh is supported; the authorization-code exchange that produced
// the initial pair happens elsewhere.
type OAuthRefresher struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

// NewOAuthRefresher creates a refresher for the given OAuth client. A nil
// httpClient uses the oauth2 package default.
func NewOAuthRefresher(clientID, clientSecret, tokenURL string, httpClient *http.Client) *OAuthRefresher {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return &OAuthRefresher{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// Refresh implements Refresher. Transport failures are returned as-is so
// callers can retry them; any answer from the token endpoint other than a
// usable token is ErrReauthorizationRequired.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (Credentials, error) {
	if refreshToken == "" {
		return Credentials{}, fmt.Errorf("%w: no refresh token", ErrReauthorizationRequired)
	}

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// A token without an access token is never valid, so the source goes
	// straight to the refresh grant.
	tok, err := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return Credentials{}, fmt.Errorf("auth: contacting token endpoint: %w", err)
		}

		return Credentials{}, fmt.Errorf("%w: %w", ErrReauthorizationRequired, err)
	}

	return Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}
