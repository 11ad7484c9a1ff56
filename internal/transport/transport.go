// Package transport signs HTTP requests with the current OAuth2 access token
// and recovers from token expiry without caller involvement. Each logical
// call sends at most twice with at most one refresh in between:
//
//	SEND -> CHECK -> DONE
//	              -> REFRESH_AND_RETRY -> SEND -> CHECK -> DONE | FAIL
//
// A second "refresh needed" right after a refresh means the grant was revoked,
// so it fails with auth.ErrReauthorizationRequired instead of looping.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wavemigrate/wavemigrate/internal/auth"
)

const userAgent = "wavemigrate/0.1"

// ErrIO marks network-level failures (connection refused, reset, timeout,
// truncated body) and token-endpoint outages. Callers usually retry these.
var ErrIO = errors.New("transport: I/O failure")

// TokenHolder provides the bearer token and refreshes it on demand. Defined
// at the consumer; *auth.Holder is the real implementation.
type TokenHolder interface {
	AccessToken() string
	Refresh(ctx context.Context) error
}

// Request is a fully buffered outgoing request. Buffering lets the transport
// resend the same body after a refresh.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the raw Content-Type header value.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// MediaType returns the Content-Type without parameters, lower-cased. Returns
// "" when the header is missing or malformed.
func (r *Response) MediaType() string {
	mt, _, err := mime.ParseMediaType(r.ContentType())
	if err != nil {
		return ""
	}

	return mt
}

// RefreshNeeded inspects a response and reports whether the access token was
// rejected.
type RefreshNeeded func(resp *Response) bool

// StatusUnauthorized is the default RefreshNeeded: HTTP 401.
func StatusUnauthorized(resp *Response) bool {
	return resp.StatusCode == http.StatusUnauthorized
}

// Transport is the authorized HTTP transport. Safe for concurrent use as
// long as the TokenHolder is.
type Transport struct {
	httpClient *http.Client
	holder     TokenHolder
	logger     *slog.Logger
}

// New creates a Transport. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, holder TokenHolder, logger *slog.Logger) *Transport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		httpClient: httpClient,
		holder:     holder,
		logger:     logger,
	}
}

// Do sends req signed with the current access token. A nil needsRefresh
// means StatusUnauthorized. Responses of any status are returned; judging
// them is the caller's job.
func (t *Transport) Do(ctx context.Context, req *Request, needsRefresh RefreshNeeded) (*Response, error) {
	if needsRefresh == nil {
		needsRefresh = StatusUnauthorized
	}

	resp, err := t.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if !needsRefresh(resp) {
		return resp, nil
	}

	t.logger.Info("access token rejected, refreshing",
		slog.String("url", req.URL),
		slog.Int("status", resp.StatusCode),
	)

	if err := t.holder.Refresh(ctx); err != nil {
		return nil, t.classifyRefreshError(ctx, err)
	}

	resp, err = t.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if needsRefresh(resp) {
		t.logger.Error("access token rejected again after refresh",
			slog.String("url", req.URL),
			slog.Int("status", resp.StatusCode),
		)

		return nil, fmt.Errorf("%w: %s %s still unauthorized after refresh (HTTP %d)",
			auth.ErrReauthorizationRequired, req.Method, req.URL, resp.StatusCode)
	}

	return resp, nil
}

// classifyRefreshError keeps authorization failures fatal and turns
// everything else (token endpoint unreachable) into ErrIO.
func (t *Transport) classifyRefreshError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrReauthorizationRequired), errors.Is(err, auth.ErrRefreshTokenChanged):
		return fmt.Errorf("transport: refreshing credentials: %w", err)
	case ctx.Err() != nil:
		return fmt.Errorf("transport: refresh canceled: %w", ctx.Err())
	default:
		return fmt.Errorf("%w: refreshing credentials: %w", ErrIO, err)
	}
}

// send performs one signed round trip and reads the whole body.
func (t *Transport) send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("transport: creating request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpReq.Header.Set("Authorization", "Bearer "+t.holder.AccessToken())
	httpReq.Header.Set("User-Agent", userAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transport: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrIO, req.Method, req.URL, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transport: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: reading response from %s: %w", ErrIO, req.URL, err)
	}

	t.logger.Debug("request completed",
		slog.String("method", req.Method),
		slog.String("url", req.URL),
		slog.Int("status", httpResp.StatusCode),
		slog.Int("bytes", len(data)),
	)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}
