package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wavemigrate/wavemigrate/internal/transport"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

const bundleContentType = "application/json; charset=UTF-8"

// Client posts bundles to an import endpoint. Posts are not retried: a
// bundle that failed mid-way has partially applied deltas and must not be
// replayed blindly.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the endpoint at url.
func NewClient(url string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{url: url, httpClient: httpClient, logger: logger}
}

// Post sends one bundle for name to the destination domain, with both ids
// re-scoped to that domain in the headers. A 200 body of
// "skipped" means the destination already had the wavelet; any other 200
// body means it was imported. Any other status is an error carrying the
// response body.
func (c *Client) Post(ctx context.Context, domain string, name waveid.WaveletName, data []byte) (Outcome, error) {
	// The endpoint takes the ids as the wavelet's destination identity.
	target, err := name.Rescope(domain)
	if err != nil {
		return Imported, fmt.Errorf("importer: %s: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return Imported, fmt.Errorf("importer: creating request: %w", err)
	}

	req.Header.Set("Content-Type", bundleContentType)
	req.Header.Set(HeaderDomain, domain)
	req.Header.Set(HeaderWaveID, target.Wave.String())
	req.Header.Set(HeaderWaveletID, target.Wavelet.String())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	c.logger.Debug("posting bundle",
		slog.String("wavelet", name.String()),
		slog.Int("bytes", len(data)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Imported, fmt.Errorf("importer: posting %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Imported, fmt.Errorf("importer: reading response for %s: %w", name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Imported, &transport.HTTPError{
			StatusCode: resp.StatusCode,
			URL:        c.url,
			Body:       string(body),
		}
	}

	if strings.TrimSpace(string(body)) == tokenSkipped {
		return Skipped, nil
	}

	return Imported, nil
}
