package transport

import (
	"fmt"
	"net/http"
)

// maxErrorBody bounds how much of a response body goes into an error message.
const maxErrorBody = 2048

// HTTPError reports a response whose status the caller did not expect.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("transport: HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Temporary reports whether the status suggests the server may recover:
// request timeout, throttling, and 5xx.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// CheckStatus returns an *HTTPError unless the response has status want.
func CheckStatus(resp *Response, url string, want int) error {
	if resp.StatusCode == want {
		return nil
	}

	return &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        url,
		Body:       Abbrev(string(resp.Body), maxErrorBody),
	}
}

// Abbrev shortens s to at most n bytes for diagnostics.
func Abbrev(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + fmt.Sprintf("...(%d bytes total)", len(s))
}
