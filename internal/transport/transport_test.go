package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/wavemigrate/wavemigrate/internal/auth"
)

// fakeHolder hands out "token-N" where N is the number of refreshes so far.
type fakeHolder struct {
	refreshes atomic.Int32
	err       error
}

func (h *fakeHolder) AccessToken() string {
	return "token-" + string(rune('0'+h.refreshes.Load()))
}

func (h *fakeHolder) Refresh(context.Context) error {
	if h.err != nil {
		return h.err
	}

	h.refreshes.Add(1)

	return nil
}

func newTestTransport(holder TokenHolder) *Transport {
	return New(http.DefaultClient, holder, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDo_SignsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-0", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := newTestTransport(&fakeHolder{})

	resp, err := tr.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"a":1}`),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, "text/plain", resp.MediaType())
}

func TestDo_RefreshOnceThenSucceed(t *testing.T) {
	var sends atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)

		if r.Header.Get("Authorization") == "Bearer token-0" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body), "body resent after refresh")
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	holder := &fakeHolder{}
	tr := newTestTransport(holder)

	resp, err := tr.Do(context.Background(), &Request{Method: http.MethodPost, URL: srv.URL, Body: []byte("payload")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, int32(1), holder.refreshes.Load())
	assert.Equal(t, int32(2), sends.Load())
}

func TestDo_RefreshNeededTwiceFailsPermanently(t *testing.T) {
	var sends atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sends.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	holder := &fakeHolder{}
	tr := newTestTransport(holder)

	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.ErrorIs(t, err, auth.ErrReauthorizationRequired)
	assert.NotErrorIs(t, err, ErrIO)
	assert.Equal(t, int32(1), holder.refreshes.Load())
	assert.Equal(t, int32(2), sends.Load())
}

func TestDo_CustomPredicate(t *testing.T) {
	var sends atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)

		if r.Header.Get("Authorization") == "Bearer token-0" {
			_, _ = w.Write([]byte("expired"))
			return
		}

		_, _ = w.Write([]byte("fine"))
	}))
	defer srv.Close()

	holder := &fakeHolder{}
	tr := newTestTransport(holder)

	bodySaysExpired := func(resp *Response) bool { return string(resp.Body) == "expired" }

	resp, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL}, bodySaysExpired)
	require.NoError(t, err)
	assert.Equal(t, "fine", string(resp.Body))
	assert.Equal(t, int32(1), holder.refreshes.Load())
	assert.Equal(t, int32(2), sends.Load())
}

func TestDo_NoRefreshOnOtherStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	holder := &fakeHolder{}
	tr := newTestTransport(holder)

	resp, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(0), holder.refreshes.Load())
}

func TestDo_RefreshRevoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	holder := &fakeHolder{err: auth.ErrReauthorizationRequired}
	tr := newTestTransport(holder)

	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.ErrorIs(t, err, auth.ErrReauthorizationRequired)
	assert.NotErrorIs(t, err, ErrIO)
}

func TestDo_RefreshEndpointDownIsIO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	holder := &fakeHolder{err: errors.New("dial tcp: connection refused")}
	tr := newTestTransport(holder)

	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.ErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, auth.ErrReauthorizationRequired)
}

func TestDo_NetworkErrorIsIO(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := newTestTransport(&fakeHolder{})

	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: url}, nil)
	require.ErrorIs(t, err, ErrIO)
}

func TestDo_CanceledContextIsNotIO(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newTestTransport(&fakeHolder{})

	_, err := tr.Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrIO)
}

func TestCheckStatus(t *testing.T) {
	require.NoError(t, CheckStatus(&Response{StatusCode: 200}, "http://x", 200))

	err := CheckStatus(&Response{StatusCode: 503, Body: []byte("busy")}, "http://x", 200)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 503, httpErr.StatusCode)
	assert.Equal(t, "busy", httpErr.Body)
	assert.True(t, httpErr.Temporary())

	assert.False(t, (&HTTPError{StatusCode: 400}).Temporary())
}

func TestAbbrev(t *testing.T) {
	assert.Equal(t, "short", Abbrev("short", 10))
	assert.Equal(t, "abc...(6 bytes total)", Abbrev("abcdef", 3))
}

func TestDo_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0xf7, 0x65, 0x19, 0x16, 0xcd, 0x43, 0xdd, 0x84, 0x48, 0xeb, 0x21, 0x1c, 0x80, 0x31, 0x9c},
		SpanID:     trace.SpanID{0xb7, 0xad, 0x6b, 0x71, 0x69, 0x20, 0x33, 0x31},
		TraceFlags: trace.FlagsSampled,
	})

	var got string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("traceparent")
	}))
	defer srv.Close()

	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	_, err := newTestTransport(&fakeHolder{}).Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01", got)
}
