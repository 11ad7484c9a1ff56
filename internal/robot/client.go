// Package robot implements the source service's JSON robot API: a batched
// RPC envelope carrying exactly one operation per request. Calls go through
// the authorized transport and are retried on transient failures.
package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wavemigrate/wavemigrate/internal/retry"
	"github.com/wavemigrate/wavemigrate/internal/transport"
)

// Wire constants.
const (
	// OpID correlates the single operation of a request with its response.
	// It is fixed: every request carries exactly one operation.
	OpID = "op_id"

	// ContentType is both the request type and the exact response type
	// required.
	ContentType = "application/json; charset=UTF-8"

	// DefaultURL is the source service's robot RPC endpoint.
	DefaultURL = "https://www-opensocial.googleusercontent.com/api/rpc"
)

const tracerName = "github.com/wavemigrate/wavemigrate/internal/robot"

// Doer sends authorized requests. *transport.Transport implements it.
type Doer interface {
	Do(ctx context.Context, req *transport.Request, needsRefresh transport.RefreshNeeded) (*transport.Response, error)
}

// Client calls robot API methods. It holds no per-call state.
type Client struct {
	rpcURL string
	doer   Doer
	exec   *retry.Executor
	logger *slog.Logger
	tracer trace.Tracer
}

// NewClient creates a robot API client. A nil exec never retries.
func NewClient(rpcURL string, doer Doer, exec *retry.Executor, logger *slog.Logger) *Client {
	if rpcURL == "" {
		rpcURL = DefaultURL
	}

	if logger == nil {
		logger = slog.Default()
	}

	if exec == nil {
		exec = retry.New(retry.NoRetry, logger)
	}

	return &Client{
		rpcURL: rpcURL,
		doer:   doer,
		exec:   exec,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// operation is one element of the request array.
type operation struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// responseItem is the single element of the response array.
type responseItem struct {
	ID    *string         `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

// result is a validated response: the whole item and its data object.
type result struct {
	item json.RawMessage
	data json.RawMessage
}

// NeedsRefresh reports an expired token: HTTP 401, or a well-typed
// envelope whose error object has code 401.
func NeedsRefresh(resp *transport.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}

	if resp.ContentType() != ContentType {
		return false
	}

	code := gjson.GetBytes(resp.Body, "0.error.code")

	return code.Exists() && code.Int() == http.StatusUnauthorized
}

// call sends one operation and returns the validated result. Transport I/O
// failures, content-type mismatches and empty data are retried under the
// client's executor.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (*result, error) {
	ctx, span := c.tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)
	defer span.End()

	body, err := json.Marshal([]operation{{ID: OpID, Method: method, Params: params}})
	if err != nil {
		return nil, fmt.Errorf("robot: encoding %s request: %w", method, err)
	}

	req := &transport.Request{
		Method: http.MethodPost,
		URL:    c.rpcURL,
		Header: http.Header{"Content-Type": {ContentType}},
		Body:   body,
	}

	c.logger.Debug("robot call", slog.String("method", method), slog.String("payload", string(body)))

	var (
		res      *result
		attempts int
	)

	err = c.exec.Run(ctx, func(ctx context.Context) error {
		attempts++

		resp, doErr := c.doer.Do(ctx, req, NeedsRefresh)
		if doErr != nil {
			if errors.Is(doErr, transport.ErrIO) {
				return retry.Transient(doErr)
			}

			return doErr
		}

		r, decodeErr := decode(method, c.rpcURL, resp)
		if decodeErr != nil {
			return decodeErr
		}

		res = r

		return nil
	})

	span.SetAttributes(attribute.Int("rpc.attempts", attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	c.logger.Debug("robot result",
		slog.String("method", method),
		slog.String("result", transport.Abbrev(string(res.item), 500)),
	)

	return res, nil
}

// decode validates the response envelope.
func decode(method, url string, resp *transport.Response) (*result, error) {
	ct := resp.ContentType()

	if resp.StatusCode != http.StatusOK {
		statusErr := transport.CheckStatus(resp, url, http.StatusOK)

		var httpErr *transport.HTTPError
		if errors.As(statusErr, &httpErr) && httpErr.Temporary() {
			return nil, retry.Transient(statusErr)
		}

		// Error envelopes may arrive with a non-200 status. Anything else
		// is reported as the HTTP failure it is.
		if ct != ContentType {
			return nil, statusErr
		}
	}

	if ct != ContentType {
		return nil, retry.Transient(fmt.Errorf("%w: %s got %q, want %q", ErrContentType, method, ct, ContentType))
	}

	protoErr := func(reason string, payload []byte) error {
		return &ProtocolError{Method: method, Reason: reason, Payload: transport.Abbrev(string(payload), maxPayload)}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, protoErr("malformed envelope: "+err.Error(), resp.Body)
	}

	if len(items) != 1 {
		return nil, protoErr(fmt.Sprintf("expected 1 item, got %d", len(items)), resp.Body)
	}

	var it responseItem
	if err := json.Unmarshal(items[0], &it); err != nil {
		return nil, protoErr("malformed item: "+err.Error(), items[0])
	}

	if it.ID == nil || *it.ID != OpID {
		return nil, protoErr("unexpected id", items[0])
	}

	if present(it.Error) {
		return nil, &RPCError{
			Method:  method,
			Code:    gjson.GetBytes(it.Error, "code").Int(),
			Message: gjson.GetBytes(it.Error, "message").String(),
			Payload: transport.Abbrev(string(it.Error), maxPayload),
		}
	}

	if !present(it.Data) {
		return nil, protoErr("result has neither error nor data", items[0])
	}

	if !gjson.ParseBytes(it.Data).IsObject() {
		return nil, protoErr("data is not an object", items[0])
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(it.Data, &keys); err != nil {
		return nil, protoErr("malformed data: "+err.Error(), items[0])
	}

	if len(keys) == 0 {
		return nil, retry.Transient(fmt.Errorf("%w: %s: %s", ErrEmptyData, method, items[0]))
	}

	return &result{item: items[0], data: it.Data}, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
