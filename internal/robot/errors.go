package robot

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, robot.ErrProtocol) to check.
var (
	// ErrProtocol covers malformed envelopes, id mismatches, responses with
	// neither data nor error, and digest-count mismatches. Never retried.
	ErrProtocol = errors.New("robot: protocol violation")

	// ErrEmptyData is the server's habit of answering {"data":{}} on internal
	// faults. Treated as transient I/O.
	ErrEmptyData = errors.New("robot: empty data in response")

	// ErrContentType means the response was not the expected JSON type.
	// Treated as transient I/O.
	ErrContentType = errors.New("robot: unexpected content type")
)

// maxPayload bounds the raw payload copied into diagnostics.
const maxPayload = 4096

// ProtocolError carries the offending raw payload along with the reason.
type ProtocolError struct {
	Method  string
	Reason  string
	Payload string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("robot: %s: %s: %s", e.Method, e.Reason, e.Payload)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// RPCError is an error object returned by the server for one operation.
type RPCError struct {
	Method  string
	Code    int64
	Message string

	// Payload is the raw JSON of the error object.
	Payload string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("robot: %s failed (code %d): %s", e.Method, e.Code, e.Message)
	}

	return fmt.Sprintf("robot: %s failed: %s", e.Method, e.Payload)
}
