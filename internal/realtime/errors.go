package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateConnection means a connection id collided in the registry.
	// Under uuid generation this is an invariant violation, not a user error.
	ErrDuplicateConnection = errors.New("duplicate connection id")

	// ErrShuttingDown rejects new connections while a graceful drain is in progress.
	ErrShuttingDown = errors.New("service is shutting down")

	// ErrAuthenticationFailed is fatal to a single connection attempt.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// ProtocolError describes a recoverable per-message problem (unknown type,
// schema-invalid payload). It is reported back to the sender as an error
// envelope; the connection stays open.
type ProtocolError struct {
	Code    string
	Message string
	// RequestID echoes the offending frame's request id when it could be
	// parsed, so the client can correlate the error reply.
	RequestID string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newProtocolError(code, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

const (
	codeUnknownType    = "UNKNOWN_TYPE"
	codeInvalidPayload = "INVALID_PAYLOAD"
	codeMalformedJSON  = "MALFORMED_JSON"
	codeAIUnavailable  = "AI_UNAVAILABLE"
)
