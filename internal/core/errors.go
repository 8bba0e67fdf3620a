package core

import "errors"

// Error codes sent to clients in error frames.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeUnknownType       = "unknown_type"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeForbidden         = "forbidden"
	ErrCodeNotFound          = "not_found"
	ErrCodeRecipientNotFound = "recipient_not_found"
	ErrCodeStatusRegression  = "status_regression"
	ErrCodeStoreUnavailable  = "store_unavailable"
	ErrCodeRateLimited       = "rate_limited"
)

var (
	// ErrUnauthorized is returned by Accept when the credential does not resolve to a user.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClientClosed is returned by Send after the client has been closed.
	ErrClientClosed = errors.New("client closed")
	// ErrSlowConsumer is returned by Send when the outbound buffer is full.
	ErrSlowConsumer = errors.New("client send buffer full")
	// ErrShuttingDown is returned by Accept once the coordinator is shutting down.
	ErrShuttingDown = errors.New("server shutting down")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
