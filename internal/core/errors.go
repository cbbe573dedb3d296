package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthenticated    = "unauthenticated"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeMuted              = "muted"
	ErrCodeTooFast            = "too_fast"
	ErrCodeTooManyConnections = "too_many_connections"
	ErrCodeStoreUnavailable   = "store_unavailable"
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeAlreadyJoined      = "already_joined"
)

var (
	// ErrTooManyConnections rejects a connection past the per-origin cap.
	ErrTooManyConnections = errors.New("too many connections from origin")
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
