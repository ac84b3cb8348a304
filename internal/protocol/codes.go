package protocol

import "fmt"

// Code is a stable, user-visible error code carried in ERROR frames and HTTP
// error bodies.
type Code string

const (
	CodeAuthRequired      Code = "AUTH_REQUIRED"
	CodeAuthInvalid       Code = "AUTH_INVALID"
	CodeAuthDenied        Code = "AUTH_DENIED"
	CodeAuthTimeout       Code = "AUTH_TIMEOUT"
	CodeComponentNotFound Code = "COMPONENT_NOT_FOUND"
	CodeActionNotPublic   Code = "ACTION_NOT_PUBLIC"
	CodeActionFailed      Code = "ACTION_FAILED"
	CodeInvalidPayload    Code = "INVALID_PAYLOAD"
	CodeRateLimited       Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// WireError is an error with a stable wire code. Validation and authorization
// failures travel to clients as correlated ERROR frames built from one of
// these.
type WireError struct {
	Code    Code
	Message string
}

func (e *WireError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Errf builds a WireError with a formatted message.
func Errf(code Code, format string, args ...any) *WireError {
	return &WireError{Code: code, Message: fmt.Sprintf(format, args...)}
}
