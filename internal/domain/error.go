package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrMethodNotFound    = errors.New("method not found")
	ErrInvalidParams     = errors.New("invalid params")
	ErrToolNotFound      = errors.New("tool not found")
	ErrResourceNotFound  = errors.New("resource not found")
	ErrServerNotFound    = errors.New("server not found")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrTurnLimitExceeded = errors.New("turn limit exceeded")
	ErrContextClosed     = errors.New("request context closed")
	ErrProcessDead       = errors.New("external process dead")
	ErrHandshakeTimeout  = errors.New("handshake timed out")
	ErrSpawnFailed       = errors.New("spawn failed")
	ErrExecutableNotFound = errors.New("executable not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrConfigInvalid     = errors.New("config invalid")
	ErrProviderDegraded  = errors.New("provider degraded")
	ErrConnectionClosed  = errors.New("connection closed")
)

// Error carries a typed failure across component boundaries. Op names
// the failing operation, Cause preserves the chain for errors.Is.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Op: op, Message: msg, Cause: cause}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
		}
	}
	return E(code, op, "", err)
}

// CodeFrom maps an error chain onto a coarse ErrorCode.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidParams):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrToolNotFound), errors.Is(err, ErrResourceNotFound),
		errors.Is(err, ErrServerNotFound), errors.Is(err, ErrAgentNotFound),
		errors.Is(err, ErrMethodNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrTurnLimitExceeded):
		return CodeResourceExhausted, true
	case errors.Is(err, ErrProcessDead), errors.Is(err, ErrProviderDegraded),
		errors.Is(err, ErrConnectionClosed):
		return CodeUnavailable, true
	case errors.Is(err, ErrHandshakeTimeout):
		return CodeDeadlineExceeded, true
	case errors.Is(err, ErrSpawnFailed), errors.Is(err, ErrExecutableNotFound),
		errors.Is(err, ErrConfigInvalid), errors.Is(err, ErrContextClosed):
		return CodeFailedPrecond, true
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied, true
	default:
		return "", false
	}
}
