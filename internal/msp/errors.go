package msp

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream API failure so callers can decide between
// retrying, surfacing a credential problem, or giving up.
type Kind int

const (
	// KindConnection covers transport failures and timeouts. Transient.
	KindConnection Kind = iota + 1
	// KindAuth is a definitive credential rejection (401). Terminal.
	KindAuth
	// KindPermission is an account-scope rejection (403). Terminal.
	KindPermission
	// KindRateLimit is HTTP 429 after the retry budget. The next scheduled
	// poll is the real backstop.
	KindRateLimit
	// KindServer is HTTP 5xx after the retry budget. Terminal for this cycle.
	KindServer
	// KindUpstream is any other 4xx. Terminal, never retried.
	KindUpstream
	// KindValidation is a caller-input error (empty id, missing field).
	// Never sent upstream.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindUpstream:
		return "upstream"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the single error type crossing the client boundary.
// Transport and HTTP failures are translated into it exactly once, in
// doRequest; nothing above the client re-wraps errors ad hoc.
type Error struct {
	Kind    Kind
	Op      string // "GET /rules", "POST /rules/{id}/pause", ...
	Status  int    // HTTP status, if any
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("msp %s: %s (HTTP %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("msp %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrKind extracts the Kind from err, or 0 if err is not a client error.
func ErrKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsAuth reports whether err is a terminal authentication failure.
func IsAuth(err error) bool { return ErrKind(err) == KindAuth }

// IsValidation reports whether err is a caller-input error.
func IsValidation(err error) bool { return ErrKind(err) == KindValidation }

// Transient reports whether err is worth retrying on a later poll.
func Transient(err error) bool {
	switch ErrKind(err) {
	case KindConnection, KindRateLimit, KindServer:
		return true
	}
	return false
}

func validationErr(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}
