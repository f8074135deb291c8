package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for the caller
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimitExceeded
	KindPersistence
	KindUpstreamUnavailable
	KindInvalidResponse
	KindValidation
)

// Sentinels for errors.Is matching against a Kind
var (
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrPersistence         = errors.New("persistence error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidResponse     = errors.New("invalid response")
	ErrValidation          = errors.New("validation error")
)

// String returns the taxonomy name of the kind
func (k Kind) String() string {
	switch k {
	case KindRateLimitExceeded:
		return "RateLimitExceeded"
	case KindPersistence:
		return "PersistenceError"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindInvalidResponse:
		return "InvalidResponse"
	case KindValidation:
		return "ValidationError"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimitExceeded:
		return ErrRateLimitExceeded
	case KindPersistence:
		return ErrPersistence
	case KindUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case KindInvalidResponse:
		return ErrInvalidResponse
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// Error is a classified failure. Msg is safe to show to end users, Err is not.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
	// RetryAfter is set when the caller may try again after a known delay
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New creates a classified error without an underlying cause
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAfterOf returns the retry hint carried by err, if any
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
