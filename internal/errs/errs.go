// Package errs defines the error taxonomy the controller uses to decide
// what is fatal and what is transient.
package errs

import "errors"

type Kind int

const (
	Parse Kind = iota
	IO
	Transport
	RateLimit
	CaptchaRejected
	Solver
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse error"
	case IO:
		return "io error"
	case Transport:
		return "transport error"
	case RateLimit:
		return "rate limit"
	case CaptchaRejected:
		return "captcha rejected"
	case Solver:
		return "solver error"
	case Cancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch with
// errors.As instead of string matching.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fatal reports whether the error kind is one the controller must
// propagate rather than recover from locally (Parse, IO, Solver are fatal;
// Transport/RateLimit/CaptchaRejected are handled inside C4/C6; Cancelled
// is a distinct non-error outcome).
func Fatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return err != nil
	}
	switch e.Kind {
	case Parse, IO, Solver:
		return true
	default:
		return false
	}
}
