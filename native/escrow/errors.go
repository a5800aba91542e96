package escrow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies rejected calls.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindAuthorization
	KindState
	KindTiming
	KindValidation
	KindInvariant
	KindNotFound
)

var (
	ErrUnauthorized  = errors.New("escrow: unauthorized caller")
	ErrInvalidState  = errors.New("escrow: operation not allowed in current status")
	ErrTiming        = errors.New("escrow: timing requirement not met")
	ErrInvalidInput  = errors.New("escrow: invalid input")
	ErrInvariant     = errors.New("escrow: invariant breach")
	ErrEscrowMissing = errors.New("escrow: escrow not found")
	errNilState      = errors.New("escrow engine: state not configured")
)

var kindSentinels = map[ErrorKind]error{
	KindAuthorization: ErrUnauthorized,
	KindState:         ErrInvalidState,
	KindTiming:        ErrTiming,
	KindValidation:    ErrInvalidInput,
	KindInvariant:     ErrInvariant,
	KindNotFound:      ErrEscrowMissing,
}

func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindTiming:
		return "timing"
	case KindValidation:
		return "validation"
	case KindInvariant:
		return "invariant"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a rejected call. Reason names the precondition that failed.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "escrow: " + e.Reason
	}
	return fmt.Sprintf("escrow: %s: %s", e.Op, e.Reason)
}

// Unwrap exposes the kind sentinel so errors.Is(err, ErrUnauthorized) works.
func (e *Error) Unwrap() error {
	return kindSentinels[e.Kind]
}

// KindOf extracts the error kind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var escErr *Error
	if errors.As(err, &escErr) {
		return escErr.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// NewError builds a rejected-call error. Other native modules use it so the
// RPC layer can classify their failures the same way.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func authError(op, format string, args ...any) error {
	return NewError(KindAuthorization, op, format, args...)
}

func stateError(op, format string, args ...any) error {
	return NewError(KindState, op, format, args...)
}

func timingError(op, format string, args ...any) error {
	return NewError(KindTiming, op, format, args...)
}

func validationError(op, format string, args ...any) error {
	return NewError(KindValidation, op, format, args...)
}

func invariantError(op, format string, args ...any) error {
	return NewError(KindInvariant, op, format, args...)
}
