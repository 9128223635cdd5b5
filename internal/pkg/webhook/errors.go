package webhook

import (
	"errors"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/credentials"
)

// ErrBadSignature is returned when signature verification is enabled and fails.
var ErrBadSignature = errors.New("webhook signature verification failed")

// MalformedEventError rejects an event before any side effect.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return "malformed webhook event: " + e.Reason + ": " + e.Err.Error()
	}
	return "malformed webhook event: " + e.Reason
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// Class tells the front end whose fault an error is.
type Class int

const (
	ClassNone Class = iota
	ClassCaller
	ClassUnauthorized
	ClassConflict
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassCaller:
		return "caller"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Classify maps any error returned by the dispatcher to a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var malformed *MalformedEventError
	if errors.As(err, &malformed) {
		return ClassCaller
	}
	if errors.Is(err, ErrBadSignature) {
		return ClassUnauthorized
	}
	var conflict *credentials.ConflictError
	if errors.As(err, &conflict) {
		return ClassConflict
	}
	var invalid *credentials.ValidationError
	if errors.As(err, &invalid) {
		return ClassCaller
	}
	return ClassInternal
}
