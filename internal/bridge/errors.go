package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/greeter-core/internal/hub"
)

// Failure classes reported to clients.
var (
	// ErrValidation is returned for malformed or incomplete commands. It is
	// always raised before any side effect.
	ErrValidation = errors.New("bridge: invalid command")

	// ErrTransport is returned when the hub cannot be reached or timed out.
	ErrTransport = errors.New("bridge: hub unavailable")

	// ErrCapability is returned when the assistant or speech backend fails.
	ErrCapability = errors.New("bridge: capability failed")

	// ErrInternal is returned when a handler panics.
	ErrInternal = errors.New("bridge: internal error")
)

// Error is a handler failure. Message is what the client sees.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalid(message string) *Error {
	return &Error{Kind: ErrValidation, Message: message}
}

// hubFailure classifies an error from a hub call. prefix names the operation.
func hubFailure(prefix string, err error) *Error {
	kind := ErrTransport
	if errors.Is(err, hub.ErrInvalidTarget) {
		kind = ErrValidation
	}
	return &Error{Kind: kind, Message: prefix + ": " + describe(err), Err: err}
}

func capabilityFailure(prefix string, err error) *Error {
	return &Error{Kind: ErrCapability, Message: prefix + ": " + describe(err), Err: err}
}

// describe renders err for a client, collapsing deadlines to a short phrase.
func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}
