package hub

import (
	"errors"
	"fmt"
)

// Domain errors for the hub package.
var (
	// ErrTransport is returned when the hub cannot be reached or the
	// connection fails mid-request.
	ErrTransport = errors.New("hub: transport failure")

	// ErrNotFound is returned when the hub has no entity with the requested ID.
	ErrNotFound = errors.New("hub: entity not found")

	// ErrAuthFailed is returned when the hub rejects the access token.
	ErrAuthFailed = errors.New("hub: authentication failed")

	// ErrSubscribeFailed is returned when the hub refuses the event subscription.
	ErrSubscribeFailed = errors.New("hub: subscription rejected")

	// ErrMalformedFrame is returned by EventConn.Next for a frame that is not
	// valid JSON. The connection remains usable.
	ErrMalformedFrame = errors.New("hub: malformed frame")

	// ErrInvalidTarget is returned when a requested target state is not boolean-like.
	ErrInvalidTarget = errors.New("hub: invalid target state")
)

// StatusError is returned when the hub answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("hub: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("hub: unexpected status %d: %s", e.Code, e.Body)
}
