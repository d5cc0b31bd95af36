package mirror

import "errors"

// Domain errors for the mirror package.
var (
	// ErrNotFound is returned when an entity ID is not in the mirror.
	ErrNotFound = errors.New("mirror: entity not found")

	// ErrInvalidEntityID is returned for IDs that are not of the form domain.object_id.
	ErrInvalidEntityID = errors.New("mirror: invalid entity id")
)
