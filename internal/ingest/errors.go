package ingest

import "errors"

var (
	// ErrAlreadyRunning is returned when Run is called on a loop that has started.
	ErrAlreadyRunning = errors.New("ingest: loop already running")

	// ErrGaveUp is returned by Run when the reconnect attempts are exhausted.
	ErrGaveUp = errors.New("ingest: reconnect attempts exhausted")
)
