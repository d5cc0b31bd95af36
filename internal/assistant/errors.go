package assistant

import "errors"

// Domain errors for the assistant package.
var (
	// ErrUnavailable is returned when the model endpoint cannot be reached,
	// times out, or answers with an error status.
	ErrUnavailable = errors.New("assistant: model unavailable")

	// ErrNoCandidates is returned when the model answered without any candidate text.
	ErrNoCandidates = errors.New("assistant: no candidates in reply")

	// ErrMalformedReply is returned when the candidate text is not a JSON decision.
	ErrMalformedReply = errors.New("assistant: malformed reply")
)
