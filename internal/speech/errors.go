package speech

import "errors"

// Domain errors for the speech package.
var (
	// ErrUnsupportedFormat is returned for audio formats other than wav and mp3.
	ErrUnsupportedFormat = errors.New("speech: unsupported audio format")

	// ErrInvalidAudio is returned when the audio does not match its declared format.
	ErrInvalidAudio = errors.New("speech: invalid audio")

	// ErrEngineFailed is returned when the transcription program fails.
	ErrEngineFailed = errors.New("speech: engine failed")

	// ErrPoolClosed is returned when submitting to a stopped pool.
	ErrPoolClosed = errors.New("speech: pool closed")
)
