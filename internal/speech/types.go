package speech

import (
	"context"
	"fmt"
	"strings"
)

// Format is an accepted audio container.
type Format string

// Accepted formats.
const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// DefaultFormat is assumed when a client does not name one.
const DefaultFormat = FormatWAV

// ParseFormat normalises a format name. Empty means DefaultFormat.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return DefaultFormat, nil
	case FormatWAV, FormatMP3:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

// Transcript is the result of one transcription.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Transcriber converts one audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format Format) (Transcript, error)
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
