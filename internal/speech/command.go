package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// InputPlaceholder in CommandConfig.Args is replaced by the audio file path.
	InputPlaceholder = "{input}"

	defaultCommandTimeout = 60 * time.Second
	maxStderrLog          = 512

	// waitDelay bounds how long output pipes are drained after the program is killed.
	waitDelay = time.Second
)

// CommandConfig configures a CommandEngine.
type CommandConfig struct {
	Command string
	Args    []string

	// Timeout bounds one run of the program. Defaults to 60s.
	Timeout time.Duration

	// TempDir holds the temporary audio files. Defaults to os.TempDir().
	TempDir string
}

// CommandEngine transcribes by running an external program on a temporary file.
//
// The program's stdout is read as JSON {"text": ..., "language": ...} when
// possible, otherwise as the plain transcript.
type CommandEngine struct {
	cfg    CommandConfig
	logger Logger
}

// NewCommandEngine creates an engine for the given program.
func NewCommandEngine(cfg CommandConfig) (*CommandEngine, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("speech: command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	return &CommandEngine{cfg: cfg, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for program diagnostics.
func (e *CommandEngine) SetLogger(l Logger) {
	e.logger = l
}

// Transcribe writes the audio to a temporary file, runs the program on it
// and parses its output. The file is removed afterwards.
func (e *CommandEngine) Transcribe(ctx context.Context, audio []byte, format Format) (Transcript, error) {
	if format == FormatWAV {
		if err := validateWAV(audio); err != nil {
			return Transcript{}, err
		}
	}

	f, err := os.CreateTemp(e.cfg.TempDir, "greeter-*."+string(format))
	if err != nil {
		return Transcript{}, fmt.Errorf("speech: creating temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path) //nolint:errcheck // Best effort cleanup

	if _, err := f.Write(audio); err != nil {
		f.Close() //nolint:errcheck // Already failing
		return Transcript{}, fmt.Errorf("speech: writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Transcript{}, fmt.Errorf("speech: closing temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.Command, expandArgs(e.cfg.Args, path)...) //nolint:gosec // Command comes from operator config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Transcript{}, fmt.Errorf("%w: %w", ErrEngineFailed, ctx.Err())
		}
		e.logger.Warn("transcription program failed",
			"command", e.cfg.Command,
			"error", err,
			"stderr", truncate(stderr.String(), maxStderrLog),
		)
		return Transcript{}, fmt.Errorf("%w: %w", ErrEngineFailed, err)
	}
	e.logger.Debug("transcription finished",
		"bytes", len(audio),
		"format", string(format),
		"duration", time.Since(start),
	)

	return parseOutput(stdout.Bytes()), nil
}

// expandArgs substitutes the input path, appending it when no placeholder is present.
func expandArgs(args []string, path string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, a := range args {
		if strings.Contains(a, InputPlaceholder) {
			a = strings.ReplaceAll(a, InputPlaceholder, path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}

func parseOutput(out []byte) Transcript {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var tr Transcript
		if err := json.Unmarshal(trimmed, &tr); err == nil {
			tr.Text = strings.TrimSpace(tr.Text)
			return tr
		}
	}
	return Transcript{Text: string(trimmed)}
}

// validateWAV checks the RIFF/WAVE header.
func validateWAV(audio []byte) error {
	const headerLen = 12
	if len(audio) < headerLen || string(audio[0:4]) != "RIFF" || string(audio[8:12]) != "WAVE" {
		return fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidAudio)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
