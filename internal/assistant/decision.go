package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt is the structured request sent to the model.
type Prompt struct {
	Object   any    `json:"object"`
	Dialogue string `json:"dialogue"`
	History  []any  `json:"history"`
}

// Decision is the model's structured answer.
type Decision struct {
	Comment     string         `json:"comment"`
	Instruction *string        `json:"instruction"`
	State       any            `json:"state"`
	Suggest     *string        `json:"suggest"`
	Status      string         `json:"status"`
	Context     map[string]any `json:"context"`
}

// HasInstruction reports whether the model asked for a state change.
func (d *Decision) HasInstruction() bool {
	return d.Instruction != nil && strings.TrimSpace(*d.Instruction) != ""
}

// ParseDecision decodes the model's text into a Decision.
//
// Surrounding whitespace and a single Markdown code fence are tolerated.
// Anything else that is not one JSON object fails with ErrMalformedReply.
func ParseDecision(text string) (*Decision, error) {
	body := stripFence(strings.TrimSpace(text))
	if body == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}
	if body[0] != '{' {
		return nil, fmt.Errorf("%w: reply is not a JSON object", ErrMalformedReply)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var d Decision
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON", ErrMalformedReply)
	}
	if d.Context == nil {
		d.Context = map[string]any{}
	}
	return &d, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// Drop an info string such as "json" on the opening fence line.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}
