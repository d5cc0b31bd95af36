package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultModel   = "gemini-2.5-flash"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Config configures the model client.
type Config struct {
	// BaseURL is the models endpoint, e.g.
	// "https://generativelanguage.googleapis.com/v1beta/models".
	BaseURL string

	// APIKey is sent as the key query parameter.
	APIKey string

	// Model defaults to gemini-2.5-flash.
	Model string

	// Context is the persona text sent ahead of each prompt.
	// Defaults to DefaultContext.
	Context string

	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Client calls the generateContent endpoint.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	endpoint string
	context  string
	timeout  time.Duration
	http     *http.Client
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// NewClient creates a model client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if u, err := url.Parse(base); err != nil || u.Host == "" {
		return nil, fmt.Errorf("assistant: invalid base url %q", cfg.BaseURL)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	persona := cfg.Context
	if persona == "" {
		persona = DefaultContext
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		endpoint: base + "/" + url.PathEscape(model) + ":generateContent?key=" + url.QueryEscape(cfg.APIKey),
		context:  persona,
		timeout:  timeout,
		http:     hc,
	}, nil
}

// Generate sends the prompt and returns the first candidate's text.
func (c *Client) Generate(ctx context.Context, p Prompt) (string, error) {
	if p.History == nil {
		p.History = []any{}
	}
	promptJSON, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("assistant: encoding prompt: %w", err)
	}

	body, err := json.Marshal(generateRequest{Contents: []content{
		{Parts: []part{{Text: c.context}}},
		{Parts: []part{{Text: string(promptJSON)}}},
	}})
	if err != nil {
		return "", fmt.Errorf("assistant: encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assistant: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the API key; report only the underlying cause.
		if ue, ok := err.(*url.Error); ok { //nolint:errorlint // url.Error is never wrapped by http.Client
			err = ue.Err
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Best effort error detail
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("%w: decoding reply: %w", ErrUnavailable, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", ErrNoCandidates
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// Decide sends the prompt and parses the reply into a Decision.
// The raw text is returned alongside so callers can log malformed replies.
func (c *Client) Decide(ctx context.Context, p Prompt) (*Decision, string, error) {
	text, err := c.Generate(ctx, p)
	if err != nil {
		return nil, "", err
	}
	d, err := ParseDecision(text)
	if err != nil {
		return nil, text, err
	}
	return d, text, nil
}
