package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// maxErrorBody bounds how much of an error response is kept for messages.
	maxErrorBody = 512
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	// BaseURL is the hub API root, e.g. "http://hub.local:8123/api".
	BaseURL string

	// Token is the long-lived bearer token.
	Token string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration

	// HTTPClient overrides the transport. Defaults to a new http.Client.
	HTTPClient *http.Client
}

// Client calls the hub REST API.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("hub: invalid base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: timeout,
		http:    hc,
	}, nil
}

// States returns every entity known to the hub.
func (c *Client) States(ctx context.Context) ([]EntityState, error) {
	var states []EntityState
	if err := c.do(ctx, http.MethodGet, "/states", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// State returns one entity. Returns ErrNotFound when the hub does not know it.
func (c *Client) State(ctx context.Context, entityID string) (*EntityState, error) {
	var st EntityState
	err := c.do(ctx, http.MethodGet, "/states/"+url.PathEscape(entityID), nil, &st)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
		}
		return nil, err
	}
	return &st, nil
}

// StatesByDomain returns the entities whose ID starts with "<domain>.".
// An empty domain matches nothing and makes no request.
func (c *Client) StatesByDomain(ctx context.Context, domain string) ([]EntityState, error) {
	if domain == "" {
		return nil, nil
	}
	all, err := c.States(ctx)
	if err != nil {
		return nil, err
	}

	prefix := domain + "."
	var matched []EntityState
	for _, st := range all {
		if strings.HasPrefix(st.EntityID, prefix) {
			matched = append(matched, st)
		}
	}
	return matched, nil
}

// Grouped returns every entity grouped by domain, domains sorted by name.
func (c *Client) Grouped(ctx context.Context) ([]DomainGroup, error) {
	all, err := c.States(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var groups []DomainGroup
	for _, st := range all {
		d := domainOf(st.EntityID)
		i, ok := index[d]
		if !ok {
			i = len(groups)
			index[d] = i
			groups = append(groups, DomainGroup{Domain: d})
		}
		groups[i].Entities = append(groups[i].Entities, st)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Domain < groups[j].Domain })
	return groups, nil
}

// CallService invokes domain/service on one entity and returns the hub's raw answer.
func (c *Client) CallService(ctx context.Context, domain string, service Service, entityID string) (json.RawMessage, error) {
	body := map[string]string{"entity_id": entityID}
	var result json.RawMessage
	path := "/services/" + url.PathEscape(domain) + "/" + url.PathEscape(string(service))
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Switch drives an entity on or off through its domain's turn_on/turn_off service.
func (c *Client) Switch(ctx context.Context, entityID string, target Target) (json.RawMessage, error) {
	return c.CallService(ctx, domainOf(entityID), target.Service(), entityID)
}

// HealthCheck verifies the API root answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/", nil, nil)
}

// do performs one request bounded by the client timeout and decodes a JSON
// answer into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("hub: encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("hub: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Best effort error detail
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: decoding %s %s: %w", ErrTransport, method, path, err)
	}
	return nil
}
