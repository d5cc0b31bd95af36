package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/greeter-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client writes entity state points through the batched, non-blocking write
// API. Asynchronous write failures go to the SetOnError callback.
type Client struct {
	influx influxdb2.Client
	writes api.WriteAPI

	open      atomic.Bool
	closeOnce sync.Once
	onError   atomic.Pointer[func(error)]
}

// Connect pings the server and starts the write API for cfg.Org/cfg.Bucket.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: InfluxDB configuration
//
// Returns:
//   - *Client: Connected client with batched writes running
//   - error: ErrDisabled for a disabled section, ErrConnectionFailed when the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(positiveOr(cfg.BatchSize, fallbackBatchSize)).
		SetFlushInterval(uint(flushInterval(cfg).Milliseconds())) // #nosec G115 -- always positive
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{influx: influx, writes: influx.WriteAPI(cfg.Org, cfg.Bucket)}
	c.open.Store(true)
	go c.forwardErrors(c.writes.Errors())
	return c, nil
}

func positiveOr(n, fallback int) uint {
	if n <= 0 {
		n = fallback
	}
	return uint(n) // #nosec G115 -- positive by construction
}

func flushInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval <= 0 {
		return fallbackFlushInterval
	}
	return time.Duration(cfg.FlushInterval) * time.Second
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping: server reports unhealthy")
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		if fn := c.onError.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// Close flushes buffered points and releases the client. Repeated calls and
// calls on a zero Client are no-ops.
func (c *Client) Close() error {
	if c.influx == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.writes.Flush()
		c.influx.Close()
	})
	return nil
}

// HealthCheck pings the server with a short deadline.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open for writes.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError registers fn for write failures reported by the batch writer.
func (c *Client) SetOnError(fn func(err error)) {
	if fn == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&fn)
}

// Flush blocks until buffered points have been sent. It does nothing once
// the client is closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writes.Flush()
	}
}
