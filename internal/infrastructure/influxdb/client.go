package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/verkstad/toolmgmt/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the subset of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client batches shop floor points into one bucket. Writes never block on
// the network and are dropped once the client is closed.
type Client struct {
	server influxdb2.Client
	points pointWriter
	now    func() time.Time
	closed atomic.Bool

	mu      sync.Mutex
	onError func(err error)
}

// writeOptions maps batch_size and flush_interval (seconds) onto the client
// options, substituting defaults for unset values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// ping reports whether the server is reachable and ready.
func ping(ctx context.Context, server influxdb2.Client) error {
	ok, err := server.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnhealthy
	}
	return nil
}

// Connect pings the configured server and starts the batching writer.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, server); err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	writer := server.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{server: server, points: writer, now: time.Now}
	go c.drainErrors(writer.Errors())
	return c, nil
}

// drainErrors hands asynchronous batch failures to the error callback until
// the writer closes errs.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.mu.Lock()
		report := c.onError
		c.mu.Unlock()
		if report != nil {
			report(err)
		}
	}
}

// SetOnError sets the callback for failed batches.
func (c *Client) SetOnError(report func(err error)) {
	c.mu.Lock()
	c.onError = report
	c.mu.Unlock()
}

// active reports whether writes are still accepted.
func (c *Client) active() bool {
	return c != nil && c.points != nil && !c.closed.Load()
}

// Flush writes buffered points now. It does nothing after Close.
func (c *Client) Flush() {
	if c.active() {
		c.points.Flush()
	}
}

// Close writes what is buffered and releases the server connection. Later
// calls are no-ops.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.points != nil {
		c.points.Flush()
	}
	if c.server != nil {
		c.server.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.active() || c.server == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.server); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}
