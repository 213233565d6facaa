package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/config"
)

// Default timeouts and batching for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 1 // seconds

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Client is the bridge's time-series sink.
//
// A Client exists for the whole process lifetime; the underlying InfluxDB
// connection is dialled by Connect and replaced by Reconnect, so the worker
// keeps a stable handle while the supervisor cycles the connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes are non-blocking and batched.
type Client struct {
	cfg config.InfluxDBConfig

	// mu guards the connection. Writers hold the read lock for the whole
	// WritePoint call, so a write API is never closed under a writer.
	mu        sync.RWMutex
	client    influxdb2.Client
	writeAPI  api.WriteAPI
	connected bool

	// onError is called when async write errors occur. It has its own lock
	// so draining the error channel never waits on mu.
	onError    func(err error)
	callbackMu sync.RWMutex
}

// New creates an undialled Client.
func New(cfg config.InfluxDBConfig) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Client{cfg: cfg}
}

// Enabled reports whether the sink is switched on in configuration.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// Connect dials InfluxDB and verifies it with a ping.
//
// It performs the following setup:
//  1. Creates the client with token authentication
//  2. Verifies connectivity with a ping
//  3. Configures the non-blocking write API with batching
//  4. Routes async write failures to the OnError callback
//
// On failure the Client stays usable and disconnected; writes return
// ErrNotConnected until a later Connect or Reconnect succeeds.
func (c *Client) Connect(ctx context.Context) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}

	// #nosec G115 -- New guarantees positive values
	client := influxdb2.NewClientWithOptions(
		c.cfg.URL,
		c.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(c.cfg.BatchSize)).
			SetFlushInterval(uint(c.cfg.FlushInterval)*millisecondsPerSecond),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(c.cfg.Org, c.cfg.Bucket)
	go c.handleWriteErrors(writeAPI.Errors())

	c.mu.Lock()
	oldClient, oldAPI := c.client, c.writeAPI
	c.client = client
	c.writeAPI = writeAPI
	c.connected = true
	c.mu.Unlock()

	if oldAPI != nil {
		oldAPI.Flush()
	}
	if oldClient != nil {
		oldClient.Close()
	}
	return nil
}

// Reconnect flushes and closes the current connection, if any, and dials a
// new one.
func (c *Client) Reconnect(ctx context.Context) error {
	c.release()
	return c.Connect(ctx)
}

// release detaches and closes the current connection. Taking the write
// lock waits out any WriteRecord still using the old write API.
func (c *Client) release() {
	c.mu.Lock()
	client, writeAPI := c.client, c.writeAPI
	c.client, c.writeAPI, c.connected = nil, nil, false
	c.mu.Unlock()

	if writeAPI != nil {
		writeAPI.Flush()
	}
	if client != nil {
		client.Close()
	}
}

// handleWriteErrors processes async write errors from the WriteAPI.
// The channel is closed when the owning client is closed.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.callbackMu.RLock()
		callback := c.onError
		c.callbackMu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending writes and closes the connection.
func (c *Client) Close() error {
	c.release()
	return nil
}

// HealthCheck pings InfluxDB. A failed ping marks the client disconnected.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(checkCtx)
	if err == nil && !healthy {
		err = errors.New("server not healthy")
	}
	if err != nil {
		c.mu.Lock()
		if c.client == client {
			c.connected = false
		}
		c.mu.Unlock()
		return fmt.Errorf("influxdb health check failed: %w", err)
	}

	c.mu.Lock()
	if c.client == client {
		c.connected = true
	}
	c.mu.Unlock()
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets a callback to be invoked when async write errors occur.
func (c *Client) SetOnError(callback func(err error)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onError = callback
}

// Flush forces all pending writes to be sent to InfluxDB.
// Safe to call when disconnected (no-op).
func (c *Client) Flush() {
	c.mu.RLock()
	writeAPI := c.writeAPI
	c.mu.RUnlock()

	if writeAPI != nil {
		writeAPI.Flush()
	}
}
