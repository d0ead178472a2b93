package tsdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
)

const (
	probeTimeout = 10 * time.Second
	postTimeout  = 5 * time.Second

	fallbackBatchSize     = 1000
	fallbackFlushInterval = time.Second
)

// Client queues line protocol for VictoriaMetrics. Safe for concurrent use.
type Client struct {
	base string
	http *http.Client

	open  atomic.Bool
	queue *lineQueue

	ticker   *time.Ticker
	flushNow chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	loopDone sync.WaitGroup

	cbMu    sync.RWMutex
	onError func(error)
}

// Connect probes GET /health and starts the periodic flusher. A disabled
// config returns ErrDisabled and a nil client.
func Connect(ctx context.Context, cfg config.TSDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = fallbackBatchSize
	}
	every := time.Duration(cfg.FlushInterval) * time.Second
	if every <= 0 {
		every = fallbackFlushInterval
	}

	c := &Client{
		base:  strings.TrimRight(cfg.URL, "/"),
		http:  &http.Client{Timeout: postTimeout},
		queue:    newLineQueue(batch),
		flushNow: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := c.HealthCheck(probeCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.open.Store(true)
	c.ticker = time.NewTicker(every)
	c.loopDone.Add(1)
	go c.flushEvery()
	return c, nil
}

// flushEvery owns every background POST: ticks and full-batch signals
// from enqueue.
func (c *Client) flushEvery() {
	defer c.loopDone.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-c.ticker.C:
			c.Flush()
		case <-c.flushNow:
			c.Flush()
		}
	}
}

// Close stops the flusher and sends whatever is still queued. It is
// idempotent and always returns nil; a failed final flush goes to the
// error callback.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.stopOnce.Do(func() {
		c.open.Store(false)
		c.ticker.Stop()
		close(c.stop)
		c.loopDone.Wait()
		c.Flush()
	})
	return nil
}

// HealthCheck expects 200 from GET /health.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	status, err := c.do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("tsdb health check: status %d", status)
	}
	return nil
}

// IsConnected is false only after Close.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError registers the callback for asynchronous flush failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.cbMu.Lock()
	c.onError = callback
	c.cbMu.Unlock()
}

func (c *Client) enqueue(line string) error {
	if !c.open.Load() {
		return ErrNotConnected
	}
	// Writers run on the session dispatch goroutine and never wait on HTTP.
	if c.queue.push(line) {
		select {
		case c.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush sends every queued line in one request. The batch is dropped if
// the request fails.
func (c *Client) Flush() {
	lines := c.queue.drain()
	if lines == nil {
		return
	}
	if err := c.post(lines); err != nil {
		c.cbMu.RLock()
		callback := c.onError
		c.cbMu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

func (c *Client) post(lines []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()

	body := strings.NewReader(strings.Join(lines, "\n"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/write", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("HTTP %d", status)
	}
	return nil
}

// do runs req and drains the body so the connection can be reused.
func (c *Client) do(req *http.Request) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
