package telegraf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = time.Second
	maxReconnectInterval     = 30 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stats reports writer counters.
type Stats struct {
	Connected       bool
	LinesWritten    uint64
	LinesDropped    uint64
	WriteErrors     uint64
	ReconnectsTotal uint64
}

// Writer is a line-protocol stream to Telegraf.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Writes are serialised so
//     lines never interleave on the wire.
type Writer struct {
	address      string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	initialDelay time.Duration
	maxDelay     time.Duration

	// mu guards conn and serialises writes.
	mu   sync.Mutex
	conn net.Conn

	reconnecting atomic.Bool
	closed       atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	linesWritten    atomic.Uint64
	linesDropped    atomic.Uint64
	writeErrors     atomic.Uint64
	reconnectsTotal atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex

	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// New creates a disconnected writer for cfg.
func New(cfg config.TelegrafConfig) *Writer {
	w := &Writer{
		address:      cfg.Address(),
		dialTimeout:  seconds(cfg.DialTimeout, defaultDialTimeout),
		writeTimeout: seconds(cfg.WriteTimeout, defaultWriteTimeout),
		initialDelay: seconds(cfg.Reconnect.InitialDelay, defaultReconnectInterval),
		maxDelay:     seconds(cfg.Reconnect.MaxDelay, maxReconnectInterval),
		done:         make(chan struct{}),
	}
	var d net.Dialer
	w.dial = d.DialContext
	if w.maxDelay < w.initialDelay {
		w.maxDelay = w.initialDelay
	}
	return w
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string {
	return "telegraf"
}

// SetLogger sets a logger for connection events.
func (w *Writer) SetLogger(logger Logger) {
	w.loggerMu.Lock()
	w.logger = logger
	w.loggerMu.Unlock()
}

// Connect dials Telegraf. It is a no-op when already connected. On
// failure the writer starts redialling in the background and the error is
// returned, so callers may continue and write once the stream is up.
func (w *Writer) Connect(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if w.IsConnected() {
		return nil
	}

	if err := w.dialOnce(ctx); err != nil {
		w.startReconnect()
		return err
	}
	return nil
}

// dialOnce opens the connection unless one is already open.
func (w *Writer) dialOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, w.dialTimeout)
	defer cancel()

	conn, err := w.dial(dialCtx, "tcp", w.address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, w.address, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		conn.Close()
		return ErrClosed
	}
	if w.conn != nil {
		// Lost a race with another dial; keep the existing stream.
		conn.Close()
		return nil
	}
	w.conn = conn
	w.logInfo("connected to telegraf", "address", w.address)
	return nil
}

// IsConnected reports whether a stream is open.
func (w *Writer) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// WriteLine sends one line followed by a newline. While disconnected it
// returns ErrNotConnected and the line is dropped. A write error closes
// the stream and triggers a background reconnect.
func (w *Writer) WriteLine(line string) error {
	if w.closed.Load() {
		w.linesDropped.Add(1)
		return ErrClosed
	}

	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		w.linesDropped.Add(1)
		return ErrNotConnected
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	_ = conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	_, err := conn.Write(buf)
	if err != nil {
		conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()

	if err != nil {
		w.writeErrors.Add(1)
		w.linesDropped.Add(1)
		w.logError("telegraf write failed, reconnecting", err)
		w.startReconnect()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	w.linesWritten.Add(1)
	return nil
}

// startReconnect launches the redial loop unless one is already running.
func (w *Writer) startReconnect() {
	if w.closed.Load() || !w.reconnecting.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.reconnecting.Store(false)
		w.reconnect()
	}()
}

// reconnect redials with exponential backoff (x1.5, capped) until it
// succeeds or the writer is closed.
func (w *Writer) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := w.initialDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		err := w.dialOnce(ctx)
		if err == nil {
			w.reconnectsTotal.Add(1)
			w.logInfo("telegraf reconnected", "attempt", attempt)
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		w.logWarn("telegraf reconnect failed", "attempt", attempt, "backoff", backoff.String(), "error", err)

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > w.maxDelay {
			backoff = w.maxDelay
		}
	}
}

// Close stops reconnecting and closes the stream.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)

		w.mu.Lock()
		if w.conn != nil {
			w.conn.Close()
			w.conn = nil
		}
		w.mu.Unlock()

		w.wg.Wait()
		w.logInfo("telegraf writer closed")
	})
	return nil
}

// HealthCheck reports ErrNotConnected while the stream is down.
func (w *Writer) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegraf health check: %w", err)
	}
	if !w.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Connected:       w.IsConnected(),
		LinesWritten:    w.linesWritten.Load(),
		LinesDropped:    w.linesDropped.Load(),
		WriteErrors:     w.writeErrors.Load(),
		ReconnectsTotal: w.reconnectsTotal.Load(),
	}
}

func (w *Writer) getLogger() Logger {
	w.loggerMu.RLock()
	defer w.loggerMu.RUnlock()
	return w.logger
}

func (w *Writer) logInfo(msg string, args ...any) {
	if l := w.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (w *Writer) logWarn(msg string, args ...any) {
	if l := w.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (w *Writer) logError(msg string, err error) {
	if l := w.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
