package ncp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and sizes for a control session.
const (
	// defaultConnectTimeout bounds the WebSocket handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultCommandTimeout applies when the caller's context has no deadline.
	defaultCommandTimeout = 30 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// defaultPongTimeout is how long past a ping interval the read side waits.
	defaultPongTimeout = 10 * time.Second

	// defaultNotificationQueueSize is the buffer between the read loop and observers.
	defaultNotificationQueueSize = 256
)

// State is the lifecycle state of a Session.
type State int32

// Session states. Closed and Faulted are terminal.
const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateClosing
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFaulted
}

// SessionConfig holds control session settings. Zero values take defaults.
type SessionConfig struct {
	// ConnectTimeout bounds the WebSocket handshake. Default: 10 seconds.
	ConnectTimeout time.Duration

	// CommandTimeout applies to commands and subscription updates whose
	// context carries no deadline. Negative disables it. Default: 30 seconds.
	CommandTimeout time.Duration

	// WriteTimeout bounds each frame write. Default: 5 seconds.
	WriteTimeout time.Duration

	// PingInterval enables WebSocket keepalive pings when positive.
	PingInterval time.Duration

	// PongTimeout is added to PingInterval to form the read deadline.
	// Default: 10 seconds.
	PongTimeout time.Duration

	// NotificationQueueSize is the number of notification frames buffered
	// for observers before new ones are dropped. Default: 256.
	NotificationQueueSize int

	// Dialer overrides the WebSocket dialer (TLS, proxies, buffer sizes).
	Dialer *websocket.Dialer

	// Header is sent with the handshake request.
	Header http.Header

	// Logger is optional.
	Logger Logger
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Stats holds operational counters for one session.
type Stats struct {
	State                 State
	CommandsSent          uint64
	CommandErrors         uint64 // Responses carrying an error status
	CommandTimeouts       uint64
	UnmatchedResponses    uint64
	NotificationsReceived uint64
	NotificationsDropped  uint64 // Dropped because the observer queue was full
	UnknownMessages       uint64
	LastActivity          time.Time
}

// NotificationHandler receives each notification frame. The message is
// shared between observers and must be treated as read-only.
type NotificationHandler func(msg *NotificationMessage)

type observer struct {
	id uint64
	fn NotificationHandler
}

type commandOutcome struct {
	result MethodResult
	err    error
}

type subscriptionOutcome struct {
	oids []uint64
	err  error
}

// Session is a client control session with one device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - A single read goroutine decodes and dispatches every inbound frame.
//   - Observers run on one dispatch goroutine, in arrival order.
//
// A Session is single-use: once Closed or Faulted it stays that way.
type Session struct {
	cfg    SessionConfig
	logger Logger

	// mu guards conn, endpoint, err and every state transition.
	mu       sync.Mutex
	state    atomic.Int32
	conn     *websocket.Conn
	endpoint string
	err      error

	// writeMu serialises data frame writes (one concurrent writer per conn).
	writeMu sync.Mutex

	// Pending command table keyed by handle.
	pendingMu  sync.Mutex
	pending    map[uint32]chan commandOutcome
	nextHandle uint32
	pendingErr error // set once the table is failed; no new entries after

	// subMu serialises SendSubscriptions so at most one update is in flight.
	subMu         sync.Mutex
	subStateMu    sync.Mutex
	subWaiter     chan subscriptionOutcome
	subSent       []uint64 // set written for the current waiter
	subscriptions []uint64
	subErr        error

	observersMu    sync.RWMutex
	observers      []observer
	nextObserverID uint64

	queue chan *NotificationMessage
	done  *closeOnce
	wg    sync.WaitGroup // read and ping loops

	commandsSent          atomic.Uint64
	commandErrors         atomic.Uint64
	commandTimeouts       atomic.Uint64
	unmatchedResponses    atomic.Uint64
	notificationsReceived atomic.Uint64
	notificationsDropped  atomic.Uint64
	unknownMessages       atomic.Uint64
	lastActivity          atomic.Int64 // Unix nanoseconds
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.NotificationQueueSize <= 0 {
		cfg.NotificationQueueSize = defaultNotificationQueueSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Session{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[uint32]chan commandOutcome),
		queue:   make(chan *NotificationMessage, cfg.NotificationQueueSize),
		done:    newCloseOnce(),
	}
}

// Connect dials the device's control endpoint and returns once the
// WebSocket handshake has completed. It is valid only on a new session.
func (s *Session) Connect(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		st := s.State()
		s.mu.Unlock()
		return fmt.Errorf("%w: connect in state %s", ErrInvalidState, st)
	}
	s.endpoint = endpoint
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	dialer := s.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: s.cfg.ConnectTimeout,
		}
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, s.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		cause := fmt.Errorf("%w: %s: %w", ErrConnectionFailed, endpoint, err)
		s.shutdown(StateFaulted, cause)
		return cause
	}

	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateReady)) {
		// Closed while the handshake was in flight.
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.touch()
	s.configureKeepalive(conn)

	s.wg.Add(1)
	go s.readLoop(conn)
	if s.cfg.PingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop(conn)
	}
	s.mu.Unlock()

	go s.dispatchLoop()

	s.logger.Info("control session connected", "endpoint", endpoint)
	return nil
}

// configureKeepalive installs the read deadline and pong handler when pings
// are enabled. Called with mu held, before the read loop starts.
func (s *Session) configureKeepalive(conn *websocket.Conn) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	window := s.cfg.PingInterval + s.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(window))
	conn.SetPongHandler(func(string) error {
		s.touch()
		return conn.SetReadDeadline(time.Now().Add(window))
	})
}

// SendCommand invokes a method on one object and waits for its result.
//
// A response with an error status is returned as *MethodError. Expiry of
// ctx (or of the default command timeout) returns ErrTimeout and leaves the
// session usable. Close and fault fail the call with ErrSessionClosed and
// ErrSessionFaulted respectively.
func (s *Session) SendCommand(ctx context.Context, oid uint64, method ElementID, args any) (MethodResult, error) {
	if err := s.requireReady(); err != nil {
		return MethodResult{}, err
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	handle, ch, err := s.register()
	if err != nil {
		return MethodResult{}, err
	}

	if args == nil {
		args = struct{}{}
	}
	msg := CommandMessage{
		MessageType: MessageTypeCommand,
		Commands:    []Command{{Handle: handle, OID: oid, MethodID: method, Arguments: args}},
	}

	if err := s.writeFrame(ctx, msg); err != nil {
		if s.unregister(handle) {
			return MethodResult{}, err
		}
		out := <-ch
		return out.result, out.err
	}
	s.commandsSent.Add(1)

	select {
	case out := <-ch:
		return out.result, out.err

	case <-ctx.Done():
		if s.unregister(handle) {
			s.commandTimeouts.Add(1)
			s.logger.Warn("command timed out", "handle", handle, "oid", oid, "method", method.String())
			return MethodResult{}, fmt.Errorf("%w: command %d (%s on oid %d): %w", ErrTimeout, handle, method, oid, ctx.Err())
		}
		// Resolved concurrently; the outcome is already on its way.
		out := <-ch
		return out.result, out.err

	case <-s.done.Done():
		if s.unregister(handle) {
			return MethodResult{}, s.terminalErr()
		}
		out := <-ch
		return out.result, out.err
	}
}

// register allocates a handle and its pending entry. Handles start at 1,
// increase monotonically, and on wraparound skip 0 and any handle still
// pending.
func (s *Session) register() (uint32, chan commandOutcome, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pendingErr != nil {
		return 0, nil, s.pendingErr
	}

	for {
		s.nextHandle++
		if s.nextHandle == 0 {
			continue
		}
		if _, busy := s.pending[s.nextHandle]; !busy {
			break
		}
	}

	ch := make(chan commandOutcome, 1)
	s.pending[s.nextHandle] = ch
	return s.nextHandle, ch, nil
}

// unregister removes a pending entry. It returns false when the entry was
// already taken by a response or by shutdown.
func (s *Session) unregister(handle uint32) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if _, ok := s.pending[handle]; !ok {
		return false
	}
	delete(s.pending, handle)
	return true
}

// take removes and returns the pending entry for a handle.
func (s *Session) take(handle uint32) (chan commandOutcome, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	ch, ok := s.pending[handle]
	if ok {
		delete(s.pending, handle)
	}
	return ch, ok
}

// failPending resolves every pending command with err and refuses new ones.
func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[uint32]chan commandOutcome)
	s.pendingErr = err
	s.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- commandOutcome{err: err}
	}

	s.subStateMu.Lock()
	waiter := s.subWaiter
	s.subWaiter = nil
	s.subSent = nil
	s.subErr = err
	s.subStateMu.Unlock()

	if waiter != nil {
		waiter <- subscriptionOutcome{err: err}
	}
}

// SendSubscriptions replaces the device-side subscription set with oids and
// returns the set the device acknowledged, which becomes authoritative.
// Pass the complete desired set; nothing is merged.
//
// Calls are serialised: a second caller waits until the first update is
// acknowledged or fails. The protocol carries no correlation for
// subscription responses, so an ack that arrives after its caller timed
// out resolves the next caller instead. The acked set is still
// authoritative; an ack naming oids the caller never sent is logged.
func (s *Session) SendSubscriptions(ctx context.Context, oids []uint64) ([]uint64, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if err := s.requireReady(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withDefaultTimeout(ctx)
	defer cancel()

	if oids == nil {
		oids = []uint64{}
	}

	ch := make(chan subscriptionOutcome, 1)
	s.subStateMu.Lock()
	if s.subErr != nil {
		err := s.subErr
		s.subStateMu.Unlock()
		return nil, err
	}
	s.subWaiter = ch
	s.subSent = oids
	s.subStateMu.Unlock()

	msg := SubscriptionMessage{MessageType: MessageTypeSubscription, Subscriptions: oids}
	if err := s.writeFrame(ctx, msg); err != nil {
		if s.clearSubWaiter(ch) {
			return nil, err
		}
		out := <-ch
		return out.oids, out.err
	}

	select {
	case out := <-ch:
		return out.oids, out.err

	case <-ctx.Done():
		if s.clearSubWaiter(ch) {
			return nil, fmt.Errorf("%w: subscription update: %w", ErrTimeout, ctx.Err())
		}
		out := <-ch
		return out.oids, out.err

	case <-s.done.Done():
		if s.clearSubWaiter(ch) {
			return nil, s.terminalErr()
		}
		out := <-ch
		return out.oids, out.err
	}
}

func (s *Session) clearSubWaiter(ch chan subscriptionOutcome) bool {
	s.subStateMu.Lock()
	defer s.subStateMu.Unlock()

	if s.subWaiter != ch {
		return false
	}
	s.subWaiter = nil
	s.subSent = nil
	return true
}

// notIn returns the members of a missing from b.
func notIn(a, b []uint64) []uint64 {
	set := make(map[uint64]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []uint64
	for _, v := range a {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// Subscriptions returns the last subscription set acknowledged by the device.
func (s *Session) Subscriptions() []uint64 {
	s.subStateMu.Lock()
	defer s.subStateMu.Unlock()

	out := make([]uint64, len(s.subscriptions))
	copy(out, s.subscriptions)
	return out
}

// OnNotification registers an observer for notification frames. Observers
// are called in registration order on the session's dispatch goroutine and
// must not block. Panics are recovered and logged. The returned function
// removes the observer.
func (s *Session) OnNotification(fn NotificationHandler) (remove func()) {
	s.observersMu.Lock()
	s.nextObserverID++
	id := s.nextObserverID
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.observersMu.Unlock()

	return func() {
		s.observersMu.Lock()
		defer s.observersMu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Close releases the channel and fails every pending command with
// ErrSessionClosed. Safe to call multiple times, and from an observer.
//
// Close waits for the read and ping loops but not for the dispatch
// goroutine: an observer already running may still be executing when
// Close returns. No observer is started after Done is closed.
func (s *Session) Close() error {
	s.shutdown(StateClosed, ErrSessionClosed)
	s.wg.Wait()
	return nil
}

// fault moves the session to Faulted. Called from the read and ping loops,
// so it never waits for them.
func (s *Session) fault(cause error) {
	err := fmt.Errorf("%w: %w", ErrSessionFaulted, cause)
	if s.shutdown(StateFaulted, err) {
		s.logger.Error("control session faulted", "endpoint", s.Endpoint(), "error", cause)
	}
}

// shutdown performs the single transition into a terminal state. It returns
// false when the session was already closing or terminal.
func (s *Session) shutdown(final State, err error) bool {
	s.mu.Lock()
	st := s.State()
	if st == StateClosing || st.Terminal() {
		s.mu.Unlock()
		return false
	}
	if final == StateClosed {
		s.state.Store(int32(StateClosing))
	} else {
		s.state.Store(int32(final))
	}
	s.err = err
	conn := s.conn
	s.mu.Unlock()

	s.failPending(err)

	if conn != nil {
		if final == StateClosed {
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		conn.Close()
	}

	s.done.Close()

	if final == StateClosed {
		s.state.Store(int32(StateClosed))
		s.logger.Info("control session closed", "endpoint", s.Endpoint())
	}
	return true
}

// readLoop decodes and dispatches every inbound frame until the channel ends.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.closing() {
				return
			}
			s.fault(fmt.Errorf("read: %w", err))
			return
		}
		s.touch()
		if s.cfg.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PongTimeout))
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			s.fault(err)
			return
		}
		if !s.dispatch(msg) {
			return
		}
	}
}

// dispatch routes one decoded frame. It returns false when the frame
// faulted the session.
func (s *Session) dispatch(msg Inbound) bool {
	switch m := msg.(type) {
	case *CommandResponseMessage:
		for _, r := range m.Responses {
			s.resolve(r)
		}

	case *SubscriptionResponseMessage:
		s.resolveSubscriptions(m.Subscriptions)

	case *NotificationMessage:
		s.enqueue(m)

	case *ErrorMessage:
		s.fault(fmt.Errorf("%w: %w", ErrDeviceError, m))
		return false

	case *UnknownMessage:
		s.unknownMessages.Add(1)
		s.logger.Warn("ignoring frame with unknown message type",
			"endpoint", s.Endpoint(), "message_type", int(m.Type))
	}
	return true
}

func (s *Session) resolve(r Response) {
	ch, ok := s.take(r.Handle)
	if !ok {
		s.unmatchedResponses.Add(1)
		s.logger.Warn("dropping response with unknown handle",
			"endpoint", s.Endpoint(), "handle", r.Handle, "status", int(r.Result.Status))
		return
	}

	if r.Result.Status.IsError() {
		s.commandErrors.Add(1)
		ch <- commandOutcome{
			result: r.Result,
			err:    &MethodError{Handle: r.Handle, Status: r.Result.Status, Message: r.Result.ErrorMessage},
		}
		return
	}
	ch <- commandOutcome{result: r.Result}
}

func (s *Session) resolveSubscriptions(oids []uint64) {
	acked := make([]uint64, len(oids))
	copy(acked, oids)

	s.subStateMu.Lock()
	s.subscriptions = acked
	waiter := s.subWaiter
	sent := s.subSent
	s.subWaiter = nil
	s.subSent = nil
	s.subStateMu.Unlock()

	if waiter != nil {
		if extra := notIn(acked, sent); len(extra) > 0 {
			s.logger.Warn("subscription ack does not match request",
				"endpoint", s.Endpoint(), "unrequested", extra)
		}
	}
	if waiter == nil {
		s.logger.Debug("unsolicited subscription response", "endpoint", s.Endpoint(), "count", len(oids))
		return
	}
	out := make([]uint64, len(acked))
	copy(out, acked)
	waiter <- subscriptionOutcome{oids: out}
}

// enqueue hands a notification frame to the dispatch goroutine without
// blocking the read loop. Frames are dropped when the queue is full.
func (s *Session) enqueue(m *NotificationMessage) {
	s.notificationsReceived.Add(uint64(len(m.Notifications)))

	s.observersMu.RLock()
	hasObservers := len(s.observers) > 0
	s.observersMu.RUnlock()
	if !hasObservers {
		return
	}

	select {
	case s.queue <- m:
	default:
		s.notificationsDropped.Add(uint64(len(m.Notifications)))
		s.logger.Warn("notification queue full, dropping frame",
			"endpoint", s.Endpoint(), "notifications", len(m.Notifications))
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case <-s.done.Done():
			return
		case m := <-s.queue:
			s.notify(m)
		}
	}
}

func (s *Session) notify(m *NotificationMessage) {
	s.observersMu.RLock()
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	s.observersMu.RUnlock()

	for _, o := range observers {
		select {
		case <-s.done.Done():
			return
		default:
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("notification observer panic", "endpoint", s.Endpoint(), "panic", fmt.Sprint(r))
				}
			}()
			o.fn(m)
		}()
	}
}

// pingLoop sends keepalive pings. A failed ping faults the session.
func (s *Session) pingLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if s.closing() {
					return
				}
				s.fault(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// writeFrame serialises v and writes it as one text frame. A failed write
// faults the session.
func (s *Session) writeFrame(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !s.closing() {
			s.fault(fmt.Errorf("write: %w", err))
		}
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.touch()
	return nil
}

func (s *Session) requireReady() error {
	switch st := s.State(); st {
	case StateReady:
		return nil
	case StateClosing, StateClosed, StateFaulted:
		return s.terminalErr()
	default:
		return fmt.Errorf("%w: state %s", ErrNotConnected, st)
	}
}

func (s *Session) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.cfg.CommandTimeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CommandTimeout)
}

// terminalErr is the error handed to callers once the session has ended.
func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return ErrSessionClosed
	}
	return s.err
}

func (s *Session) closing() bool {
	st := s.State()
	return st == StateClosing || st.Terminal()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Endpoint returns the URL passed to Connect.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Done is closed when the session reaches Closed or Faulted.
func (s *Session) Done() <-chan struct{} {
	return s.done.Done()
}

// Err returns nil while the session is usable, ErrSessionClosed after Close,
// and the fault cause (wrapping ErrSessionFaulted or ErrConnectionFailed)
// after a fault.
func (s *Session) Err() error {
	if !s.closing() {
		return nil
	}
	return s.terminalErr()
}

// HealthCheck reports whether the session can accept commands.
func (s *Session) HealthCheck(_ context.Context) error {
	if s.State() != StateReady {
		if err := s.Err(); err != nil {
			return err
		}
		return ErrNotConnected
	}
	return nil
}

// Stats returns current counters.
func (s *Session) Stats() Stats {
	var last time.Time
	if ns := s.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		State:                 s.State(),
		CommandsSent:          s.commandsSent.Load(),
		CommandErrors:         s.commandErrors.Load(),
		CommandTimeouts:       s.commandTimeouts.Load(),
		UnmatchedResponses:    s.unmatchedResponses.Load(),
		NotificationsReceived: s.notificationsReceived.Load(),
		NotificationsDropped:  s.notificationsDropped.Load(),
		UnknownMessages:       s.unknownMessages.Load(),
		LastActivity:          last,
	}
}

// IsFault reports whether err is a session-level failure (as opposed to a
// per-command error or timeout) after which the session cannot be reused.
func IsFault(err error) bool {
	return errors.Is(err, ErrSessionFaulted) || errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrConnectionFailed)
}
