package ncp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestSessionConnectAndClose(t *testing.T) {
	s, _ := connectSession(t, SessionConfig{})

	if got := s.State(); got != StateReady {
		t.Fatalf("State() = %s, want ready", got)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if got := s.State(); got != StateClosed {
		t.Errorf("State() after Close = %s, want closed", got)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() not closed after Close")
	}
	if !errors.Is(s.Err(), ErrSessionClosed) {
		t.Errorf("Err() = %v, want ErrSessionClosed", s.Err())
	}

	_, err := s.SendCommand(context.Background(), RootOID, MethodGet, PropertyArgs{ID: PropertyUserLabel})
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendCommand() after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := NewSession(SessionConfig{ConnectTimeout: time.Second})
	err := s.Connect(context.Background(), "ws"+srv.URL[len("http"):])
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if got := s.State(); got != StateFaulted {
		t.Errorf("State() = %s, want faulted", got)
	}
	if !IsFault(s.Err()) {
		t.Errorf("IsFault(Err()) = false for %v", s.Err())
	}
}

func TestSessionConnectTwice(t *testing.T) {
	s, _ := connectSession(t, SessionConfig{})

	err := s.Connect(context.Background(), "ws://127.0.0.1:1")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Connect() error = %v, want ErrInvalidState", err)
	}
}

func TestSendCommandBeforeConnect(t *testing.T) {
	s := NewSession(SessionConfig{})
	_, err := s.SendCommand(context.Background(), RootOID, MethodGet, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() error = %v, want ErrNotConnected", err)
	}
}

func TestSendCommandWireFormat(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	done := make(chan error, 1)
	go func() {
		label, err := UserLabel(context.Background(), s, RootOID)
		if err == nil && label != "Studio A" {
			err = errors.New("unexpected label " + label)
		}
		done <- err
	}()

	var raw map[string]any
	readFrame(t, dev, &raw)
	want := map[string]any{
		"messageType": float64(0),
		"commands": []any{map[string]any{
			"handle":    float64(1),
			"oid":       float64(1),
			"methodId":  map[string]any{"level": float64(1), "index": float64(1)},
			"arguments": map[string]any{"id": map[string]any{"level": float64(1), "index": float64(6)}},
		}},
	}
	if !reflect.DeepEqual(raw, want) {
		t.Fatalf("command frame = %v, want %v", raw, want)
	}

	respond(t, dev, 1, StatusOK, "Studio A")
	if err := <-done; err != nil {
		t.Fatalf("UserLabel() error = %v", err)
	}
}

func TestConcurrentCommandsMatchedByHandle(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	const n = 8
	type result struct {
		oid   uint64
		value uint64
		err   error
	}
	results := make(chan result, n)
	for i := 1; i <= n; i++ {
		oid := uint64(100 + i)
		go func() {
			v, err := GetProperty[uint64](context.Background(), s, oid, PropertyOID)
			results <- result{oid: oid, value: v, err: err}
		}()
	}

	cmds := make([]Command, 0, n)
	for range n {
		cmds = append(cmds, readCommand(t, dev))
	}

	// Answer in reverse arrival order, echoing each command's oid.
	for i := len(cmds) - 1; i >= 0; i-- {
		respond(t, dev, cmds[i].Handle, StatusOK, cmds[i].OID)
	}

	for range n {
		r := <-results
		if r.err != nil {
			t.Errorf("oid %d: error = %v", r.oid, r.err)
			continue
		}
		if r.value != r.oid {
			t.Errorf("oid %d received value %d", r.oid, r.value)
		}
	}
}

func TestHandlesStrictlyIncreasing(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	var last uint32
	for i := range 5 {
		done := make(chan error, 1)
		go func() {
			_, err := s.SendCommand(context.Background(), RootOID, MethodGet, PropertyArgs{ID: PropertyRole})
			done <- err
		}()

		cmd := readCommand(t, dev)
		if cmd.Handle <= last {
			t.Fatalf("command %d: handle %d not greater than previous %d", i, cmd.Handle, last)
		}
		last = cmd.Handle
		respond(t, dev, cmd.Handle, StatusOK, "root")
		if err := <-done; err != nil {
			t.Fatalf("command %d: error = %v", i, err)
		}
	}
}

func TestHandleWraparoundSkipsZeroAndPending(t *testing.T) {
	s := NewSession(SessionConfig{})
	s.nextHandle = ^uint32(0) - 1
	s.pending[1] = make(chan commandOutcome, 1)

	h1, _, err := s.register()
	if err != nil {
		t.Fatal(err)
	}
	h2, _, err := s.register()
	if err != nil {
		t.Fatal(err)
	}

	if h1 != ^uint32(0) {
		t.Errorf("first handle = %d, want %d", h1, ^uint32(0))
	}
	if h2 != 2 {
		t.Errorf("handle after wraparound = %d, want 2 (0 and pending 1 skipped)", h2)
	}
}

func TestMethodErrorOnlyFailsCaller(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := s.SendCommand(context.Background(), 99, MethodGet, PropertyArgs{ID: PropertyUserLabel})
		done <- err
	}()
	cmd := readCommand(t, dev)
	writeFrame(t, dev, map[string]any{
		"messageType": 1,
		"responses": []any{map[string]any{
			"handle": cmd.Handle,
			"result": map[string]any{"status": 404, "errorMessage": "no such object"},
		}},
	})

	err := <-done
	var me *MethodError
	if !errors.As(err, &me) {
		t.Fatalf("error = %v, want *MethodError", err)
	}
	if me.Status != StatusBadOID || me.Message != "no such object" || me.Handle != cmd.Handle {
		t.Errorf("MethodError = %+v", me)
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Error("errors.Is(err, ErrCommandFailed) = false")
	}
	if IsFault(err) {
		t.Error("IsFault() = true for a per-command error")
	}
	if got := s.State(); got != StateReady {
		t.Errorf("State() = %s, want ready", got)
	}
	if got := s.Stats().CommandErrors; got != 1 {
		t.Errorf("CommandErrors = %d, want 1", got)
	}
}

func TestDeprecatedStatusIsSuccess(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := GetProperty[string](context.Background(), s, RootOID, PropertyRole)
		done <- err
	}()
	cmd := readCommand(t, dev)
	respond(t, dev, cmd.Handle, StatusPropertyDeprecated, "root")

	if err := <-done; err != nil {
		t.Errorf("error = %v, want nil for status 298", err)
	}
}

func TestCommandTimeoutLeavesSessionUsable(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.SendCommand(ctx, RootOID, MethodGet, PropertyArgs{ID: PropertyUserLabel})
		done <- err
	}()
	stale := readCommand(t, dev)

	if err := <-done; !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("State() after timeout = %s, want ready", got)
	}

	// A late answer for the abandoned handle is dropped and counted.
	respond(t, dev, stale.Handle, StatusOK, "late")
	waitFor(t, "unmatched response", func() bool { return s.Stats().UnmatchedResponses == 1 })

	go func() {
		_, err := s.SendCommand(context.Background(), RootOID, MethodGet, PropertyArgs{ID: PropertyUserLabel})
		done <- err
	}()
	cmd := readCommand(t, dev)
	respond(t, dev, cmd.Handle, StatusOK, "fresh")
	if err := <-done; err != nil {
		t.Errorf("command after timeout error = %v", err)
	}
	if got := s.Stats().CommandTimeouts; got != 1 {
		t.Errorf("CommandTimeouts = %d, want 1", got)
	}
}

func TestDefaultCommandTimeout(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{CommandTimeout: 30 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := s.SendCommand(context.Background(), RootOID, MethodGet, PropertyArgs{ID: PropertyUserLabel})
		done <- err
	}()
	readCommand(t, dev)

	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("error = %v, want ErrTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command did not time out")
	}
}

func TestCloseFailsEveryPendingCommandOnce(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{CommandTimeout: -1})

	const n = 5
	errs := make(chan error, n*2)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SendCommand(context.Background(), uint64(10+i), MethodGet, PropertyArgs{ID: PropertyUserLabel})
			errs <- err
		}()
	}
	for range n {
		readCommand(t, dev)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	wg.Wait()
	close(errs)

	count := 0
	for err := range errs {
		count++
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("pending command error = %v, want ErrSessionClosed", err)
		}
	}
	if count != n {
		t.Errorf("%d callers resolved, want %d", count, n)
	}
}

func TestSubscriptionsReplaceNotMerge(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	update := func(oids []uint64) []uint64 {
		t.Helper()
		type outcome struct {
			acked []uint64
			err   error
		}
		done := make(chan outcome, 1)
		go func() {
			acked, err := s.SendSubscriptions(context.Background(), oids)
			done <- outcome{acked, err}
		}()

		var raw map[string]json.RawMessage
		readFrame(t, dev, &raw)
		if string(raw["messageType"]) != "4" {
			t.Fatalf("messageType = %s, want 4", raw["messageType"])
		}
		var sent []uint64
		if err := json.Unmarshal(raw["subscriptions"], &sent); err != nil || sent == nil {
			t.Fatalf("subscriptions = %s, want a JSON array", raw["subscriptions"])
		}
		writeFrame(t, dev, map[string]any{"messageType": 4, "subscriptions": sent})

		out := <-done
		if out.err != nil {
			t.Fatalf("SendSubscriptions(%v) error = %v", oids, out.err)
		}
		return out.acked
	}

	if got := update(nil); len(got) != 0 {
		t.Errorf("acked after empty update = %v, want empty", got)
	}
	got := update([]uint64{5, 6})
	if !reflect.DeepEqual(got, []uint64{5, 6}) {
		t.Errorf("acked = %v, want [5 6]", got)
	}
	if cur := s.Subscriptions(); !reflect.DeepEqual(cur, []uint64{5, 6}) {
		t.Errorf("Subscriptions() = %v, want [5 6]", cur)
	}
}

func TestSubscriptionAckIsAuthoritative(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	done := make(chan []uint64, 1)
	go func() {
		acked, _ := s.SendSubscriptions(context.Background(), []uint64{5, 6, 7})
		done <- acked
	}()
	var msg SubscriptionMessage
	readFrame(t, dev, &msg)
	writeFrame(t, dev, map[string]any{"messageType": 4, "subscriptions": []uint64{5, 7}})

	if got := <-done; !reflect.DeepEqual(got, []uint64{5, 7}) {
		t.Errorf("acked = %v, want [5 7]", got)
	}
	if cur := s.Subscriptions(); !reflect.DeepEqual(cur, []uint64{5, 7}) {
		t.Errorf("Subscriptions() = %v, want [5 7]", cur)
	}
}

// warnLogger records Warn messages.
type warnLogger struct {
	nopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *warnLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func TestLateSubscriptionAckResolvesNextCaller(t *testing.T) {
	logger := &warnLogger{}
	s, dev := connectSession(t, SessionConfig{Logger: logger})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := s.SendSubscriptions(ctx, []uint64{1, 2})
		first <- err
	}()
	var msg SubscriptionMessage
	readFrame(t, dev, &msg)
	if err := <-first; !errors.Is(err, ErrTimeout) {
		t.Fatalf("first SendSubscriptions() error = %v, want ErrTimeout", err)
	}

	second := make(chan []uint64, 1)
	go func() {
		acked, _ := s.SendSubscriptions(context.Background(), []uint64{3})
		second <- acked
	}()
	readFrame(t, dev, &msg)
	writeFrame(t, dev, map[string]any{"messageType": 4, "subscriptions": []uint64{1, 2}})

	if got := <-second; !reflect.DeepEqual(got, []uint64{1, 2}) {
		t.Errorf("acked = %v, want the late [1 2]", got)
	}
	if cur := s.Subscriptions(); !reflect.DeepEqual(cur, []uint64{1, 2}) {
		t.Errorf("Subscriptions() = %v, want [1 2]", cur)
	}
	if got := logger.messages(); !reflect.DeepEqual(got, []string{"subscription ack does not match request"}) {
		t.Errorf("warnings = %v, want one ack mismatch", got)
	}
}

func TestNotificationQueueOverflowDropsFrames(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{NotificationQueueSize: 1})

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	got := make(chan uint64, 4)
	s.OnNotification(func(m *NotificationMessage) {
		entered <- struct{}{}
		<-release
		got <- m.Notifications[0].OID
	})

	frame := func(oid int) map[string]any {
		return map[string]any{
			"messageType": 2,
			"notifications": []any{map[string]any{
				"oid":       oid,
				"eventId":   map[string]int{"level": 1, "index": 1},
				"eventData": map[string]any{"propertyId": map[string]int{"level": 1, "index": 6}, "changeType": 0, "value": "x"},
			}},
		}
	}

	writeFrame(t, dev, frame(1))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("observer not called for first frame")
	}
	// Dispatch is now blocked: frame 2 fills the queue and frame 3 overflows.
	writeFrame(t, dev, frame(2))
	writeFrame(t, dev, frame(3))
	waitFor(t, "three notifications read", func() bool {
		return s.Stats().NotificationsReceived == 3
	})

	if st := s.Stats(); st.NotificationsDropped != 1 {
		t.Errorf("NotificationsDropped = %d, want 1", st.NotificationsDropped)
	}
	if st := s.State(); st != StateReady {
		t.Errorf("State() = %s, want ready after overflow", st)
	}

	close(release)
	for _, want := range []uint64{1, 2} {
		select {
		case oid := <-got:
			if oid != want {
				t.Errorf("observer got oid %d, want %d", oid, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("observer not called for oid %d", want)
		}
	}
	select {
	case oid := <-got:
		t.Errorf("dropped frame delivered: oid %d", oid)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotificationsDeliveredInOrder(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	var mu sync.Mutex
	var calls []string
	s.OnNotification(func(m *NotificationMessage) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range m.Notifications {
			calls = append(calls, "first:"+string(n.EventData.Value))
		}
	})
	s.OnNotification(func(m *NotificationMessage) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "second")
	})

	for i := 1; i <= 3; i++ {
		writeFrame(t, dev, map[string]any{
			"messageType": 2,
			"notifications": []any{map[string]any{
				"oid":     12,
				"eventId": map[string]int{"level": 1, "index": 1},
				"eventData": map[string]any{
					"propertyId":        map[string]int{"level": 3, "index": 2},
					"changeType":        0,
					"value":             i,
					"sequenceItemIndex": nil,
				},
			}},
		})
	}

	want := []string{"first:1", "second", "first:2", "second", "first:3", "second"}
	waitFor(t, "notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("observer calls = %v, want %v", calls, want)
	}
	if got := s.Stats().NotificationsReceived; got != 3 {
		t.Errorf("NotificationsReceived = %d, want 3", got)
	}
}

func TestObserverRemovalAndPanic(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	got := make(chan uint64, 4)
	remove := s.OnNotification(func(*NotificationMessage) { panic("observer bug") })
	s.OnNotification(func(m *NotificationMessage) { got <- m.Notifications[0].OID })

	frame := func(oid int) map[string]any {
		return map[string]any{
			"messageType": 2,
			"notifications": []any{map[string]any{
				"oid":       oid,
				"eventId":   map[string]int{"level": 1, "index": 1},
				"eventData": map[string]any{"propertyId": map[string]int{"level": 1, "index": 6}, "changeType": 0, "value": "x"},
			}},
		}
	}

	writeFrame(t, dev, frame(1))
	remove()
	writeFrame(t, dev, frame(2))

	for _, want := range []uint64{1, 2} {
		select {
		case oid := <-got:
			if oid != want {
				t.Errorf("observer got oid %d, want %d", oid, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("observer not called for oid %d", want)
		}
	}
	if st := s.State(); st != StateReady {
		t.Errorf("State() = %s, want ready after observer panic", st)
	}
}

func TestCloseFromObserver(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	closed := make(chan struct{})
	s.OnNotification(func(*NotificationMessage) {
		s.Close()
		close(closed)
	})
	writeFrame(t, dev, `{"messageType":2,"notifications":[]}`)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() from observer did not return")
	}
	if st := s.State(); st != StateClosed {
		t.Errorf("State() = %s, want closed", st)
	}
}

func TestCloseDoesNotWaitForRunningObserver(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls sync.WaitGroup
	calls.Add(1)
	s.OnNotification(func(*NotificationMessage) {
		defer calls.Done()
		close(entered)
		<-release
	})
	writeFrame(t, dev, `{"messageType":2,"notifications":[]}`)
	<-entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() waited for a blocked observer")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() not closed after Close()")
	}

	close(release)
	calls.Wait()
}

func TestSessionFaults(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(t *testing.T, dev devConn)
		wantErr error
	}{
		{
			name: "error frame",
			trigger: func(t *testing.T, dev devConn) {
				writeFrame(t, dev, `{"messageType":5,"status":400,"errorMessage":"bad frame"}`)
			},
			wantErr: ErrDeviceError,
		},
		{
			name: "malformed frame",
			trigger: func(t *testing.T, dev devConn) {
				writeFrame(t, dev, `{"messageType":1,"responses":`)
			},
			wantErr: ErrMalformedMessage,
		},
		{
			name: "device hangs up",
			trigger: func(t *testing.T, dev devConn) {
				dev.Close()
			},
			wantErr: ErrSessionFaulted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dev := connectSession(t, SessionConfig{CommandTimeout: -1})

			done := make(chan error, 1)
			go func() {
				_, err := s.SendCommand(context.Background(), RootOID, MethodGet, PropertyArgs{ID: PropertyUserLabel})
				done <- err
			}()
			readCommand(t, dev)

			tt.trigger(t, dev)

			select {
			case err := <-done:
				if !errors.Is(err, ErrSessionFaulted) {
					t.Errorf("pending error = %v, want ErrSessionFaulted", err)
				}
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("pending error = %v, want %v", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("pending command not failed")
			}

			<-s.Done()
			if st := s.State(); st != StateFaulted {
				t.Errorf("State() = %s, want faulted", st)
			}
			if !errors.Is(s.Err(), ErrSessionFaulted) {
				t.Errorf("Err() = %v, want ErrSessionFaulted", s.Err())
			}
			if err := s.HealthCheck(context.Background()); err == nil {
				t.Error("HealthCheck() = nil on faulted session")
			}
		})
	}
}

func TestUnknownMessageTypeIsAbsorbed(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{})

	writeFrame(t, dev, `{"messageType":9,"anything":true}`)
	waitFor(t, "unknown message count", func() bool { return s.Stats().UnknownMessages == 1 })

	if st := s.State(); st != StateReady {
		t.Errorf("State() = %s, want ready", st)
	}
}

func TestKeepalivePing(t *testing.T) {
	s, dev := connectSession(t, SessionConfig{PingInterval: 20 * time.Millisecond})

	pings := make(chan struct{}, 8)
	dev.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return nil
	})
	// Control frames are only processed while the device is reading.
	go func() {
		for {
			if _, _, err := dev.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping received")
	}
	if st := s.State(); st != StateReady {
		t.Errorf("State() = %s, want ready", st)
	}
}
