package ncp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// devConn is the device end of a test connection.
type devConn = *websocket.Conn

// fakeDevice is a WebSocket server standing in for an IS-12 device.
// Each accepted connection is handed to the test through conns.
type fakeDevice struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()

	d := &fakeDevice{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.conns <- conn
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDevice) URL() string {
	return "ws" + strings.TrimPrefix(d.srv.URL, "http") + "/x-nmos/ncp/v1.0"
}

func (d *fakeDevice) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-d.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("device: no connection accepted")
		return nil
	}
}

// connectSession connects a new session to a fresh fake device and returns
// both ends.
func connectSession(t *testing.T, cfg SessionConfig) (*Session, *websocket.Conn) {
	t.Helper()

	d := newFakeDevice(t)
	s := NewSession(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Connect(ctx, d.URL()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, d.accept(t)
}

// readFrame reads one frame from the device side and decodes it into v.
func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("device: read frame: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("device: decode frame %s: %v", data, err)
	}
}

func readCommand(t *testing.T, conn *websocket.Conn) Command {
	t.Helper()
	var msg CommandMessage
	readFrame(t, conn, &msg)
	if msg.MessageType != MessageTypeCommand {
		t.Fatalf("device: messageType = %d, want %d", msg.MessageType, MessageTypeCommand)
	}
	if len(msg.Commands) != 1 {
		t.Fatalf("device: %d commands in frame, want 1", len(msg.Commands))
	}
	return msg.Commands[0]
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	var data []byte
	switch raw := v.(type) {
	case string:
		data = []byte(raw)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			t.Fatalf("device: encode frame: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("device: write frame: %v", err)
	}
}

func respond(t *testing.T, conn *websocket.Conn, handle uint32, status MethodStatus, value any) {
	t.Helper()
	result := map[string]any{"status": status}
	if value != nil {
		result["value"] = value
	}
	writeFrame(t, conn, map[string]any{
		"messageType": MessageTypeCommandResponse,
		"responses":   []any{map[string]any{"handle": handle, "result": result}},
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
