package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ncp-monitor/internal/ncp"
)

// simObject is one object in a simulated device model.
type simObject struct {
	class       ncp.ClassID
	role        string
	label       string
	owner       uint64
	members     []uint64
	touchpoints []ncp.Touchpoint
	props       map[ncp.ElementID]any
}

// simCommand mirrors ncp.Command with raw arguments.
type simCommand struct {
	Handle    uint32          `json:"handle"`
	OID       uint64          `json:"oid"`
	MethodID  ncp.ElementID   `json:"methodId"`
	Arguments json.RawMessage `json:"arguments"`
}

// simDevice is an IS-12 device answering Get, GetMemberDescriptors and
// FindMembersByClassId from an in-memory model.
type simDevice struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	objects       map[uint64]*simObject
	conn          *websocket.Conn
	connections   int
	commands      []simCommand
	subscriptions []uint64
	failBlocks    map[uint64]bool

	writeMu sync.Mutex
}

// newSimDevice builds a device with a root block, a receivers block holding
// one receiver monitor (oid 12) and a sender monitor (oid 20) at the root.
func newSimDevice(t *testing.T) *simDevice {
	t.Helper()

	d := &simDevice{
		t:          t,
		failBlocks: map[uint64]bool{},
		objects: map[uint64]*simObject{
			ncp.RootOID: {class: ncp.ClassBlock, role: "root", label: "Studio A", members: []uint64{10, 20}},
			10:          {class: ncp.ClassBlock, role: "receivers", label: "Receivers", owner: 1, members: []uint64{11, 12}},
			11:          {class: ncp.ClassID{1, 2, 1}, role: "worker-01", label: "Worker", owner: 10},
			12: {
				class: ncp.ClassReceiverMonitor, role: "monitor-01", label: "Rx 1", owner: 10,
				touchpoints: []ncp.Touchpoint{
					{ContextNamespace: "x-other", Resource: ncp.TouchpointResource{ID: "ignored"}},
					{ContextNamespace: ncp.TouchpointNamespaceNMOS, Resource: ncp.TouchpointResource{ResourceType: "receiver", ID: "rx-1"}},
				},
				props: map[ncp.ElementID]any{
					{Level: 3, Index: 1}: 1,
					{Level: 4, Index: 1}: 2,
				},
			},
			20: {
				class: ncp.ClassSenderMonitor, role: "monitor-02", label: "Tx 1", owner: 1,
				props: map[ncp.ElementID]any{
					{Level: 3, Index: 1}: 3,
				},
			},
		},
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.connections++
		d.mu.Unlock()
		d.serve(conn)
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *simDevice) URL() string {
	return "ws" + strings.TrimPrefix(d.srv.URL, "http") + "/x-nmos/ncp/v1.0"
}

func (d *simDevice) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var header struct {
			MessageType   ncp.MessageType `json:"messageType"`
			Commands      []simCommand    `json:"commands"`
			Subscriptions []uint64        `json:"subscriptions"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			return
		}

		switch header.MessageType {
		case ncp.MessageTypeCommand:
			for _, c := range header.Commands {
				d.mu.Lock()
				d.commands = append(d.commands, c)
				status, value := d.execute(c)
				d.mu.Unlock()

				result := map[string]any{"status": status}
				if status.IsError() {
					result["errorMessage"] = "simulated failure"
				} else {
					result["value"] = value
				}
				d.write(conn, map[string]any{
					"messageType": ncp.MessageTypeCommandResponse,
					"responses":   []any{map[string]any{"handle": c.Handle, "result": result}},
				})
			}
		case ncp.MessageTypeSubscription:
			d.mu.Lock()
			var acked []uint64
			for _, oid := range header.Subscriptions {
				if _, ok := d.objects[oid]; ok {
					acked = append(acked, oid)
				}
			}
			d.subscriptions = acked
			d.mu.Unlock()
			d.write(conn, map[string]any{"messageType": ncp.MessageTypeSubscription, "subscriptions": acked})
		}
	}
}

// execute runs one command. d.mu must be held.
func (d *simDevice) execute(c simCommand) (ncp.MethodStatus, any) {
	obj, ok := d.objects[c.OID]
	if !ok {
		return ncp.StatusBadOID, nil
	}

	switch c.MethodID {
	case ncp.MethodGet:
		var args ncp.PropertyArgs
		_ = json.Unmarshal(c.Arguments, &args)
		switch args.ID {
		case ncp.PropertyUserLabel:
			return ncp.StatusOK, obj.label
		case ncp.PropertyTouchpoints:
			return ncp.StatusOK, obj.touchpoints
		}
		if v, ok := obj.props[args.ID]; ok {
			return ncp.StatusOK, v
		}
		return ncp.StatusPropertyNotImplemented, nil

	case ncp.MethodGetMemberDescriptors:
		if d.failBlocks[c.OID] {
			return ncp.StatusDeviceError, nil
		}
		descriptors := []ncp.BlockMemberDescriptor{}
		for _, oid := range obj.members {
			descriptors = append(descriptors, d.descriptor(oid))
		}
		return ncp.StatusOK, descriptors

	case ncp.MethodFindMembersByClassID:
		var args ncp.FindMembersArgs
		_ = json.Unmarshal(c.Arguments, &args)
		found := []ncp.BlockMemberDescriptor{}
		var visit func(oid uint64)
		visit = func(oid uint64) {
			for _, m := range d.objects[oid].members {
				if d.objects[m].class.DerivesFrom(args.ClassID) {
					found = append(found, d.descriptor(m))
				}
				visit(m)
			}
		}
		visit(c.OID)
		return ncp.StatusOK, found
	}
	return ncp.StatusMethodNotImplemented, nil
}

func (d *simDevice) descriptor(oid uint64) ncp.BlockMemberDescriptor {
	o := d.objects[oid]
	label := o.label
	return ncp.BlockMemberDescriptor{Role: o.role, OID: oid, ClassID: o.class, UserLabel: &label, Owner: o.owner}
}

func (d *simDevice) write(conn *websocket.Conn, v any) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteJSON(v)
}

// notify pushes a ValueChanged notification on the current connection.
func (d *simDevice) notify(oid uint64, prop ncp.ElementID, value any) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		d.t.Fatal("device: no connection to notify on")
	}
	d.write(conn, map[string]any{
		"messageType": ncp.MessageTypeNotification,
		"notifications": []any{map[string]any{
			"oid":     oid,
			"eventId": ncp.EventPropertyChanged,
			"eventData": map[string]any{
				"propertyId":        prop,
				"changeType":        ncp.ValueChanged,
				"value":             value,
				"sequenceItemIndex": nil,
			},
		}},
	})
}

// drop closes the current connection from the device side.
func (d *simDevice) drop() {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (d *simDevice) Subscriptions() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.subscriptions)
}

func (d *simDevice) Connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connections
}

// methodCalls counts commands with the given method.
func (d *simDevice) methodCalls(method ncp.ElementID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c.MethodID == method {
			n++
		}
	}
	return n
}

// captureSink records lines.
type captureSink struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *captureSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
