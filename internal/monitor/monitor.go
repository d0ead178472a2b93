package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/audit"
	"github.com/nerrad567/ncp-monitor/internal/inventory"
	"github.com/nerrad567/ncp-monitor/internal/mapping"
	"github.com/nerrad567/ncp-monitor/internal/ncp"
)

// Tag and metadata field keys written on every line.
const (
	TagDeviceID   = "device_id"
	TagNodeID     = "node_id"
	TagRole       = "role"
	TagResourceID = "resource_id"

	FieldUserLabel       = "user_label"
	FieldDeviceUserLabel = "device_user_label"
	FieldDeviceLabel     = "device_label"
)

// rootRole names the root block in role paths.
const rootRole = "root"

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

// Inventory records what discovery finds. *inventory.Recorder implements it.
type Inventory interface {
	RecordDevice(ctx context.Context, d inventory.Device) error
	RecordObjects(ctx context.Context, deviceID string, objects []inventory.Object) error
}

// Journal records session lifecycle events. *audit.SQLiteRepository
// implements it.
type Journal interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// journalTimeout bounds a journal write; session end is often journaled
// after ctx is cancelled.
const journalTimeout = 5 * time.Second

// Target is a resolved device.
type Target struct {
	DeviceID   string
	Label      string
	NodeID     string
	ControlURL string

	// Resources are the device's IS-04 sender and receiver ids. Touchpoints
	// naming one of them become the resource_id tag. Empty accepts any
	// NMOS touchpoint.
	Resources []string
}

// Options control what a monitor does on each connect.
type Options struct {
	Session ncp.SessionConfig

	// Snapshot reads every mapped property once after subscribing.
	Snapshot bool

	// WalkDeviceModel lists the full device model into the inventory.
	WalkDeviceModel bool
	MaxWalkDepth    int
}

// Status is a point-in-time view of one monitor.
type Status struct {
	DeviceID              string     `json:"device_id"`
	Label                 string     `json:"label,omitempty"`
	ControlURL            string     `json:"control_url,omitempty"`
	State                 string     `json:"state"`
	DeviceUserLabel       string     `json:"device_user_label,omitempty"`
	MonitoredObjects      int        `json:"monitored_objects"`
	Subscriptions         int        `json:"subscriptions"`
	Sessions              uint64     `json:"sessions"`
	NotificationsReceived uint64     `json:"notifications_received"`
	LinesWritten          uint64     `json:"lines_written"`
	LinesFiltered         uint64     `json:"lines_filtered"`
	LinesDropped          uint64     `json:"lines_dropped"`
	ConnectedAt           *time.Time `json:"connected_at,omitempty"`
	LastError             string     `json:"last_error,omitempty"`
}

// Ready reports whether the monitor has a live, subscribed session.
func (s Status) Ready() bool {
	return s.State == ncp.StateReady.String()
}

// Monitor owns the control session with one device and the metadata of the
// objects it subscribes to. It turns every notification into a metric line.
//
// A Monitor runs one session per Run call and is reused across reconnects,
// so its counters cover the whole process lifetime.
//
// Thread Safety: All methods are safe for concurrent use.
type Monitor struct {
	opts      Options
	encoder   *mapping.Encoder
	sink      Sink
	inventory Inventory
	journal   Journal
	metrics   *Metrics
	logger    Logger

	mu          sync.RWMutex
	target      Target
	session     *ncp.Session
	objects     map[uint64]mapping.ObjectInfo
	rootLabel   string
	subscribed  int
	connectedAt time.Time
	lastErr     error

	sessions      atomic.Uint64
	notifications atomic.Uint64
	linesWritten  atomic.Uint64
	linesFiltered atomic.Uint64
	linesDropped  atomic.Uint64

	rediscover chan struct{}
}

// Deps are the collaborators shared by monitors. Inventory, Journal,
// Metrics and Logger are optional.
type Deps struct {
	Encoder   *mapping.Encoder
	Sink      Sink
	Inventory Inventory
	Journal   Journal
	Metrics   *Metrics
	Logger    Logger
}

// New creates a monitor for target.
func New(target Target, opts Options, deps Deps) *Monitor {
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Monitor{
		opts:       opts,
		encoder:    deps.Encoder,
		sink:       deps.Sink,
		inventory:  deps.Inventory,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		logger:     logger,
		target:     target,
		objects:    map[uint64]mapping.ObjectInfo{},
		rediscover: make(chan struct{}, 1),
	}
}

// DeviceID returns the device id used in tags and metrics.
func (m *Monitor) DeviceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.target.DeviceID
}

// SetTarget replaces the resolved target used by the next Run.
func (m *Monitor) SetTarget(t Target) {
	m.mu.Lock()
	m.target = t
	m.mu.Unlock()
}

// Rediscover asks the running session to close so the device is resolved,
// walked and subscribed again. It never blocks.
func (m *Monitor) Rediscover() {
	select {
	case m.rediscover <- struct{}{}:
	default:
	}
}

// Run opens one session and serves it until ctx is cancelled (nil), the
// session ends (its error) or a rediscovery is requested
// (ErrRediscoverRequested).
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.RLock()
	target := m.target
	m.mu.RUnlock()
	device := target.DeviceID

	// A request made while no session was running has been served by this run.
	select {
	case <-m.rediscover:
	default:
	}

	cfg := m.opts.Session
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	s := ncp.NewSession(cfg)

	m.mu.Lock()
	m.session = s
	m.objects = map[uint64]mapping.ObjectInfo{}
	m.subscribed = 0
	m.connectedAt = time.Time{}
	m.mu.Unlock()
	m.sessions.Add(1)
	m.metrics.sessionStarted(device)

	defer func() {
		_ = s.Close()
		m.metrics.setState(device, s.State())
		m.metrics.setMonitored(device, 0)
	}()

	m.metrics.setState(device, ncp.StateConnecting)
	if err := s.Connect(ctx, target.ControlURL); err != nil {
		m.setErr(err)
		return err
	}
	m.metrics.setState(device, ncp.StateReady)
	m.logger.Info("control session connected", "device_id", device, "endpoint", target.ControlURL)

	remove := s.OnNotification(m.handleNotifications)
	defer remove()

	cmd := countingCommander{Commander: s, device: device, metrics: m.metrics}
	if err := m.discover(ctx, cmd, s, target); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		m.setErr(err)
		return err
	}

	m.mu.Lock()
	m.connectedAt = time.Now()
	m.lastErr = nil
	monitored, subscribed := len(m.objects), m.subscribed
	m.mu.Unlock()
	m.writeJournal(ctx, audit.ActionSessionStarted, map[string]any{
		"endpoint":          target.ControlURL,
		"monitored_objects": monitored,
		"subscriptions":     subscribed,
	})

	var err error
	select {
	case <-ctx.Done():
	case <-s.Done():
		err = s.Err()
		m.setErr(err)
	case <-m.rediscover:
		m.logger.Info("rediscovery requested", "device_id", device)
		err = ErrRediscoverRequested
	}

	reason := "shutdown"
	if err != nil {
		reason = err.Error()
	}
	m.writeJournal(ctx, audit.ActionSessionEnded, map[string]any{"reason": reason})
	return err
}

// writeJournal records a lifecycle event, logging failures.
func (m *Monitor) writeJournal(ctx context.Context, action string, details map[string]any) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	entry := &audit.Entry{Action: action, DeviceID: m.DeviceID(), Source: audit.SourceMonitor, Details: details}
	if err := m.journal.Create(ctx, entry); err != nil {
		m.logger.Warn("journaling session event failed", "device_id", m.DeviceID(), "action", action, "error", err)
	}
}

// discover reads the root label, optionally walks the device model, finds
// every catalogued object, subscribes to them and takes the snapshot.
func (m *Monitor) discover(ctx context.Context, cmd ncp.Commander, s *ncp.Session, target Target) error {
	device := target.DeviceID

	rootLabel, err := ncp.UserLabel(ctx, cmd, ncp.RootOID)
	if err != nil {
		if ncp.IsFault(err) || ctx.Err() != nil {
			return err
		}
		m.logger.Warn("reading root user label failed", "device_id", device, "error", err)
	}
	m.mu.Lock()
	m.rootLabel = rootLabel
	m.mu.Unlock()

	m.record(ctx, func(inv Inventory) error {
		return inv.RecordDevice(ctx, inventory.Device{
			ID:         device,
			Label:      target.Label,
			UserLabel:  rootLabel,
			NodeID:     target.NodeID,
			ControlURL: target.ControlURL,
		})
	})

	if m.opts.WalkDeviceModel {
		if err := m.walk(ctx, cmd, device, rootLabel); err != nil {
			return err
		}
	}

	objects, err := m.findObjects(ctx, cmd, target, rootLabel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.objects = objects
	m.mu.Unlock()

	oids := append([]uint64{ncp.RootOID}, slices.Sorted(maps.Keys(objects))...)
	acked, err := s.SendSubscriptions(ctx, oids)
	if err != nil {
		return err
	}
	if missing := difference(oids, acked); len(missing) > 0 {
		m.logger.Warn("device did not accept every subscription", "device_id", device, "missing", missing)
	}

	m.mu.Lock()
	m.subscribed = len(acked)
	m.mu.Unlock()
	m.metrics.setMonitored(device, len(objects))
	m.logger.Info("subscribed to device objects",
		"device_id", device, "objects", len(objects), "subscriptions", len(acked))

	if m.opts.Snapshot {
		return m.snapshot(ctx, cmd, objects)
	}
	return nil
}

// walk records the whole device model. Only a session fault aborts
// discovery; a partial walk is logged.
func (m *Monitor) walk(ctx context.Context, cmd ncp.Commander, device, rootLabel string) error {
	members, err := NewWalker(cmd, m.opts.MaxWalkDepth, m.logger).Walk(ctx, ncp.RootOID, rootRole)
	if err != nil {
		if !errors.Is(err, ErrWalkIncomplete) {
			return err
		}
		m.logger.Warn("device model walk incomplete", "device_id", device, "error", err)
	}
	m.logger.Info("device model walked", "device_id", device, "objects", len(members))

	objects := make([]inventory.Object, 0, len(members)+1)
	objects = append(objects, inventory.Object{
		OID: ncp.RootOID, Role: rootRole, RolePath: rootRole, ClassID: ncp.ClassBlock.String(), UserLabel: rootLabel,
	})
	for _, mem := range members {
		objects = append(objects, inventory.Object{
			OID:       mem.OID,
			Role:      mem.Role,
			RolePath:  mem.RolePath,
			ClassID:   mem.ClassID.String(),
			UserLabel: mem.Label(),
			Owner:     mem.Owner,
			Depth:     mem.Depth,
		})
	}
	m.record(ctx, func(inv Inventory) error { return inv.RecordObjects(ctx, device, objects) })
	return nil
}

// findObjects searches the device for every catalogued class. An object
// matching several categories goes to the one with the most specific class.
func (m *Monitor) findObjects(ctx context.Context, cmd ncp.Commander, target Target, rootLabel string) (map[uint64]mapping.ObjectInfo, error) {
	catalog := m.encoder.Catalog()

	type match struct {
		category string
		depth    int
		member   ncp.BlockMemberDescriptor
	}
	matches := map[uint64]match{}

	for _, category := range catalog.Categories() {
		class := catalog[category].ClassID
		if len(class) == 0 {
			continue
		}
		found, err := ncp.FindMembersByClassID(ctx, cmd, ncp.RootOID, class)
		if err != nil {
			if ncp.IsFault(err) || ctx.Err() != nil {
				return nil, err
			}
			m.logger.Warn("finding members failed", "device_id", target.DeviceID, "class_id", class.String(), "error", err)
			continue
		}
		m.logger.Info("found monitored objects", "device_id", target.DeviceID, "category", category, "count", len(found))

		for _, d := range found {
			if prev, ok := matches[d.OID]; ok && prev.depth >= len(class) {
				continue
			}
			matches[d.OID] = match{category: category, depth: len(class), member: d}
		}
	}

	objects := make(map[uint64]mapping.ObjectInfo, len(matches))
	records := make([]inventory.Object, 0, len(matches))
	for _, oid := range slices.Sorted(maps.Keys(matches)) {
		mt := matches[oid]

		info := mapping.ObjectInfo{Category: mt.category}
		info.SetTag(TagDeviceID, target.DeviceID)
		if target.NodeID != "" {
			info.SetTag(TagNodeID, target.NodeID)
		}
		info.SetTag(TagRole, mt.member.Role)

		resource, err := m.resourceID(ctx, cmd, oid, target.Resources)
		if err != nil {
			return nil, err
		}
		if resource != "" {
			info.SetTag(TagResourceID, resource)
		}

		info.SetField(FieldUserLabel, mt.member.Label())
		if rootLabel != "" {
			info.SetField(FieldDeviceUserLabel, rootLabel)
		}
		if target.Label != "" {
			info.SetField(FieldDeviceLabel, target.Label)
		}
		objects[oid] = info

		records = append(records, inventory.Object{
			OID:        oid,
			Role:       mt.member.Role,
			ClassID:    mt.member.ClassID.String(),
			UserLabel:  mt.member.Label(),
			Owner:      mt.member.Owner,
			Category:   mt.category,
			ResourceID: resource,
		})
	}

	m.record(ctx, func(inv Inventory) error { return inv.RecordObjects(ctx, target.DeviceID, records) })
	return objects, nil
}

// resourceID returns the first NMOS touchpoint of oid that names one of
// resources. Objects without touchpoints return "".
func (m *Monitor) resourceID(ctx context.Context, cmd ncp.Commander, oid uint64, resources []string) (string, error) {
	touchpoints, err := ncp.Touchpoints(ctx, cmd, oid)
	if err != nil {
		if ncp.IsFault(err) || ctx.Err() != nil {
			return "", err
		}
		m.logger.Debug("reading touchpoints failed", "oid", oid, "error", err)
		return "", nil
	}
	for _, tp := range touchpoints {
		if tp.ContextNamespace != ncp.TouchpointNamespaceNMOS || tp.Resource.ID == "" {
			continue
		}
		if len(resources) == 0 || slices.Contains(resources, tp.Resource.ID) {
			return tp.Resource.ID, nil
		}
	}
	return "", nil
}

// snapshot reads every mapped property and emits it as a value change.
func (m *Monitor) snapshot(ctx context.Context, cmd ncp.Commander, objects map[uint64]mapping.ObjectInfo) error {
	catalog := m.encoder.Catalog()
	for _, oid := range slices.Sorted(maps.Keys(objects)) {
		info := objects[oid]
		for _, f := range catalog[info.Category].Fields {
			res, err := cmd.SendCommand(ctx, oid, ncp.MethodGet, ncp.PropertyArgs{ID: f.PropertyID})
			if err != nil {
				if ncp.IsFault(err) || ctx.Err() != nil {
					return err
				}
				m.logger.Debug("snapshot read failed", "oid", oid, "property", f.PropertyID.String(), "error", err)
				continue
			}
			value := res.Value
			if len(value) == 0 {
				value = json.RawMessage("null")
			}
			m.emit(ncp.Notification{
				OID:     oid,
				EventID: ncp.EventPropertyChanged,
				EventData: ncp.PropertyChangedEventData{
					PropertyID: f.PropertyID,
					ChangeType: ncp.ValueChanged,
					Value:      value,
				},
			}, info)
		}
	}
	return nil
}

// handleNotifications is the session observer.
func (m *Monitor) handleNotifications(msg *ncp.NotificationMessage) {
	device := m.DeviceID()
	for _, n := range msg.Notifications {
		m.notifications.Add(1)
		m.metrics.notification(device)

		if n.OID == ncp.RootOID {
			m.handleRootEvent(n)
			continue
		}

		m.mu.RLock()
		info, ok := m.objects[n.OID]
		m.mu.RUnlock()
		if !ok {
			m.linesDropped.Add(1)
			m.metrics.lineDropped(device, dropUnknownObject)
			m.logger.Debug("notification for unknown object", "device_id", device, "oid", n.OID)
			continue
		}
		m.emit(n, info)
	}
}

// handleRootEvent tracks the root block's user label, which every line
// carries as device_user_label.
func (m *Monitor) handleRootEvent(n ncp.Notification) {
	if n.EventData.PropertyID != ncp.PropertyUserLabel || n.EventData.ChangeType != ncp.ValueChanged {
		m.linesFiltered.Add(1)
		m.metrics.lineFiltered(m.DeviceID())
		return
	}

	var label string
	if n.EventData.HasValue() {
		if err := json.Unmarshal(n.EventData.Value, &label); err != nil {
			m.logger.Warn("root user label is not a string", "value", string(n.EventData.Value))
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rootLabel = label

	// Readers hold copies that share slices, so rebuild instead of editing.
	updated := make(map[uint64]mapping.ObjectInfo, len(m.objects))
	for oid, info := range m.objects {
		info.Tags = slices.Clone(info.Tags)
		info.Fields = slices.Clone(info.Fields)
		info.SetField(FieldDeviceUserLabel, label)
		updated[oid] = info
	}
	m.objects = updated
	m.logger.Info("device user label changed", "device_id", m.target.DeviceID, "user_label", label)
}

// emit encodes one event and writes it to the sink.
func (m *Monitor) emit(n ncp.Notification, info mapping.ObjectInfo) {
	device, _ := info.Tag(TagDeviceID)

	line, ok, err := m.encoder.Encode(n, info)
	switch {
	case err != nil:
		m.linesDropped.Add(1)
		m.metrics.lineDropped(device, dropEncodeError)
		m.logger.Warn("encoding notification failed",
			"device_id", device, "oid", n.OID, "property", n.EventData.PropertyID.String(), "error", err)
		return
	case !ok:
		m.linesFiltered.Add(1)
		m.metrics.lineFiltered(device)
		return
	}

	if err := m.sink.WriteLine(line); err != nil {
		m.linesDropped.Add(1)
		m.metrics.lineDropped(device, dropSinkError)
		m.logger.Warn("writing metric line failed", "device_id", device, "error", err)
		return
	}
	m.linesWritten.Add(1)
	m.metrics.lineEncoded(device, m.encoder.Catalog()[info.Category].Table)
}

// record runs fn against the inventory, logging failures.
func (m *Monitor) record(ctx context.Context, fn func(Inventory) error) {
	if m.inventory == nil {
		return
	}
	if err := fn(m.inventory); err != nil && ctx.Err() == nil {
		m.logger.Warn("updating inventory failed", "device_id", m.DeviceID(), "error", err)
	}
}

// established reports whether the last Run got as far as subscribing.
func (m *Monitor) established() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.connectedAt.IsZero()
}

func (m *Monitor) setErr(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Objects returns a copy of the current object metadata keyed by oid.
func (m *Monitor) Objects() map[uint64]mapping.ObjectInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.objects)
}

// Status returns the current state and counters.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		DeviceID:              m.target.DeviceID,
		Label:                 m.target.Label,
		ControlURL:            m.target.ControlURL,
		State:                 ncp.StateDisconnected.String(),
		DeviceUserLabel:       m.rootLabel,
		MonitoredObjects:      len(m.objects),
		Subscriptions:         m.subscribed,
		Sessions:              m.sessions.Load(),
		NotificationsReceived: m.notifications.Load(),
		LinesWritten:          m.linesWritten.Load(),
		LinesFiltered:         m.linesFiltered.Load(),
		LinesDropped:          m.linesDropped.Load(),
	}
	if m.session != nil {
		st.State = m.session.State().String()
		// Connected but still discovering.
		if m.session.State() == ncp.StateReady && m.connectedAt.IsZero() {
			st.State = "discovering"
		}
	}
	if !m.connectedAt.IsZero() && st.State == ncp.StateReady.String() {
		at := m.connectedAt
		st.ConnectedAt = &at
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// countingCommander counts commands and their failures per device.
type countingCommander struct {
	ncp.Commander
	device  string
	metrics *Metrics
}

func (c countingCommander) SendCommand(ctx context.Context, oid uint64, method ncp.ElementID, args any) (ncp.MethodResult, error) {
	res, err := c.Commander.SendCommand(ctx, oid, method, args)
	c.metrics.commandSent(c.device, err)
	return res, err
}

// difference returns the elements of want missing from got.
func difference(want, got []uint64) []uint64 {
	var missing []uint64
	for _, oid := range want {
		if !slices.Contains(got, oid) {
			missing = append(missing, oid)
		}
	}
	return missing
}
