package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Device is one row of the devices table.
type Device struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	UserLabel    string    `json:"user_label"`
	NodeID       string    `json:"node_id,omitempty"`
	ControlURL   string    `json:"control_url"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	SessionCount int       `json:"session_count"`
}

// Object is one device-model object.
type Object struct {
	DeviceID   string    `json:"device_id"`
	OID        uint64    `json:"oid"`
	Role       string    `json:"role"`
	RolePath   string    `json:"role_path"`
	ClassID    string    `json:"class_id"`
	UserLabel  string    `json:"user_label"`
	Owner      uint64    `json:"owner"`
	Depth      int       `json:"depth"`
	Category   string    `json:"category,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	SeenCount  int       `json:"seen_count"`
}

// Logger is the subset of the application logger the recorder uses.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Recorder upserts devices and objects into SQLite.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time

	deviceUpsertStmt *sql.Stmt
	objectUpsertStmt *sql.Stmt
	stmtMu           sync.Mutex
}

// NewRecorder creates a recorder. The inventory migration must have been
// applied to db.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Calling it twice is a no-op.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.deviceUpsertStmt != nil {
		return nil
	}

	deviceStmt, err := r.db.Prepare(`
		INSERT INTO devices (device_id, label, user_label, node_id, control_url, first_seen, last_seen, session_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(device_id) DO UPDATE SET
			label = excluded.label,
			user_label = excluded.user_label,
			node_id = CASE WHEN excluded.node_id != '' THEN excluded.node_id ELSE node_id END,
			control_url = excluded.control_url,
			last_seen = excluded.last_seen,
			session_count = session_count + 1
	`)
	if err != nil {
		return fmt.Errorf("preparing device upsert statement: %w", err)
	}

	// Category and resource id are only ever filled in: a later plain walk
	// does not clear what monitor discovery found.
	objectStmt, err := r.db.Prepare(`
		INSERT INTO device_objects (device_id, oid, role, role_path, class_id, user_label, owner, depth,
			category, resource_id, first_seen, last_seen, seen_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(device_id, oid) DO UPDATE SET
			role = excluded.role,
			role_path = CASE WHEN excluded.role_path != '' THEN excluded.role_path ELSE role_path END,
			class_id = excluded.class_id,
			user_label = excluded.user_label,
			owner = excluded.owner,
			depth = CASE WHEN excluded.role_path != '' THEN excluded.depth ELSE depth END,
			category = CASE WHEN excluded.category != '' THEN excluded.category ELSE category END,
			resource_id = CASE WHEN excluded.resource_id != '' THEN excluded.resource_id ELSE resource_id END,
			last_seen = excluded.last_seen,
			seen_count = seen_count + 1
	`)
	if err != nil {
		deviceStmt.Close()
		return fmt.Errorf("preparing object upsert statement: %w", err)
	}

	r.deviceUpsertStmt = deviceStmt
	r.objectUpsertStmt = objectStmt
	r.log("inventory recorder started")
	return nil
}

// Stop releases the prepared statements. Later writes return ErrNotStarted.
func (r *Recorder) Stop() {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.deviceUpsertStmt == nil {
		return
	}
	r.deviceUpsertStmt.Close()
	r.objectUpsertStmt.Close()
	r.deviceUpsertStmt = nil
	r.objectUpsertStmt = nil
	r.log("inventory recorder stopped")
}

func (r *Recorder) statements() (device, object *sql.Stmt, err error) {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.deviceUpsertStmt == nil {
		return nil, nil, ErrNotStarted
	}
	return r.deviceUpsertStmt, r.objectUpsertStmt, nil
}

// RecordDevice upserts a device and counts one more session for it.
func (r *Recorder) RecordDevice(ctx context.Context, d Device) error {
	stmt, _, err := r.statements()
	if err != nil {
		return err
	}
	now := r.now().Unix()
	if _, err := stmt.ExecContext(ctx, d.ID, d.Label, d.UserLabel, d.NodeID, d.ControlURL, now, now); err != nil {
		r.logError("recording device", err, "device_id", d.ID)
		return fmt.Errorf("recording device %s: %w", d.ID, err)
	}
	return nil
}

// RecordObjects upserts a batch of objects in one transaction. The device
// row must exist.
func (r *Recorder) RecordObjects(ctx context.Context, deviceID string, objects []Object) error {
	if len(objects) == 0 {
		return nil
	}
	_, stmt, err := r.statements()
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	txStmt := tx.StmtContext(ctx, stmt)
	defer txStmt.Close()

	now := r.now().Unix()
	for _, o := range objects {
		if _, err := txStmt.ExecContext(ctx, deviceID, int64(o.OID), o.Role, o.RolePath, o.ClassID, o.UserLabel,
			int64(o.Owner), o.Depth, o.Category, o.ResourceID, now, now); err != nil {
			r.logError("recording object", err, "device_id", deviceID, "oid", o.OID)
			return fmt.Errorf("recording object %d of %s: %w", o.OID, deviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing objects of %s: %w", deviceID, err)
	}
	return nil
}

// Devices lists every recorded device, most recently seen first.
func (r *Recorder) Devices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, label, user_label, node_id, control_url, first_seen, last_seen, session_count
		FROM devices ORDER BY last_seen DESC, device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Device returns one device or ErrNotFound.
func (r *Recorder) Device(ctx context.Context, id string) (Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_id, label, user_label, node_id, control_url, first_seen, last_seen, session_count
		FROM devices WHERE device_id = ?
	`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return d, err
}

// Objects lists a device's objects by oid. With monitorsOnly set, only
// objects that have a mapping category are returned.
func (r *Recorder) Objects(ctx context.Context, deviceID string, monitorsOnly bool) ([]Object, error) {
	query := `
		SELECT device_id, oid, role, role_path, class_id, user_label, owner, depth, category, resource_id,
			first_seen, last_seen, seen_count
		FROM device_objects WHERE device_id = ?`
	if monitorsOnly {
		query += ` AND category != ''`
	}
	query += ` ORDER BY oid`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		var o Object
		var oid, owner, first, last int64
		if err := rows.Scan(&o.DeviceID, &oid, &o.Role, &o.RolePath, &o.ClassID, &o.UserLabel, &owner, &o.Depth,
			&o.Category, &o.ResourceID, &first, &last, &o.SeenCount); err != nil {
			return nil, fmt.Errorf("scanning object: %w", err)
		}
		o.OID, o.Owner = uint64(oid), uint64(owner)
		o.FirstSeen, o.LastSeen = time.Unix(first, 0), time.Unix(last, 0)
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

// ObjectCount returns the number of recorded objects across all devices.
func (r *Recorder) ObjectCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_objects`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (Device, error) {
	var d Device
	var first, last int64
	if err := s.Scan(&d.ID, &d.Label, &d.UserLabel, &d.NodeID, &d.ControlURL, &first, &last, &d.SessionCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, err
		}
		return Device{}, fmt.Errorf("scanning device: %w", err)
	}
	d.FirstSeen, d.LastSeen = time.Unix(first, 0), time.Unix(last, 0)
	return d, nil
}

func (r *Recorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
