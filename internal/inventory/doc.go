// Package inventory records what the monitor learns about device models.
//
// Every connect upserts the device row, and every device-model walk upserts
// one row per object (role path, class, label, owner, depth). Objects the
// monitor subscribes to also carry their mapping category and, when a
// touchpoint links them to an IS-04 resource, its id. Rows are never deleted
// by the monitor: last_seen and seen_count show whether an object is still
// present.
//
// The inventory is write-mostly. Sessions never read it back; the status API
// does.
package inventory
