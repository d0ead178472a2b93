// Package tsdb is the VictoriaMetrics sink. Encoded status-monitor lines
// and per-session health points are queued in memory and POSTed as one
// newline-separated body to /write, either when batch_size lines are
// pending or every flush_interval seconds.
//
// Writes never block on the network. A failed flush is handed to the
// callback set with SetOnError and the batch is discarded.
package tsdb
