// Package telegraf streams line protocol to a Telegraf socket_listener
// (tcp://host:8094) over one persistent TCP connection.
//
// Each WriteLine sends exactly one newline-terminated line. A failed write
// marks the writer disconnected and starts a background redial with
// exponential backoff; until it succeeds WriteLine returns ErrNotConnected
// and the line is dropped. Delivery is at-most-once.
//
// Usage:
//
//	w := telegraf.New(cfg.Telegraf)
//	w.SetLogger(logger)
//	if err := w.Connect(ctx); err != nil {
//	    // keep going: the writer redials in the background
//	}
//	defer w.Close()
//
//	w.WriteLine(line)
package telegraf
