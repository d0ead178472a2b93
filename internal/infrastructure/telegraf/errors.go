package telegraf

import "errors"

// Sentinel errors for the Telegraf stream writer.
var (
	// ErrNotConnected is returned by WriteLine while the stream is down.
	// The line is not buffered.
	ErrNotConnected = errors.New("telegraf: not connected")

	// ErrConnectionFailed indicates a dial attempt failed.
	ErrConnectionFailed = errors.New("telegraf: connection failed")

	// ErrWriteFailed indicates the stream broke during a write.
	ErrWriteFailed = errors.New("telegraf: write failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("telegraf: writer closed")
)
