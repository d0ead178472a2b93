package tsdb

import "errors"

var (
	// ErrNotConnected is returned by writes after Close.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrConnectionFailed wraps the /health probe failure from Connect.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed marks a rejected line or a failed POST to /write.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrDisabled is returned by Connect when tsdb.enabled is false.
	ErrDisabled = errors.New("tsdb: disabled in configuration")
)
