package ncp

import (
	"errors"
	"fmt"
)

// Domain errors for the control session.
var (
	// ErrConnectionFailed is returned when the WebSocket handshake with the
	// device does not complete.
	ErrConnectionFailed = errors.New("ncp: connection failed")

	// ErrNotConnected is returned when an operation requires a Ready session.
	ErrNotConnected = errors.New("ncp: session not connected")

	// ErrInvalidState is returned when an operation is not valid in the
	// session's current state (e.g. Connect on a used session).
	ErrInvalidState = errors.New("ncp: invalid session state")

	// ErrSessionClosed is delivered to every pending caller when Close is called.
	ErrSessionClosed = errors.New("ncp: session closed")

	// ErrSessionFaulted is delivered to every pending caller when the transport
	// fails or the device sends a top-level error frame.
	ErrSessionFaulted = errors.New("ncp: session faulted")

	// ErrTimeout is returned when a command or subscription update receives no
	// response in time. The session stays usable.
	ErrTimeout = errors.New("ncp: operation timed out")

	// ErrSendFailed is returned when a frame cannot be written to the channel.
	ErrSendFailed = errors.New("ncp: send failed")

	// ErrCommandFailed is wrapped by MethodError for responses carrying an
	// error status.
	ErrCommandFailed = errors.New("ncp: command failed")

	// ErrMalformedMessage is returned when an inbound frame is not a valid
	// control protocol message.
	ErrMalformedMessage = errors.New("ncp: malformed message")

	// ErrDeviceError wraps a top-level error frame sent by the device.
	ErrDeviceError = errors.New("ncp: device reported protocol error")

	// ErrDecodingFailed is returned when a result value does not decode into
	// the requested type.
	ErrDecodingFailed = errors.New("ncp: decoding result failed")

	// ErrEncodingFailed is returned when command arguments cannot be serialised.
	ErrEncodingFailed = errors.New("ncp: encoding command failed")
)

// MethodError is the per-request failure returned when a command response
// carries an error status. Only the originating caller sees it.
type MethodError struct {
	Handle  uint32
	Status  MethodStatus
	Message string
}

func (e *MethodError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ncp: command %d failed with status %d", e.Handle, e.Status)
	}
	return fmt.Sprintf("ncp: command %d failed with status %d: %s", e.Handle, e.Status, e.Message)
}

// Unwrap allows errors.Is(err, ErrCommandFailed).
func (e *MethodError) Unwrap() error {
	return ErrCommandFailed
}
