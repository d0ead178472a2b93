// Package ncp implements the client side of the NMOS Control Protocol
// (IS-12) control session.
//
// A Session owns one WebSocket channel to one device. It issues commands
// whose responses arrive asynchronously and are matched back to the caller
// by handle, keeps the device-side subscription set, and hands unsolicited
// property-change notifications to registered observers.
//
// # Architecture
//
//	┌──────────────┐  SendCommand / SendSubscriptions  ┌──────────────┐
//	│   Monitor    │──────────────────────────────────►│   Session    │  WebSocket
//	│ (orchestrator│                                   │  (this pkg)  │◄──────────► Device
//	│   package)   │◄──────────────────────────────────│              │
//	└──────────────┘        OnNotification             └──────────────┘
//
// # Session Lifecycle
//
//	Disconnected ──Connect──► Connecting ──handshake──► Ready ──Close──► Closing ──► Closed
//	      │                        │                      │
//	      └────────────────────────┴──── transport error ─┴──────────────► Faulted
//
// Faulted is terminal. The session never reconnects on its own; the owner
// creates a new Session when it wants to try again.
//
// # Wire Format
//
// Every frame is a JSON object discriminated by messageType:
//
//   - 0: command (client → device)
//   - 1: command response (device → client)
//   - 2: notification (device → client)
//   - 4: subscription set (both directions)
//   - 5: error (device → client, faults the session)
//
// # Usage
//
//	s := ncp.NewSession(ncp.SessionConfig{})
//	if err := s.Connect(ctx, "ws://10.0.0.5:49999/x-nmos/ncp/v1.0"); err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	label, err := ncp.Invoke[string](ctx, s, ncp.RootOID, ncp.MethodGet,
//	    ncp.PropertyArgs{ID: ncp.PropertyUserLabel})
//
// # Thread Safety
//
// All Session methods are safe for concurrent use. Concurrent SendCommand
// callers each get their own handle and are resolved independently.
//
// # References
//
//   - AMWA IS-12: https://specs.amwa.tv/is-12/
//   - AMWA MS-05-02 (device model): https://specs.amwa.tv/ms-05-02/
//   - AMWA BCP-008 (receiver/sender monitors): https://specs.amwa.tv/bcp-008-01/
package ncp
