// Package registry looks up devices in an AMWA IS-04 Node API and resolves
// their IS-12 control endpoints.
//
// A device descriptor lists the device's controls; the one whose type is
// "urn:x-nmos:control:ncp/v1.0" is the WebSocket URL the control session
// dials. Descriptors are validated with go-playground/validator before use.
//
// When the monitor runs in a container the registry often advertises
// hostnames that only resolve on the device network. RewriteControlHost
// replaces the control URL's host with the registry's own host while
// keeping the port and path.
package registry
