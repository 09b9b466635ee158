// Package session maps transport connection handles to session ids and
// back, enforcing one session per handle, and broadcasts cancellation to
// whatever job pools are registered against a session.
//
// Grounded on pkg/events/manager.go (ConnectionManager: connection map
// guarded by RWMutex, virtual open/close hooks) and
// original_source's session management found alongside
// session_job_pool_base.hpp.
package session

// ID identifies a session. Zero is never issued by Manager.Open.
type ID uint64

// Handle is an opaque transport connection identity — typically a
// *websocket.Conn wrapper or similar. It must be usable as a map key.
type Handle any

// Sender hands serialized bytes to the transport for a given handle.
// transport.Server implements it with a synchronous write bounded by its
// write timeout; it does not enqueue, so a stalled client holds the caller
// for up to that timeout.
type Sender interface {
	Send(handle Handle, data []byte) bool
}
