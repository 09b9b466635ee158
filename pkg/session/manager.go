package session

import "sync"

// Manager maps connection handles to session ids and back. It is the
// sole owner of session identity; derived roles (processor, translator)
// hook OnOpen/OnClose to wire up their own per-session bookkeeping, such
// as cancelling a session's outstanding jobs on close.
type Manager struct {
	mu         sync.RWMutex
	handleToID map[Handle]ID
	idToHandle map[ID]Handle
	nextID     ID

	sender Sender

	// OnOpen is called after a new session id has been allocated and
	// indexed, with the pool lock already released. Default: no-op.
	OnOpen func(id ID)
	// OnClose is called after a session's mapping has been removed, with
	// the pool lock already released. In the processor/translator roles
	// this triggers cancellation of all of that session's jobs. Default:
	// no-op.
	OnClose func(id ID)
}

// NewManager creates a Manager that hands serialized envelopes to sender.
func NewManager(sender Sender) *Manager {
	return &Manager{
		handleToID: make(map[Handle]ID),
		idToHandle: make(map[ID]Handle),
		sender:     sender,
	}
}

// Open allocates a new monotonically increasing session id for handle,
// stores both directions under an exclusive lock, and invokes OnOpen. If
// handle already had a session, the old id is unmapped.
func (m *Manager) Open(handle Handle) ID {
	m.mu.Lock()
	if old, ok := m.handleToID[handle]; ok {
		delete(m.idToHandle, old)
	}
	m.nextID++
	id := m.nextID
	m.handleToID[handle] = id
	m.idToHandle[id] = handle
	m.mu.Unlock()

	if m.OnOpen != nil {
		m.OnOpen(id)
	}
	return id
}

// Close looks up and removes handle's mapping under an exclusive lock,
// then invokes OnClose. The second return value is false if handle had
// no session (already closed, or never opened).
func (m *Manager) Close(handle Handle) (ID, bool) {
	m.mu.Lock()
	id, ok := m.handleToID[handle]
	if ok {
		delete(m.handleToID, handle)
		delete(m.idToHandle, id)
	}
	m.mu.Unlock()

	if !ok {
		return 0, false
	}
	if m.OnClose != nil {
		m.OnClose(id)
	}
	return id, true
}

// SessionOf returns the session id for handle, and whether it is open.
func (m *Manager) SessionOf(handle Handle) (ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.handleToID[handle]
	return id, ok
}

// Send finds the handle for sessionID under a shared lock and hands data
// to the transport. It returns false without blocking if the session no
// longer exists. Otherwise it returns whatever the Sender returns; it does
// not queue, so it waits as long as the Sender's write takes.
func (m *Manager) Send(sessionID ID, data []byte) bool {
	m.mu.RLock()
	handle, ok := m.idToHandle[sessionID]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	return m.sender.Send(handle, data)
}
