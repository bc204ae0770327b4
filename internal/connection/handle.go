package connection

import (
	"github.com/google/uuid"
)

// Handle is a consumer's registration with the Manager. Releasing it is the only
// way to unregister; a released handle cannot be reused.
//
//	h, err := m.Attach(render, "AAPL", "MSFT")
//	if err != nil {
//		return err
//	}
//	defer h.Release()
type Handle struct {
	m        *Manager
	id       uuid.UUID
	seq      uint64 // attach order
	callback Callback

	// Guarded by m.mu.
	symbols  []string
	released bool
	done     chan struct{} // closed on release
}

// markReleased must be called with m.mu held.
func (h *Handle) markReleased() {
	h.released = true
	close(h.done)
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Symbols returns the symbols this handle currently holds, sorted.
func (h *Handle) Symbols() []string {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return append([]string(nil), h.symbols...)
}

// ChangeSymbols replaces the handle's symbol set. Only the difference is
// applied to the shared interest; the callback stays registered.
func (h *Handle) ChangeSymbols(symbols ...string) error {
	return h.m.changeSymbols(h, symbols)
}

// Release unregisters the handle and drops its interest. Safe to call more
// than once.
func (h *Handle) Release() {
	h.m.release(h)
}

// Done is closed once the handle is released or the manager shuts down.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Released reports whether Release has been called or the manager shut down.
func (h *Handle) Released() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.released
}

// ManualReconnect forwards to the owning Manager.
func (h *Handle) ManualReconnect() {
	h.m.ManualReconnect()
}
