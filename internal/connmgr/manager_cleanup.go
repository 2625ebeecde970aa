package connmgr

// Cleanup tears down every managed connection: pending reconnect timers are
// cancelled, every proxy is disconnected, and the registry is emptied
// (spec.md §4.3.9). It is idempotent and safe to call on a Manager that was
// never initialized. Initialize calls it first so re-initializing never
// leaks a prior generation's timers or sockets.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*registryEntry)
	m.initialized = false
	m.connectingAll = false
	m.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.cancel()
		}
		entry.proxy.Disconnect()
	}
	return nil
}
