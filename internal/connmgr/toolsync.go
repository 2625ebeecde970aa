package connmgr

// syncToolProvider installs m.provider on every proxy in the registry, per
// spec.md §4.5 and the invariant in §3 ("the tool-service provider
// reference, if set, is propagated to every proxy before and after it
// connects"). Failures are impossible in this design (SetToolProvider
// never errors) but the loop never aborts early regardless, matching the
// spec's "failures logged per proxy, never aborting the loop" language for
// forward-compatibility with proxy implementations that might.
func (m *Manager) syncToolProvider() {
	for _, entry := range m.entries {
		entry.proxy.SetToolProvider(m.provider)
	}
}
