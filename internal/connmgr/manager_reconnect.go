package connmgr

import "context"

// scheduleReconnectLocked arms a timer that re-attempts connect() after
// options.ReconnectInterval. Called with m.mu held, from attemptConnect
// right after a failed attempt whose preAttempts count was still under the
// ceiling (spec.md §4.3.7 "Scheduling"). Note that the timer's own delay is
// always m.options.ReconnectInterval, not entry.state.ReconnectDelay — the
// field is carried on ConnectionState for observability/future
// backoff-policy use, but the scheduler itself doesn't read it (see
// DESIGN.md's resolution of the matching Open Question).
func (m *Manager) scheduleReconnectLocked(endpoint string, entry *registryEntry) {
	if entry.timer != nil {
		entry.timer.cancel()
	}
	interval := m.options.ReconnectInterval
	entry.timer = schedule(interval, func() {
		m.attemptConnect(context.Background(), endpoint, OpReconnect)
	})
}

// TriggerReconnect cancels any pending timer for endpoint and runs a
// reconnect attempt immediately, bypassing the scheduled delay (spec.md
// §4.3.7 "manual override"). The ceiling still applies to whatever attempt
// this produces: a manual trigger after the ceiling was already reached
// still counts toward — and is still bound by — maxReconnectAttempts.
func (m *Manager) TriggerReconnect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	entry, ok := m.entries[endpoint]
	if !ok {
		m.mu.Unlock()
		return newErr(KindEndpointNotFound, endpoint, nil)
	}
	timer := entry.timer
	entry.timer = nil
	m.mu.Unlock()

	if timer != nil {
		timer.cancel()
	}
	return m.attemptConnect(ctx, endpoint, OpReconnect)
}

// StopReconnect cancels a pending reconnect timer for endpoint, if any,
// without attempting to connect (spec.md §4.3.7). No-op if absent, in the
// same spirit as disconnectEndpoint/removeEndpoint (spec.md §4.3.4, §4.3.6).
func (m *Manager) StopReconnect(endpoint string) error {
	m.mu.Lock()
	entry, ok := m.entries[endpoint]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	timer := entry.timer
	entry.timer = nil
	entry.state.IsReconnecting = false
	m.mu.Unlock()

	if timer != nil {
		timer.cancel()
	}
	return nil
}

// StopAllReconnects cancels every pending reconnect timer in the registry
// and clears isReconnecting on every endpoint. Cleanup and ReloadConfig do
// not call it; Cleanup cancels the timers itself.
func (m *Manager) StopAllReconnects() {
	m.mu.Lock()
	timers := make([]*scheduledTask, 0, len(m.entries))
	for _, entry := range m.entries {
		if entry.timer != nil {
			timers = append(timers, entry.timer)
			entry.timer = nil
		}
		entry.state.IsReconnecting = false
	}
	m.mu.Unlock()

	for _, t := range timers {
		t.cancel()
	}
}
