package connmgr

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AddEndpoint registers one new endpoint: validate, persist, register,
// connect (spec.md §4.3.3).
func (m *Manager) AddEndpoint(ctx context.Context, endpoint string) error {
	if err := ValidateEndpoint(endpoint); err != nil {
		return err
	}

	m.mu.Lock()
	if err := m.requireInitialized(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	added, err := m.addEndpointCore(ctx, endpoint)
	if err != nil {
		return err
	}
	if added {
		m.emitConfigChange(ConfigChangeEvent{
			Kind:      ConfigEndpointsAdded,
			Added:     []string{endpoint},
			Timestamp: time.Now(),
		})
	}
	return nil
}

// addEndpointCore implements the duplicate-check, persist, create, connect,
// rollback sequence of spec.md §4.3.3, without touching the configChange
// listener surface — UpdateEndpoints drives this directly so a batch
// reconciliation emits one combined event rather than one per endpoint.
// The bool return reports whether a new registry entry was actually
// created (false for the silent in-memory-duplicate no-op).
func (m *Manager) addEndpointCore(ctx context.Context, endpoint string) (bool, error) {
	m.mu.Lock()
	if _, exists := m.entries[endpoint]; exists {
		m.mu.Unlock()
		m.logger.Debug("addEndpoint: already registered, no-op", zap.String("endpoint", endpoint))
		return false, nil
	}
	m.mu.Unlock()

	existing, err := m.store.ListEndpoints()
	if err != nil {
		// Fail-safe against duplication: a store we can't read is treated
		// as if the endpoint were already present.
		return false, newErr(KindEndpointAlreadyInConfig, endpoint, err)
	}
	for _, e := range existing {
		if e == endpoint {
			return false, newErr(KindEndpointAlreadyInConfig, endpoint, nil)
		}
	}

	if err := m.store.AddEndpoint(endpoint); err != nil {
		return false, newErr(KindConfigStoreError, endpoint, err)
	}

	m.mu.Lock()
	if _, exists := m.entries[endpoint]; exists {
		// A concurrent addEndpoint materialized the registry entry between
		// our duplicate check and this store write; treat it as the
		// duplicate it is and roll the just-written store entry back.
		m.mu.Unlock()
		if rbErr := m.store.RemoveEndpoint(endpoint); rbErr != nil {
			m.logger.Warn("failed to roll back config store write after duplicate add",
				zap.String("endpoint", endpoint), zap.Error(rbErr))
		}
		return false, newErr(KindEndpointAlreadyInConfig, endpoint, nil)
	}
	entry := &registryEntry{
		proxy: m.newProxy(endpoint, m.options.ConnectionTimeout),
		state: &ConnectionState{
			Endpoint:       endpoint,
			ReconnectDelay: m.options.ReconnectInterval,
		},
	}
	entry.proxy.SetToolProvider(m.provider)
	m.entries[endpoint] = entry
	m.mu.Unlock()

	connErr := entry.proxy.Connect(ctx)

	m.mu.Lock()
	if connErr == nil {
		now := time.Now()
		entry.state.Connected = true
		entry.state.Initialized = true
		entry.state.LastConnected = now
		m.publish(endpoint, true, OpConnect, true, "")
		m.mu.Unlock()
		return true, nil
	}
	// Rollback: this entry was created by this very call, so a failed
	// first connect undoes the whole add rather than entering the
	// bounded-reconnect flow (that flow is for endpoints that were
	// already registered — see ConnectEndpoint/attemptConnect).
	entry.state.LastError = connErr.Error()
	delete(m.entries, endpoint)
	m.publish(endpoint, false, OpConnect, false, connErr.Error())
	m.mu.Unlock()

	if rbErr := m.store.RemoveEndpoint(endpoint); rbErr != nil {
		m.logger.Warn("failed to roll back config store entry after failed add",
			zap.String("endpoint", endpoint), zap.Error(rbErr))
	}
	return false, newErr(KindConnectFailed, endpoint, connErr)
}

// RemoveEndpoint tears down and forgets one endpoint: persist the removal,
// disconnect, drop the registry entry (spec.md §4.3.4). No-op if the
// endpoint isn't registered.
func (m *Manager) RemoveEndpoint(endpoint string) error {
	removed, err := m.removeEndpointCore(endpoint)
	if err != nil {
		return err
	}
	if removed {
		m.emitConfigChange(ConfigChangeEvent{
			Kind:      ConfigEndpointsRemoved,
			Removed:   []string{endpoint},
			Timestamp: time.Now(),
		})
	}
	return nil
}

// removeEndpointCore is the shared body behind RemoveEndpoint and
// UpdateEndpoints' toRemove loop (spec.md §4.3.4, §4.3.8).
func (m *Manager) removeEndpointCore(endpoint string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[endpoint]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	// Persist the removal before touching the live connection: a store
	// failure here leaves the registry entry fully intact.
	if err := m.store.RemoveEndpoint(endpoint); err != nil {
		return false, newErr(KindConfigStoreError, endpoint, err)
	}

	if entry.timer != nil {
		entry.timer.cancel()
	}
	// ProxyConnection.Disconnect() never fails observably (§4.1), so the
	// spec's "re-add to store if disconnect throws" rollback path is
	// structurally unreachable here; disconnect is always best-effort.
	entry.proxy.Disconnect()

	m.mu.Lock()
	m.publish(endpoint, false, OpDisconnect, true, "")
	delete(m.entries, endpoint)
	m.mu.Unlock()

	return true, nil
}

// ConnectEndpoint performs one on-demand connect attempt for an already
// registered endpoint (spec.md §4.3.5).
func (m *Manager) ConnectEndpoint(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	if err := m.requireInitialized(); err != nil {
		m.mu.Unlock()
		return err
	}
	entry, ok := m.entries[endpoint]
	if !ok {
		m.mu.Unlock()
		return newErr(KindEndpointNotFound, endpoint, nil)
	}
	alreadyConnected := entry.state.Connected
	m.mu.Unlock()
	if alreadyConnected {
		return nil
	}
	return m.attemptConnect(ctx, endpoint, OpConnect)
}

// DisconnectEndpoint stops any pending reconnect and disconnects one
// endpoint on demand (spec.md §4.3.6). No-op if absent or already
// disconnected.
func (m *Manager) DisconnectEndpoint(endpoint string) error {
	m.mu.Lock()
	entry, ok := m.entries[endpoint]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if !entry.state.Connected && !entry.state.IsReconnecting && entry.timer == nil {
		m.mu.Unlock()
		return nil
	}
	timer := entry.timer
	entry.timer = nil
	m.mu.Unlock()

	if timer != nil {
		timer.cancel()
	}
	entry.proxy.Disconnect()

	m.mu.Lock()
	entry, ok = m.entries[endpoint]
	if ok {
		entry.state.Connected = false
		entry.state.IsReconnecting = false
		entry.state.Initialized = false
		m.publish(endpoint, false, OpDisconnect, true, "")
	}
	m.mu.Unlock()

	return nil
}
