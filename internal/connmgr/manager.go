package connmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// registryEntry is the Connection Registry's single compound record
// (spec.md §4.2, Design Notes: "map + parallel lists ... no parallel maps
// that can drift"): one map from endpoint to {proxy, state, timer}.
type registryEntry struct {
	proxy ProxyConnection
	state *ConnectionState
	timer *scheduledTask
}

// proxyFactory constructs a ProxyConnection for an endpoint. It is a
// field on Manager (not a package function) so tests can inject a fake
// without touching a global, consistent with the Design Notes'
// constructor-injection rule.
type proxyFactory func(endpoint string, timeout time.Duration) ProxyConnection

// Manager is the Lifecycle Controller: the state machine and orchestrator
// described in spec.md §4.3. A single mutex guards the registry and every
// ConnectionState; all proxy I/O and config-store I/O happens with the
// lock released (spec.md §5).
type Manager struct {
	mu sync.Mutex

	initialized   bool
	connectingAll bool

	store    ConfigStore
	bus      *EventBus
	provider ToolProvider
	options  Options
	logger   *zap.Logger
	newProxy proxyFactory

	entries map[string]*registryEntry

	configListenersMu sync.Mutex
	configListeners   []func(ConfigChangeEvent)
}

// NewManager wires a Manager to its two external collaborators (spec.md
// §6): store and bus are constructor-injected, never consulted as
// process-globals (Design Notes: "pass the configuration store in as a
// constructor dependency"). logger may be nil, in which case zap.NewNop()
// is used.
func NewManager(store ConfigStore, bus *EventBus, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		bus:     bus,
		options: opts,
		logger:  logger,
		newProxy: func(endpoint string, timeout time.Duration) ProxyConnection {
			return newWSProxy(endpoint, timeout)
		},
		entries: make(map[string]*registryEntry),
	}
}

// SetToolProvider installs provider and immediately propagates it to every
// live proxy (spec.md §4.5). Safe for concurrent use.
func (m *Manager) SetToolProvider(provider ToolProvider) {
	m.mu.Lock()
	m.provider = provider
	m.syncToolProvider()
	m.mu.Unlock()
}

// OnConfigChange registers a listener for ConfigChangeEvent notifications.
// This is the manager's own listener surface, distinct from the shared
// EventBus (spec.md §4.4, §6).
func (m *Manager) OnConfigChange(listener func(ConfigChangeEvent)) {
	m.configListenersMu.Lock()
	m.configListeners = append(m.configListeners, listener)
	m.configListenersMu.Unlock()
}

func (m *Manager) emitConfigChange(evt ConfigChangeEvent) {
	m.configListenersMu.Lock()
	listeners := make([]func(ConfigChangeEvent), len(m.configListeners))
	copy(listeners, m.configListeners)
	m.configListenersMu.Unlock()

	for _, l := range listeners {
		l(evt)
	}
}

// publish builds and writes the status event defined in spec.md §3/§6.
// Called with the manager lock held; EventBus.Publish never blocks.
func (m *Manager) publish(endpoint string, connected bool, op Operation, success bool, message string) {
	m.bus.Publish(EndpointStatusEvent{
		Endpoint:  endpoint,
		Connected: connected,
		Operation: op,
		Success:   success,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
		Source:    eventSource,
	})
}

// GetEndpoints returns the union of keys in the registry (spec.md §4.2;
// there is a single map here so the union is trivial, but the method name
// and "unspecified iteration order" contract are preserved).
func (m *Manager) GetEndpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for endpoint := range m.entries {
		out = append(out, endpoint)
	}
	return out
}

// Options returns the manager's current tunables, e.g. for an admin API to
// surface alongside a reload request.
func (m *Manager) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options
}

// State returns a snapshot of endpoint's ConnectionState, or false if the
// endpoint is not currently managed.
func (m *Manager) State(endpoint string) (ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[endpoint]
	if !ok {
		return ConnectionState{}, false
	}
	return entry.state.clone(), true
}

// Initialize validates endpoints, drops any prior state via Cleanup, and
// creates a fresh registry entry per endpoint — no connection attempts are
// made (spec.md §4.3.1). An empty endpoint list is permitted: zero-config
// startup is a deliberate choice, not an oversight.
func (m *Manager) Initialize(ctx context.Context, endpoints []string, tools []Tool) error {
	for _, e := range endpoints {
		if err := ValidateEndpoint(e); err != nil {
			return err
		}
	}

	if err := m.Cleanup(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range endpoints {
		if _, exists := m.entries[e]; exists {
			// spec.md boundary behavior: initialize(["ws://x","ws://x"], _)
			// collapses to a single registry entry for "ws://x".
			continue
		}
		m.entries[e] = &registryEntry{
			proxy: m.newProxy(e, m.options.ConnectionTimeout),
			state: &ConnectionState{
				Endpoint:       e,
				ReconnectDelay: m.options.ReconnectInterval,
			},
		}
	}
	m.syncToolProvider()
	m.initialized = true
	m.logger.Info("connmgr initialized", zap.Int("endpoints", len(m.entries)), zap.Int("tools", len(tools)))
	return nil
}

// requireInitialized is the common guard for every operation whose
// precondition is "initialized" (spec.md §7, KindNotInitialized).
func (m *Manager) requireInitialized() error {
	if !m.initialized {
		return newErr(KindNotInitialized, "", nil)
	}
	return nil
}

// ConnectAll launches one connect attempt per endpoint concurrently and
// waits for all of them, allowing partial failure (spec.md §4.3.2). It
// refuses to run re-entrantly: a second call while one is already in
// flight is a no-op that returns immediately.
func (m *Manager) ConnectAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	if err := m.requireInitialized(); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	if m.connectingAll {
		m.mu.Unlock()
		return 0, nil
	}
	m.connectingAll = true
	endpoints := make([]string, 0, len(m.entries))
	for e := range m.entries {
		endpoints = append(endpoints, e)
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connectingAll = false
		m.mu.Unlock()
	}()

	var wg sync.WaitGroup
	results := make([]error, len(endpoints))
	for i, endpoint := range endpoints {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			results[i] = m.attemptConnect(ctx, endpoint, OpConnect)
		}(i, endpoint)
	}
	wg.Wait()

	connected := 0
	for _, err := range results {
		if err == nil {
			connected++
		}
	}
	if connected == 0 && len(endpoints) > 0 {
		return 0, newErr(KindAllEndpointsFailed, "", fmt.Errorf("all %d endpoint(s) failed to connect", len(endpoints)))
	}
	return connected, nil
}

// DisconnectAll disconnects every managed endpoint, stopping any pending
// reconnect timers first. Individual proxy disconnect failures never
// propagate (spec.md §4.3.6).
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	endpoints := make([]string, 0, len(m.entries))
	for e := range m.entries {
		endpoints = append(endpoints, e)
	}
	m.mu.Unlock()

	for _, e := range endpoints {
		m.DisconnectEndpoint(e)
	}
}

// attemptConnect performs one connect attempt for endpoint, with proxy I/O
// outside the lock and the resulting state update + event emission back
// under the lock (spec.md §5's ordering guarantee). It is shared by
// ConnectEndpoint, ConnectAll, TriggerReconnect and the reconnect executor
// (spec.md §4.3.7); AddEndpoint's first connect goes through
// addEndpointCore instead, which rolls back rather than scheduling a
// reconnect. op only changes which Operation label is published and
// whether isReconnecting/lastReconnectAttempt are touched.
func (m *Manager) attemptConnect(ctx context.Context, endpoint string, op Operation) error {
	m.mu.Lock()
	entry, ok := m.entries[endpoint]
	if !ok {
		m.mu.Unlock()
		return newErr(KindEndpointNotFound, endpoint, nil)
	}
	proxy := entry.proxy
	if op == OpReconnect {
		entry.state.IsReconnecting = true
		entry.state.LastReconnectAttempt = time.Now()
	}
	m.mu.Unlock()

	if op == OpReconnect {
		proxy.Disconnect() // best-effort; Disconnect never fails observably
	}

	connErr := proxy.Connect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok = m.entries[endpoint]
	if !ok {
		// removeEndpoint tore this down while the connect was in flight;
		// the result is discarded per spec.md §5 cancellation semantics.
		return connErr
	}
	st := entry.state
	now := time.Now()

	if connErr == nil {
		st.Connected = true
		st.Initialized = true
		st.IsReconnecting = false
		st.ReconnectAttempts = 0
		st.LastConnected = now
		st.LastError = ""
		if entry.timer != nil {
			entry.timer.cancel()
			entry.timer = nil
		}
		m.publish(endpoint, true, op, true, "")
		return nil
	}

	preAttempts := st.ReconnectAttempts
	st.Connected = false
	st.Initialized = false
	st.IsReconnecting = false
	st.LastError = connErr.Error()
	st.ReconnectAttempts = preAttempts + 1
	m.publish(endpoint, false, op, false, connErr.Error())

	if preAttempts < m.options.MaxReconnectAttempts {
		m.scheduleReconnectLocked(endpoint, entry)
	} else {
		m.logger.Warn("reconnect ceiling reached, giving up",
			zap.String("endpoint", endpoint), zap.Int("attempts", st.ReconnectAttempts))
	}

	return newErr(KindConnectFailed, endpoint, connErr)
}
