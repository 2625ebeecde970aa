package connmgr

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestAddEndpoint_HappyPath(t *testing.T) {
	store := newFakeConfigStore()
	proxy := &fakeProxy{}
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": proxy})
	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := m.AddEndpoint(context.Background(), "ws://a"); err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}

	st, ok := m.State("ws://a")
	if !ok || !st.Connected {
		t.Fatalf("expected ws://a connected, got %+v (ok=%v)", st, ok)
	}
	persisted, _ := store.ListEndpoints()
	if len(persisted) != 1 || persisted[0] != "ws://a" {
		t.Fatalf("expected config store to persist ws://a, got %v", persisted)
	}
}

func TestAddEndpoint_DuplicateInStore(t *testing.T) {
	// Endpoint is already durable in the config store but was never
	// registered in this process's in-memory registry (e.g. a second
	// gateway instance sharing the store). Per spec.md §4.3.3, only this
	// case is an error — an in-memory duplicate is a silent no-op instead.
	store := newFakeConfigStore("ws://a")
	m := newTestManager(store, nil)
	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	err := m.AddEndpoint(context.Background(), "ws://a")
	if !IsKind(err, KindEndpointAlreadyInConfig) {
		t.Fatalf("expected KindEndpointAlreadyInConfig, got %v", err)
	}
	if _, ok := m.State("ws://a"); ok {
		t.Fatal("expected no registry entry to be created for a store-only duplicate")
	}
	persisted, _ := store.ListEndpoints()
	if len(persisted) != 1 {
		t.Fatalf("expected no duplicate persisted, got %v", persisted)
	}
}

func TestAddEndpoint_InMemoryDuplicateIsSilentNoOp(t *testing.T) {
	store := newFakeConfigStore()
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": {}})
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.ConnectEndpoint(context.Background(), "ws://a"); err != nil {
		t.Fatalf("ConnectEndpoint: %v", err)
	}

	// ws://a was never persisted by Initialize (only addEndpoint writes the
	// store; ConnectEndpoint does not); adding it again must not error and must not touch
	// the store, since the registry already holds it.
	if err := m.AddEndpoint(context.Background(), "ws://a"); err != nil {
		t.Fatalf("expected in-memory duplicate add to be a silent no-op, got %v", err)
	}
	persisted, _ := store.ListEndpoints()
	if len(persisted) != 0 {
		t.Fatalf("expected no store write for an in-memory duplicate, got %v", persisted)
	}
}

func TestAddEndpoint_RollbackOnConnectFailure(t *testing.T) {
	// spec.md §8 scenario 5: store addEndpoint succeeds, proxy connect
	// throws. The whole add must unwind: store entry removed, registry
	// entry absent, a failure event emitted, original error re-thrown.
	store := newFakeConfigStore()
	proxy := &fakeProxy{connectFn: alwaysFail("boom")}
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": proxy})
	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ch, cancel := m.bus.Subscribe()
	defer cancel()

	err := m.AddEndpoint(context.Background(), "ws://a")
	if !IsKind(err, KindConnectFailed) {
		t.Fatalf("expected KindConnectFailed, got %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Operation != OpConnect || evt.Success {
			t.Fatalf("expected a failed connect event, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a status event to be published")
	}

	if _, ok := m.State("ws://a"); ok {
		t.Fatal("expected no registry entry after a rolled-back add")
	}
	persisted, _ := store.ListEndpoints()
	if len(persisted) != 0 {
		t.Fatalf("expected store add to be rolled back, got %v", persisted)
	}
}

func TestConnectEndpoint_FailureThenBoundedReconnect(t *testing.T) {
	store := newFakeConfigStore()
	proxy := &fakeProxy{connectFn: alwaysFail("boom")}
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": proxy})
	m.options.MaxReconnectAttempts = 2
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ch, cancel := m.bus.Subscribe()
	defer cancel()

	if err := m.ConnectEndpoint(context.Background(), "ws://a"); err == nil {
		t.Fatal("expected connect failure")
	}

	events := 0
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case <-ch:
			events++
			if events == 3 {
				break collect
			}
		case <-deadline:
			break collect
		}
	}
	if events != 3 {
		t.Fatalf("expected 3 status events, got %d", events)
	}

	waitFor(t, time.Second, func() bool {
		st, _ := m.State("ws://a")
		return st.ReconnectAttempts == 3
	})
	st, _ := m.State("ws://a")
	if st.LastError != "boom" {
		t.Fatalf("expected lastError %q, got %q", "boom", st.LastError)
	}
	if st.IsReconnecting {
		t.Fatalf("expected isReconnecting=false once ceiling is reached")
	}
}

func TestConnectEndpoint_FailureThenRecovery(t *testing.T) {
	store := newFakeConfigStore()
	proxy := &fakeProxy{connectFn: failNTimes(1, "boom")}
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": proxy})
	m.options.MaxReconnectAttempts = 2
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_ = m.ConnectEndpoint(context.Background(), "ws://a")

	waitFor(t, time.Second, func() bool {
		st, _ := m.State("ws://a")
		return st.Connected
	})
	st, _ := m.State("ws://a")
	if st.ReconnectAttempts != 0 {
		t.Fatalf("expected reconnectAttempts reset to 0, got %d", st.ReconnectAttempts)
	}
	if !st.Connected {
		t.Fatal("expected connected=true after recovery")
	}
}

func TestAddEndpoint_ConfigStoreFailureLeavesNoRegistryEntry(t *testing.T) {
	store := newFakeConfigStore()
	m := newTestManager(store, nil)
	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Simulate the store rejecting the very first write.
	store.failNext = errStoreUnavailable

	err := m.AddEndpoint(context.Background(), "ws://a")
	if !IsKind(err, KindConfigStoreError) {
		t.Fatalf("expected KindConfigStoreError, got %v", err)
	}
	if _, ok := m.State("ws://a"); ok {
		t.Fatal("expected no registry entry after a failed persist")
	}
}

// raceyStore materializes a registry entry for the endpoint being added
// right in the middle of ConfigStore.AddEndpoint, simulating a concurrent
// AddEndpoint winning the race between the two.
type raceyStore struct {
	*fakeConfigStore
	manager *Manager
}

func (s *raceyStore) AddEndpoint(endpoint string) error {
	if err := s.fakeConfigStore.AddEndpoint(endpoint); err != nil {
		return err
	}
	s.manager.mu.Lock()
	if _, exists := s.manager.entries[endpoint]; !exists {
		s.manager.entries[endpoint] = &registryEntry{
			proxy: &fakeProxy{},
			state: &ConnectionState{Endpoint: endpoint},
		}
	}
	s.manager.mu.Unlock()
	return nil
}

func TestAddEndpoint_RollsBackStoreWriteOnRegistryRace(t *testing.T) {
	base := newFakeConfigStore()
	m := newTestManager(base, nil)
	store := &raceyStore{fakeConfigStore: base, manager: m}
	m.store = store

	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	err := m.AddEndpoint(context.Background(), "ws://a")
	if !IsKind(err, KindEndpointAlreadyInConfig) {
		t.Fatalf("expected KindEndpointAlreadyInConfig, got %v", err)
	}
	persisted, _ := base.ListEndpoints()
	if len(persisted) != 0 {
		t.Fatalf("expected the racey persisted write to be rolled back, got %v", persisted)
	}
}

func TestConnectAll_PartialSuccess(t *testing.T) {
	store := newFakeConfigStore()
	proxies := map[string]*fakeProxy{
		"ws://a": {},
		"ws://b": {},
		"ws://c": {connectFn: alwaysFail("boom")},
	}
	m := newTestManager(store, proxies)
	if err := m.Initialize(context.Background(), []string{"ws://a", "ws://b", "ws://c"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	connected, err := m.ConnectAll(context.Background())
	if err != nil {
		t.Fatalf("ConnectAll should not report AllEndpointsFailed on partial success: %v", err)
	}
	if connected != 2 {
		t.Fatalf("expected 2 connected, got %d", connected)
	}

	stC, _ := m.State("ws://c")
	if stC.ReconnectAttempts != 1 {
		t.Fatalf("expected ws://c reconnectAttempts=1, got %d", stC.ReconnectAttempts)
	}
}

func TestConnectAll_AllFail(t *testing.T) {
	store := newFakeConfigStore()
	proxies := map[string]*fakeProxy{
		"ws://a": {connectFn: alwaysFail("boom")},
	}
	m := newTestManager(store, proxies)
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := m.ConnectAll(context.Background())
	if !IsKind(err, KindAllEndpointsFailed) {
		t.Fatalf("expected KindAllEndpointsFailed, got %v", err)
	}
}

func TestConnectAll_NotInitialized(t *testing.T) {
	m := newTestManager(newFakeConfigStore(), nil)
	_, err := m.ConnectAll(context.Background())
	if !IsKind(err, KindNotInitialized) {
		t.Fatalf("expected KindNotInitialized, got %v", err)
	}
}

func TestInitialize_DeduplicatesEndpoints(t *testing.T) {
	m := newTestManager(newFakeConfigStore(), nil)
	if err := m.Initialize(context.Background(), []string{"ws://x", "ws://x"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := len(m.GetEndpoints()); got != 1 {
		t.Fatalf("expected 1 deduplicated entry, got %d", got)
	}
}

func TestDisconnectEndpoint_StopsReconnect(t *testing.T) {
	store := newFakeConfigStore()
	proxy := &fakeProxy{connectFn: alwaysFail("boom")}
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": proxy})
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_ = m.ConnectEndpoint(context.Background(), "ws://a")

	if err := m.DisconnectEndpoint("ws://a"); err != nil {
		t.Fatalf("DisconnectEndpoint: %v", err)
	}

	attemptsAtDisconnect := proxy.attemptCount()
	time.Sleep(50 * time.Millisecond)
	if proxy.attemptCount() != attemptsAtDisconnect {
		t.Fatalf("expected no further connect attempts after DisconnectEndpoint, attempts grew from %d to %d",
			attemptsAtDisconnect, proxy.attemptCount())
	}
}

func TestRemoveEndpoint_NotFound(t *testing.T) {
	// spec.md §8 boundary behavior: removeEndpoint(unknown) returns without
	// side effect — no error.
	m := newTestManager(newFakeConfigStore(), nil)
	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.RemoveEndpoint("ws://missing"); err != nil {
		t.Fatalf("expected nil error removing an unknown endpoint, got %v", err)
	}
}

func TestConnectEndpoint_UnknownEndpointFails(t *testing.T) {
	m := newTestManager(newFakeConfigStore(), nil)
	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err := m.ConnectEndpoint(context.Background(), "ws://missing")
	if !IsKind(err, KindEndpointNotFound) {
		t.Fatalf("expected KindEndpointNotFound, got %v", err)
	}
}

func TestConnectEndpoint_AlreadyConnectedIsNoOp(t *testing.T) {
	store := newFakeConfigStore()
	proxy := &fakeProxy{}
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": proxy})
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.ConnectEndpoint(context.Background(), "ws://a"); err != nil {
		t.Fatalf("first ConnectEndpoint: %v", err)
	}
	attemptsAfterFirst := proxy.attemptCount()

	if err := m.ConnectEndpoint(context.Background(), "ws://a"); err != nil {
		t.Fatalf("second ConnectEndpoint: %v", err)
	}
	if proxy.attemptCount() != attemptsAfterFirst {
		t.Fatalf("expected no additional connect attempt once already connected, attempts grew from %d to %d",
			attemptsAfterFirst, proxy.attemptCount())
	}
}

func TestDisconnectEndpoint_UnknownEndpointIsNoOp(t *testing.T) {
	m := newTestManager(newFakeConfigStore(), nil)
	if err := m.Initialize(context.Background(), nil, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.DisconnectEndpoint("ws://missing"); err != nil {
		t.Fatalf("expected nil error disconnecting an unknown endpoint, got %v", err)
	}
}

func TestDisconnectEndpoint_AlreadyDisconnectedIsNoOp(t *testing.T) {
	store := newFakeConfigStore()
	m := newTestManager(store, map[string]*fakeProxy{"ws://a": {}})
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	// Never connected: DisconnectEndpoint must be a harmless no-op.
	if err := m.DisconnectEndpoint("ws://a"); err != nil {
		t.Fatalf("DisconnectEndpoint: %v", err)
	}
}

func TestUpdateEndpoints_ReconcilesRegistry(t *testing.T) {
	store := newFakeConfigStore()
	m := newTestManager(store, nil)
	if err := m.Initialize(context.Background(), []string{"ws://a", "ws://b"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := m.UpdateEndpoints(context.Background(), []string{"ws://b", "ws://c", "not-a-url"}); err != nil {
		t.Fatalf("UpdateEndpoints: %v", err)
	}

	endpoints := m.GetEndpoints()
	has := func(e string) bool {
		for _, x := range endpoints {
			if x == e {
				return true
			}
		}
		return false
	}
	if has("ws://a") {
		t.Fatal("expected ws://a to be removed")
	}
	if !has("ws://b") || !has("ws://c") {
		t.Fatalf("expected ws://b and ws://c to remain/be added, got %v", endpoints)
	}
	if has("not-a-url") {
		t.Fatal("invalid endpoint should never be registered")
	}
}

func TestUpdateOptions_ValidatesBeforeApplying(t *testing.T) {
	m := newTestManager(newFakeConfigStore(), nil)
	err := m.UpdateOptions(Options{ReconnectInterval: 0, MaxReconnectAttempts: -1, ConnectionTimeout: 0})
	if err == nil {
		t.Fatal("expected validation error for out-of-range options")
	}
}

func TestReloadConfig_ComposesOptionsThenEndpoints(t *testing.T) {
	store := newFakeConfigStore()
	m := newTestManager(store, nil)
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	newOpts := DefaultOptions()
	newOpts.MaxReconnectAttempts = 7
	err := m.ReloadConfig(context.Background(), ReloadInput{
		Options:   &newOpts,
		Endpoints: []string{"ws://b"},
	})
	if err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}

	if got := m.Options().MaxReconnectAttempts; got != 7 {
		t.Fatalf("expected options applied, got MaxReconnectAttempts=%d", got)
	}
	endpoints := m.GetEndpoints()
	if len(endpoints) != 1 || endpoints[0] != "ws://b" {
		t.Fatalf("expected endpoints replaced with [ws://b], got %v", endpoints)
	}
}

func TestReloadConfig_OptionsOnlyLeavesEndpointsUntouched(t *testing.T) {
	store := newFakeConfigStore()
	m := newTestManager(store, nil)
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	newOpts := DefaultOptions()
	newOpts.MaxReconnectAttempts = 3
	if err := m.ReloadConfig(context.Background(), ReloadInput{Options: &newOpts}); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}

	endpoints := m.GetEndpoints()
	if len(endpoints) != 1 || endpoints[0] != "ws://a" {
		t.Fatalf("expected endpoints untouched, got %v", endpoints)
	}
	if got := m.Options().MaxReconnectAttempts; got != 3 {
		t.Fatalf("expected options applied, got MaxReconnectAttempts=%d", got)
	}
}

func TestReloadConfig_InvalidOptionsRejectedBeforeEndpointsApply(t *testing.T) {
	store := newFakeConfigStore()
	m := newTestManager(store, nil)
	if err := m.Initialize(context.Background(), []string{"ws://a"}, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	bad := Options{ReconnectInterval: 0, MaxReconnectAttempts: -1, ConnectionTimeout: 0}
	err := m.ReloadConfig(context.Background(), ReloadInput{
		Options:   &bad,
		Endpoints: []string{"ws://b"},
	})
	if err == nil {
		t.Fatal("expected validation error for out-of-range options")
	}

	endpoints := m.GetEndpoints()
	if len(endpoints) != 1 || endpoints[0] != "ws://a" {
		t.Fatalf("expected endpoints untouched after rejected reload, got %v", endpoints)
	}
}
