package connmgr

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeProxy is a scriptable ProxyConnection test double. connectFn is called
// on every Connect; if nil, Connect always succeeds.
type fakeProxy struct {
	mu         sync.Mutex
	connectFn  func(attempt int) error
	attempts   int
	connected  bool
	provider   ToolProvider
	disconnects int
}

func (p *fakeProxy) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.attempts++
	attempt := p.attempts
	fn := p.connectFn
	p.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(attempt)
	}

	p.mu.Lock()
	p.connected = err == nil
	p.mu.Unlock()
	return err
}

func (p *fakeProxy) Disconnect() {
	p.mu.Lock()
	p.connected = false
	p.disconnects++
	p.mu.Unlock()
}

func (p *fakeProxy) SetToolProvider(provider ToolProvider) {
	p.mu.Lock()
	p.provider = provider
	p.mu.Unlock()
}

func (p *fakeProxy) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakeProxy) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// alwaysFail returns a connectFn that always fails with msg.
func alwaysFail(msg string) func(int) error {
	return func(int) error { return errors.New(msg) }
}

// failNTimes returns a connectFn that fails the first n attempts, then succeeds.
func failNTimes(n int, msg string) func(int) error {
	return func(attempt int) error {
		if attempt <= n {
			return errors.New(msg)
		}
		return nil
	}
}

var errStoreUnavailable = errors.New("config store unavailable")

// fakeConfigStore is an in-memory ConfigStore test double.
type fakeConfigStore struct {
	mu        sync.Mutex
	endpoints []string
	failNext  error
}

func newFakeConfigStore(initial ...string) *fakeConfigStore {
	return &fakeConfigStore{endpoints: append([]string{}, initial...)}
}

func (s *fakeConfigStore) ListEndpoints() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string{}, s.endpoints...)
	return out, nil
}

func (s *fakeConfigStore) AddEndpoint(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	for _, e := range s.endpoints {
		if e == endpoint {
			return nil
		}
	}
	s.endpoints = append(s.endpoints, endpoint)
	return nil
}

func (s *fakeConfigStore) RemoveEndpoint(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.endpoints[:0]
	for _, e := range s.endpoints {
		if e != endpoint {
			out = append(out, e)
		}
	}
	s.endpoints = out
	return nil
}

// newTestManager builds a Manager whose proxy factory returns the fakes
// registered in proxies, keyed by endpoint. Any endpoint not in the map
// gets a plain always-succeeds fakeProxy.
func newTestManager(store ConfigStore, proxies map[string]*fakeProxy) *Manager {
	m := NewManager(store, NewEventBus(), nil, Options{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ConnectionTimeout:    time.Second,
	})
	m.newProxy = func(endpoint string, _ time.Duration) ProxyConnection {
		if p, ok := proxies[endpoint]; ok {
			return p
		}
		return &fakeProxy{}
	}
	return m
}
