package connmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// UpdateEndpoints reconciles the registry against a new desired endpoint
// set (spec.md §4.3.8): validates every candidate, failing outright if
// candidates were given and none survive (an empty list is accepted and
// removes every endpoint); computes toAdd/toRemove against the current registry; and
// applies removeEndpoint for each toRemove then addEndpoint for each toAdd,
// serially, so config-store mutations never interleave. A single combined
// configChange event is emitted, not one per endpoint.
func (m *Manager) UpdateEndpoints(ctx context.Context, endpoints []string) error {
	m.mu.Lock()
	if err := m.requireInitialized(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	valid, invalid := PartitionEndpoints(endpoints)
	if len(invalid) > 0 {
		m.logger.Warn("updateEndpoints: skipping invalid endpoints",
			zap.Strings("invalid", invalid))
	}
	if len(endpoints) > 0 && len(valid) == 0 {
		return newErr(KindInvalidEndpoint, "", fmt.Errorf("no valid endpoints among %d candidate(s)", len(endpoints)))
	}

	desired := make(map[string]struct{}, len(valid))
	for _, e := range valid {
		desired[e] = struct{}{}
	}

	m.mu.Lock()
	var toRemove []string
	for e := range m.entries {
		if _, keep := desired[e]; !keep {
			toRemove = append(toRemove, e)
		}
	}
	var toAdd []string
	for e := range desired {
		if _, exists := m.entries[e]; !exists {
			toAdd = append(toAdd, e)
		}
	}
	m.mu.Unlock()

	var actuallyRemoved, actuallyAdded []string
	for _, e := range toRemove {
		removed, err := m.removeEndpointCore(e)
		if err != nil {
			return err
		}
		if removed {
			actuallyRemoved = append(actuallyRemoved, e)
		}
	}
	for _, e := range toAdd {
		added, err := m.addEndpointCore(ctx, e)
		if err != nil {
			return err
		}
		if added {
			actuallyAdded = append(actuallyAdded, e)
		}
	}

	switch {
	case len(actuallyAdded) > 0 && len(actuallyRemoved) > 0:
		m.emitConfigChange(ConfigChangeEvent{Kind: ConfigEndpointsUpdated, Added: actuallyAdded, Removed: actuallyRemoved, Timestamp: time.Now()})
	case len(actuallyAdded) > 0:
		m.emitConfigChange(ConfigChangeEvent{Kind: ConfigEndpointsAdded, Added: actuallyAdded, Timestamp: time.Now()})
	case len(actuallyRemoved) > 0:
		m.emitConfigChange(ConfigChangeEvent{Kind: ConfigEndpointsRemoved, Removed: actuallyRemoved, Timestamp: time.Now()})
	}
	return nil
}

// UpdateOptions replaces the manager-wide tunables after validating them
// against the spec.md §3 constraint table. Every live ConnectionState's
// reconnectDelay is refreshed to the new interval so observers see it
// immediately, even though the scheduler itself always reads m.options
// directly rather than the per-endpoint field.
func (m *Manager) UpdateOptions(newOptions Options) error {
	if violations := ValidateOptions(newOptions); len(violations) > 0 {
		return fmt.Errorf("connmgr: invalid options: %s", strings.Join(violations, "; "))
	}

	m.mu.Lock()
	oldOptions := m.options
	m.options = newOptions
	for _, entry := range m.entries {
		entry.state.ReconnectDelay = newOptions.ReconnectInterval
	}
	m.mu.Unlock()

	m.emitConfigChange(ConfigChangeEvent{
		Kind:       ConfigOptionsUpdated,
		OldOptions: &oldOptions,
		NewOptions: &newOptions,
		Timestamp:  time.Now(),
	})
	return nil
}

// ReloadInput is the payload accepted by ReloadConfig. Either field may be
// absent: Options nil means "no new tunables in this reload", Endpoints nil
// means "no new endpoint set in this reload" (as opposed to a non-nil empty
// slice, which is a request to tear every endpoint down).
type ReloadInput struct {
	Options   *Options
	Endpoints []string
}

// ReloadConfig composes updateOptions (if present) then updateEndpoints (if
// present), per spec.md §4.3.9 — the same path a file-watcher or admin API
// hits to push a new config payload in one call. If Endpoints is nil, the
// current registry is left alone; if it is set (including non-nil empty),
// it replaces the desired endpoint set via UpdateEndpoints.
func (m *Manager) ReloadConfig(ctx context.Context, cfg ReloadInput) error {
	if cfg.Options != nil {
		if err := m.UpdateOptions(*cfg.Options); err != nil {
			return err
		}
	}
	if cfg.Endpoints != nil {
		if err := m.UpdateEndpoints(ctx, cfg.Endpoints); err != nil {
			return err
		}
	}
	return nil
}
