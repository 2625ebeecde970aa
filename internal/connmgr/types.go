// Package connmgr implements the multi-endpoint connection manager: one
// long-lived proxy connection per configured upstream MCP endpoint, a
// bounded reconnect loop, and a status event feed shared across the
// gateway. See SPEC_FULL.md for the full component breakdown.
package connmgr

import (
	"encoding/json"
	"time"
)

// Operation identifies which lifecycle action produced an EndpointStatusEvent.
type Operation string

const (
	OpConnect    Operation = "connect"
	OpDisconnect Operation = "disconnect"
	OpReconnect  Operation = "reconnect"
)

// ConfigChangeKind identifies the shape of a ConfigChangeEvent.
type ConfigChangeKind string

const (
	ConfigEndpointsAdded   ConfigChangeKind = "endpoints_added"
	ConfigEndpointsRemoved ConfigChangeKind = "endpoints_removed"
	ConfigEndpointsUpdated ConfigChangeKind = "endpoints_updated"
	ConfigOptionsUpdated   ConfigChangeKind = "options_updated"
)

// eventSource tags every EndpointStatusEvent with its producer, per §3/§6.
const eventSource = "connection-manager"

// ConnectionState is the mutable per-endpoint record described in spec.md §3.
// All fields are read and written only while the Manager's mutex is held;
// copies returned to callers (e.g. via Manager.State) are snapshots.
type ConnectionState struct {
	Endpoint             string    `json:"endpoint"`
	Connected            bool      `json:"connected"`
	Initialized          bool      `json:"initialized"`
	ReconnectAttempts    int       `json:"reconnectAttempts"`
	IsReconnecting       bool      `json:"isReconnecting"`
	LastConnected        time.Time `json:"lastConnected,omitempty"`
	LastReconnectAttempt time.Time `json:"lastReconnectAttempt,omitempty"`
	LastError            string    `json:"lastError,omitempty"`
	ReconnectDelay       time.Duration `json:"reconnectDelay"`
}

// clone returns a value copy safe to hand to a caller outside the lock.
func (s ConnectionState) clone() ConnectionState {
	return s
}

// Options is the manager-wide tunable record from spec.md §3. Struct tags
// drive go-playground/validator/v10 checks in ValidateOptions, matching the
// constraint table in the spec verbatim.
type Options struct {
	ReconnectInterval    time.Duration `json:"reconnectInterval" validate:"gte=100000000"`  // ns; 100ms floor
	MaxReconnectAttempts int           `json:"maxReconnectAttempts" validate:"gte=0"`
	ConnectionTimeout    time.Duration `json:"connectionTimeout" validate:"gte=1000000000"` // ns; 1s floor
}

// DefaultOptions returns the spec.md §3 defaults.
func DefaultOptions() Options {
	return Options{
		ReconnectInterval:    5000 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ConnectionTimeout:    10000 * time.Millisecond,
	}
}

// Tool is the data shape a ToolProvider exposes: {name, description,
// inputSchema}, opaque to the connection manager beyond its three fields
// (spec.md §6).
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolProvider supplies the current tool catalogue that every live proxy
// forwards upstream tools/list requests to. internal/tool.Registry is the
// shipped implementation.
type ToolProvider interface {
	ListTools() ([]Tool, error)
}

// ConfigChangeEvent is emitted on the Manager's own listener surface (not
// the shared EventBus) for bulk updates: endpoint set changes and option
// changes (spec.md §3, §4.4).
type ConfigChangeEvent struct {
	Kind      ConfigChangeKind `json:"kind"`
	Added     []string         `json:"added,omitempty"`
	Removed   []string         `json:"removed,omitempty"`
	Updated   []string         `json:"updated,omitempty"`
	OldOptions *Options        `json:"oldOptions,omitempty"`
	NewOptions *Options        `json:"newOptions,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EndpointStatusEvent is the wire payload published on the shared EventBus
// under the kind "endpoint:status:changed" (spec.md §3, §6).
type EndpointStatusEvent struct {
	Endpoint  string    `json:"endpoint"`
	Connected bool      `json:"connected"`
	Operation Operation `json:"operation"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Timestamp int64     `json:"timestamp"` // ms since epoch
	Source    string    `json:"source"`
}
