// Package metrics exposes the Event Publisher's status feed as Prometheus
// counters, grounded in the teacher pack's internal/metrics package
// (step-chen-agent-sets): promauto-registered CounterVecs, no custom
// registry wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arcrelay/mcp-gateway/internal/connmgr"
)

var (
	// connectTotal counts connect attempts, labeled by endpoint and outcome.
	connectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_endpoint_connect_total",
		Help: "Total number of connect attempts per endpoint",
	}, []string{"endpoint", "success"})

	// disconnectTotal counts disconnects, labeled by endpoint and outcome.
	disconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_endpoint_disconnect_total",
		Help: "Total number of disconnects per endpoint",
	}, []string{"endpoint", "success"})

	// reconnectTotal counts reconnect attempts, labeled by endpoint and outcome.
	reconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_endpoint_reconnect_total",
		Help: "Total number of reconnect attempts per endpoint",
	}, []string{"endpoint", "success"})
)

// Recorder subscribes to a connmgr.EventBus and translates every
// EndpointStatusEvent into the counters above. It owns the subscription and
// is stopped with Close.
type Recorder struct {
	cancel func()
	done   chan struct{}
}

// NewRecorder subscribes to bus and starts the translation goroutine.
func NewRecorder(bus *connmgr.EventBus) *Recorder {
	ch, cancel := bus.Subscribe()
	r := &Recorder{cancel: cancel, done: make(chan struct{})}
	go r.run(ch)
	return r
}

func (r *Recorder) run(ch <-chan connmgr.EndpointStatusEvent) {
	defer close(r.done)
	for evt := range ch {
		success := boolLabel(evt.Success)
		switch evt.Operation {
		case connmgr.OpConnect:
			connectTotal.WithLabelValues(evt.Endpoint, success).Inc()
		case connmgr.OpDisconnect:
			disconnectTotal.WithLabelValues(evt.Endpoint, success).Inc()
		case connmgr.OpReconnect:
			reconnectTotal.WithLabelValues(evt.Endpoint, success).Inc()
		}
	}
}

// Close unsubscribes from the bus and waits for the translation goroutine
// to drain.
func (r *Recorder) Close() {
	r.cancel()
	<-r.done
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
