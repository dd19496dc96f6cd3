// Package metrics exposes the dashboard's Prometheus instruments on a private
// registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/heater-dashboard/internal/reconcile"
)

// Metrics holds every instrument the service updates.
type Metrics struct {
	registry *prometheus.Registry

	applied    *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	reconnects prometheus.Counter
	writes     *prometheus.CounterVec
	reboots    prometheus.Counter
	samples    prometheus.Gauge
	evicted    prometheus.Counter
	links      *prometheus.GaugeVec

	mu          sync.Mutex
	evictedSeen uint64
}

// Link names used as the "link" label.
const (
	LinkDevice = "device_network"
	LinkCloud  = "cloud_link"
	LinkBus    = "bus_link"
)

var linkStates = []reconcile.LinkState{
	reconcile.LinkDisconnected,
	reconcile.LinkConnecting,
	reconcile.LinkConnected,
	reconcile.LinkError,
}

// New registers the instruments on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heater_events_applied_total",
			Help: "Events folded into the device view, by event kind.",
		}, []string{"event"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heater_events_rejected_total",
			Help: "Events rejected by the reconciler, by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heater_messages_dropped_total",
			Help: "Inbound bus messages dropped before reconciliation.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heater_reconnects_total",
			Help: "Operator-requested reconnects.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heater_writes_total",
			Help: "Outbound writes by transport and result.",
		}, []string{"transport", "result"}),
		reboots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heater_device_reboots_total",
			Help: "Device reboots detected from uptime decreases.",
		}),
		samples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heater_history_samples",
			Help: "Samples retained in the temperature history.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heater_history_evicted_total",
			Help: "Samples dropped from the full temperature history.",
		}),
		links: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "heater_link_state",
			Help: "1 for the current state of each link, 0 otherwise.",
		}, []string{"link", "state"}),
	}
	m.registry.MustRegister(
		m.applied, m.rejected, m.dropped, m.reconnects,
		m.writes, m.reboots, m.samples, m.evicted, m.links,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOutcome counts one fold.
func (m *Metrics) ObserveOutcome(kind string, out reconcile.Outcome) {
	if out.Rejected {
		m.rejected.WithLabelValues(out.Reason).Inc()
		return
	}
	if out.Applied {
		m.applied.WithLabelValues(kind).Inc()
	}
	if out.Reboot {
		m.reboots.Inc()
	}
}

// Dropped counts a bus message discarded by the adapter.
func (m *Metrics) Dropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// Reconnect counts an operator reconnect.
func (m *Metrics) Reconnect() {
	m.reconnects.Inc()
}

// Write counts one outbound write. transport is "bus" or "store".
func (m *Metrics) Write(transport string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.writes.WithLabelValues(transport, result).Inc()
}

// ObserveSnapshot updates the link and history instruments. evicted is the
// history's running eviction count.
func (m *Metrics) ObserveSnapshot(s reconcile.Snapshot, samples int, evicted uint64) {
	m.setLink(LinkDevice, s.Connectivity.DeviceNetwork)
	m.setLink(LinkCloud, s.Connectivity.CloudLink)
	m.setLink(LinkBus, s.Connectivity.BusLink)
	m.samples.Set(float64(samples))

	m.mu.Lock()
	if evicted > m.evictedSeen {
		m.evicted.Add(float64(evicted - m.evictedSeen))
		m.evictedSeen = evicted
	}
	m.mu.Unlock()
}

func (m *Metrics) setLink(link string, cur reconcile.LinkState) {
	for _, st := range linkStates {
		v := 0.0
		if st == cur {
			v = 1
		}
		m.links.WithLabelValues(link, string(st)).Set(v)
	}
}
