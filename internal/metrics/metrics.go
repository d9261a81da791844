// Package metrics exposes relay counters on a dedicated Prometheus registry.
//
// A nil *Metrics is valid and records nothing, so engines can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anonrelay"

// Relay results.
const (
	RelayDelivered = "delivered"
	RelayNoPartner = "no_partner"
	RelayFailed    = "failed"
	RelayHealed    = "healed"
)

type Metrics struct {
	registry *prometheus.Registry

	pairs            prometheus.Counter
	disconnects      prometheus.Counter
	relays           *prometheus.CounterVec
	throttled        prometheus.Counter
	recoveryRepaired prometheus.Counter
	waitingPool      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_total",
			Help:      "Pairs formed.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Pairs ended by stop, next or self-heal.",
		}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Relay attempts by result.",
		}, []string{"result"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Events rejected by the throttle guard.",
		}),
		recoveryRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_repaired_total",
			Help:      "Records reset by startup recovery.",
		}),
		waitingPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_pool_size",
			Help:      "Users currently waiting for a partner.",
		}),
	}
	m.registry.MustRegister(
		m.pairs, m.disconnects, m.relays, m.throttled, m.recoveryRepaired, m.waitingPool,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer is the underlying registry, for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

func (m *Metrics) PairFormed() {
	if m != nil {
		m.pairs.Inc()
	}
}

func (m *Metrics) Disconnected() {
	if m != nil {
		m.disconnects.Inc()
	}
}

func (m *Metrics) Relayed(result string) {
	if m != nil {
		m.relays.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Throttled() {
	if m != nil {
		m.throttled.Inc()
	}
}

func (m *Metrics) Repaired(n int) {
	if m != nil && n > 0 {
		m.recoveryRepaired.Add(float64(n))
	}
}

func (m *Metrics) SetWaiting(n int) {
	if m != nil {
		m.waitingPool.Set(float64(n))
	}
}
