// Package metrics exposes Prometheus collectors for bridged sessions.
//
// All methods are safe on a nil *Metrics, so callers can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webterm"

// SessionCounts reports registry sizes at scrape time. *bridge.Registry
// satisfies it.
type SessionCounts interface {
	Pending() int
	Active() int
}

type Metrics struct {
	sessionsCreated *prometheus.CounterVec
	connectFailures *prometheus.CounterVec
	attachRejected  prometheus.Counter
	bytesRelayed    *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, including gauges reading
// counts, with reg.
func New(reg prometheus.Registerer, counts SessionCounts) (*Metrics, error) {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Remote sessions established, by protocol.",
		}, []string{"protocol"}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed session establishments, by failure kind.",
		}, []string{"kind"}),
		attachRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attach_rejected_total",
			Help:      "WebSocket attaches with an unknown or already used session id.",
		}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Bytes relayed by closed sessions, by direction.",
		}, []string{"direction"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of closed sessions, by protocol.",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		}, []string{"protocol"}),
	}

	collectors := []prometheus.Collector{
		m.sessionsCreated,
		m.connectFailures,
		m.attachRejected,
		m.bytesRelayed,
		m.sessionDuration,
	}
	if counts != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_pending",
				Help:      "Sessions waiting for a browser to attach.",
			}, func() float64 { return float64(counts.Pending()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Sessions with an attached browser.",
			}, func() float64 { return float64(counts.Active()) }),
		)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SessionCreated(protocol string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ConnectFailed(kind string) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) AttachRejected() {
	if m == nil {
		return
	}
	m.attachRejected.Inc()
}

// SessionClosed records the totals of a finished session.
func (m *Metrics) SessionClosed(protocol string, toClient, toRemote int64, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.bytesRelayed.WithLabelValues("to_client").Add(float64(toClient))
	m.bytesRelayed.WithLabelValues("to_remote").Add(float64(toRemote))
	m.sessionDuration.WithLabelValues(protocol).Observe(lifetime.Seconds())
}
