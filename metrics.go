package routeros

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects client statistics. Register it with a prometheus
// registry and pass it to clients with MetricsOption; one Metrics may be
// shared by many clients.
type Metrics struct {
	requests *prometheus.CounterVec
	replies  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  prometheus.Gauge
	closed   *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace, "routeros" when empty.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "routeros"
	}

	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Requests sent, by command.",
			},
			[]string{"command"},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "replies_total",
				Help:      "Replies received, by kind.",
			},
			[]string{"kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Time from send to the end of a request.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command", "outcome"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "pending_requests",
				Help:      "Requests waiting for their terminal reply.",
			},
		),
		closed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "connections_closed_total",
				Help:      "Connections closed, by reason.",
			},
			[]string{"reason"},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.requests.Describe(ch)
	m.replies.Describe(ch)
	m.duration.Describe(ch)
	m.pending.Describe(ch)
	m.closed.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.requests.Collect(ch)
	m.replies.Collect(ch)
	m.duration.Collect(ch)
	m.pending.Collect(ch)
	m.closed.Collect(ch)
}

// The record methods accept a nil receiver so clients without metrics skip them.

func (m *Metrics) requestSent(command string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(command).Inc()
	m.pending.Inc()
}

func (m *Metrics) replyReceived(kind ReplyKind) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) requestEnded(command string, state CallState, started time.Time) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.duration.WithLabelValues(command, state.String()).Observe(time.Since(started).Seconds())
}

func (m *Metrics) connectionClosed(err error) {
	if m == nil {
		return
	}
	m.closed.WithLabelValues(closeReason(err)).Inc()
}

func closeReason(err error) string {
	var (
		fatal    *FatalError
		protoErr *ProtocolError
		anomaly  *AnomalyError
	)
	switch {
	case errors.As(err, &fatal):
		return "fatal"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &anomaly):
		return "anomaly"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	default:
		return "transport"
	}
}
