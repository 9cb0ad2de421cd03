// Package monitoring provides the Prometheus, zap and OpenTelemetry backends of the service.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/constants"
)

// Metrics manages the Prometheus metrics.
// Metrics 管理 Prometheus 指标，并实现领域层的 service.Metrics 接口。
type Metrics struct {
	Requests         *prometheus.CounterVec
	Issuances        *prometheus.CounterVec
	IssuanceDuration *prometheus.HistogramVec
	Coalesced        prometheus.Counter
	ActiveSessions   prometheus.Gauge
	InboxCallbacks   *prometheus.CounterVec
	PoolBacklog      prometheus.Gauge
	CacheEntries     prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of client requests by terminal result.",
			},
			[]string{"result"},
		),
		Issuances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "issuance_total",
				Help:      "Total number of issuer invocations by result.",
			},
			[]string{"result"},
		),
		IssuanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "issuance_duration_seconds",
				Help:      "Latency of issuer invocations.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"result"},
		),
		Coalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "coalesced_total",
			Help:      "Requests served by an issuance already in flight or retained.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of open client sessions.",
		}),
		InboxCallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: constants.MetricsNamespace,
				Name:      "inbox_callbacks_total",
				Help:      "Callbacks executed on the reactor goroutine by result.",
			},
			[]string{"result"},
		),
		PoolBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "pool_backlog",
			Help:      "Jobs waiting for a free worker.",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "cache_entries",
			Help:      "Names with an in-flight or retained issuance.",
		}),
	}
}

func (m *Metrics) RecordRequest(result string) {
	m.Requests.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordIssuance(result string, duration time.Duration) {
	m.Issuances.WithLabelValues(result).Inc()
	m.IssuanceDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *Metrics) RecordCoalesced() { m.Coalesced.Inc() }

func (m *Metrics) SessionOpened() { m.ActiveSessions.Inc() }

func (m *Metrics) SessionClosed() { m.ActiveSessions.Dec() }

func (m *Metrics) RecordInboxCallback(result string) {
	m.InboxCallbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPoolBacklog(n int) { m.PoolBacklog.Set(float64(n)) }

func (m *Metrics) SetCacheEntries(n int) { m.CacheEntries.Set(float64(n)) }

var _ service.Metrics = (*Metrics)(nil)
