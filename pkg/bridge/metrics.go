package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "engineapi"

// Metrics are the bridge's prometheus collectors, registered on their own registry.
type Metrics struct {
	BlockProductionDuration prometheus.Histogram
	RPCErrors               prometheus.Counter
	PayloadStatus           *prometheus.CounterVec
	HeadHeight              prometheus.Gauge
	InjectedTxs             prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a fresh registry that also carries
// the process and Go runtime collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		BlockProductionDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_production_duration_seconds",
			Help:      "Time spent driving one block through the Engine API",
			Buckets:   prometheus.DefBuckets,
		}),
		RPCErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_production_errors_total",
			Help:      "Number of heights whose block production failed",
		}),
		PayloadStatus: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_status_total",
			Help:      "Payload statuses returned by engine_newPayload",
		}, []string{"status"}),
		HeadHeight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_height",
			Help:      "CometBFT height of the latest produced execution block",
		}),
		InjectedTxs: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injected_transactions_total",
			Help:      "Transactions forwarded from CometBFT blocks to the execution client",
		}),
		registry: reg,
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
