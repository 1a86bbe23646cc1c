// Package monitoring exposes Prometheus metrics for the session pipeline.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	ConnectionsActive prometheus.Gauge
	ExecutionsTotal   *prometheus.CounterVec
	SavesTotal        *prometheus.CounterVec
	KernelRespawns    prometheus.Counter
	MessagesFiltered  prometheus.Counter
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_sessions_active",
			Help: "Number of live notebook sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of attached client connections",
		}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_executions_total",
			Help: "Total kernel execute replies by outcome",
		}, []string{"status"}),
		SavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_saves_total",
			Help: "Total notebook save attempts by outcome",
		}, []string{"status"}),
		KernelRespawns: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_kernel_respawns_total",
			Help: "Total kernel respawns triggered by health checks or resets",
		}),
		MessagesFiltered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_filtered_total",
			Help: "Messages dropped by the processor chain",
		}),
	}
}
