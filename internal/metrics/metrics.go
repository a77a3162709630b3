// Package metrics exposes the server's operational counters as Prometheus
// metrics: a single struct of promauto-registered vectors/gauges built once
// at startup and updated from the hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the admin surface and operators care
// about: connected clients, sample throughput, backpressure drops, and
// command dispatch volume.
type Metrics struct {
	ActiveClients  prometheus.Gauge
	ClientsTotal   prometheus.Counter
	BytesStreamed  prometheus.Counter
	BuffersDropped prometheus.Counter
	CommandsTotal  *prometheus.CounterVec
	GreetingsSent  prometheus.Counter
}

// New creates and registers all metrics against the default registry.
func New() *Metrics {
	return &Metrics{
		ActiveClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtltcpd_active_clients",
			Help: "Number of currently connected rtl_tcp clients.",
		}),
		ClientsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtltcpd_clients_total",
			Help: "Total number of client connections accepted since startup.",
		}),
		BytesStreamed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtltcpd_bytes_streamed_total",
			Help: "Total sample bytes written to clients since startup.",
		}),
		BuffersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtltcpd_buffers_dropped_total",
			Help: "Total sample buffers dropped for slow clients since startup.",
		}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rtltcpd_commands_total",
			Help: "Total command frames dispatched, by command name.",
		}, []string{"command"}),
		GreetingsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtltcpd_greetings_sent_total",
			Help: "Total greetings written to newly accepted connections.",
		}),
	}
}
