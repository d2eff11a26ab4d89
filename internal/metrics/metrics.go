package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	// ResultRetried marks a gateway call that succeeded after one refresh.
	ResultRetried = "retried"
	// ResultNoToken marks a gateway call rejected before any request went out.
	ResultNoToken = "no_token"
)

// Metrics holds the connector's counters on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	Exchanges    *prometheus.CounterVec
	Refreshes    *prometheus.CounterVec
	GatewayCalls *prometheus.CounterVec
}

// New registers the connector counters plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_token_exchanges_total",
			Help: "Authorization code exchanges by result.",
		}, []string{"result"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_token_refreshes_total",
			Help: "Refresh token grants by result.",
		}, []string{"result"}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_gateway_calls_total",
			Help: "Outbound API calls by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.Exchanges,
		m.Refreshes,
		m.GatewayCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveExchange counts one code exchange. Methods on a nil *Metrics are
// no-ops.
func (m *Metrics) ObserveExchange(result string) {
	if m != nil {
		m.Exchanges.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveRefresh(result string) {
	if m != nil {
		m.Refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveGatewayCall(result string) {
	if m != nil {
		m.GatewayCalls.WithLabelValues(result).Inc()
	}
}
