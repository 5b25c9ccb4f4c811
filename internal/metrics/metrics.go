// Package metrics exposes Prometheus counters for outbound API calls and
// inbound webhook deliveries. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the client and webhook gateway.
type Metrics struct {
	APIRequests       *prometheus.CounterVec
	APICache          *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	HandlerErrors     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers metrics on a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers metrics on registry and serves them from gatherer.
func NewWithRegistry(registry prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qiwigo_api_requests_total",
			Help: "Outbound API calls by method and result status",
		}, []string{"method", "status"}),
		APICache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qiwigo_api_cache_total",
			Help: "Response cache lookups by result",
		}, []string{"result"}),
		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qiwigo_webhook_deliveries_total",
			Help: "Inbound webhook deliveries by event kind and outcome",
		}, []string{"kind", "result"}),
		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qiwigo_webhook_handler_errors_total",
			Help: "Webhook handler failures by event kind",
		}, []string{"kind"}),
		gatherer: gatherer,
	}
}

// ObserveAPI counts one outbound call. status is the HTTP code, or 0 for
// transport failures.
func (m *Metrics) ObserveAPI(method string, status int) {
	if m == nil {
		return
	}
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.APIRequests.WithLabelValues(method, label).Inc()
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.APICache.WithLabelValues(result).Inc()
}

// ObserveDelivery counts a webhook delivery outcome (ok, duplicate, rejected_ip, ...).
func (m *Metrics) ObserveDelivery(kind, result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(kind, result).Inc()
}

// ObserveHandlerError counts one failed handler invocation.
func (m *Metrics) ObserveHandlerError(kind string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(kind).Inc()
}

// Handler serves the registered metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
