package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/HMasataka/partyline/internal/eventbus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "partyline"

// Metrics holds the Prometheus collectors of the service
type Metrics struct {
	ConnectedClients  prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Broadcasts        prometheus.Counter
	Deliveries        prometheus.Counter
	RecipientsDropped prometheus.Counter
	UpstreamRetries   *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec
	HTTPErrors        *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates and registers the collectors on reg
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Number of open WebSocket connections.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "broadcasts_total",
			Help:      "Total messages fanned out.",
		}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Total per-recipient deliveries.",
		}),
		RecipientsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "recipients_dropped_total",
			Help:      "Recipients deregistered after a failed delivery.",
		}),
		UpstreamRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Backoff waits scheduled by upstream status.",
		}, []string{"status"}),
		UpstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Chat requests that failed by kind.",
		}, []string{"kind"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Failed HTTP requests by error type.",
		}, []string{"type"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
		gatherer: reg,
	}
}

// Subscribe feeds the collectors from bus events and returns the
// subscription id.
func (m *Metrics) Subscribe(bus eventbus.Bus) string {
	return bus.SubscribeAll(m.observe)
}

func (m *Metrics) observe(event *eventbus.Event) {
	switch event.Type {
	case eventbus.EventConnectionOpened:
		m.ConnectedClients.Inc()
		m.ConnectionsTotal.Inc()
	case eventbus.EventConnectionClosed:
		m.ConnectedClients.Dec()
	case eventbus.EventRelayBroadcast:
		m.Broadcasts.Inc()
		if data, ok := event.Data.(eventbus.BroadcastData); ok {
			m.Deliveries.Add(float64(data.Delivered))
		}
	case eventbus.EventRecipientDropped:
		m.RecipientsDropped.Inc()
	case eventbus.EventUpstreamRetry:
		if data, ok := event.Data.(eventbus.RetryData); ok {
			m.UpstreamRetries.WithLabelValues(strconv.Itoa(data.Status)).Inc()
		}
	case eventbus.EventUpstreamFailed:
		if data, ok := event.Data.(eventbus.FailureData); ok {
			m.UpstreamFailures.WithLabelValues(data.Kind).Inc()
		}
	case eventbus.EventHTTPError:
		m.HTTPErrors.WithLabelValues(event.Metadata["type"]).Inc()
	}
}

// Handler serves the registered collectors
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request durations by chi route pattern. WebSocket
// upgrades and /metrics are skipped.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
