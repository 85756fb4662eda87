// Package metrics exposes the Prometheus collectors of the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	EventMutations *prometheus.CounterVec
	WeatherFetches *prometheus.CounterVec
	ChatRequests   *prometheus.CounterVec
	LiveViews      prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EventMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_mutations_total",
			Help:      "Calendar event writes by operation, backend and outcome",
		}, []string{"op", "backend", "status"}),
		WeatherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_fetches_total",
			Help:      "Forecast requests by outcome",
		}, []string{"status"}),
		ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Assistant generations by outcome",
		}, []string{"outcome"}),
		LiveViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_views",
			Help:      "Open websocket calendar views",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.EventMutations,
		c.WeatherFetches,
		c.ChatRequests,
		c.LiveViews,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveHTTP(method, route string, status int, took time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func (c *Collector) EventMutation(op, backend, status string) {
	c.EventMutations.WithLabelValues(op, backend, status).Inc()
}

func (c *Collector) WeatherFetch(status string) {
	c.WeatherFetches.WithLabelValues(status).Inc()
}

func (c *Collector) ChatRequest(outcome string) {
	c.ChatRequests.WithLabelValues(outcome).Inc()
}

func (c *Collector) ViewOpened() { c.LiveViews.Inc() }
func (c *Collector) ViewClosed() { c.LiveViews.Dec() }
