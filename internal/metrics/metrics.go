// Package metrics owns the Prometheus registry for the server. A private
// registry keeps tests independent of the global default registerer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensors"

// Ingest outcomes used as the "result" label.
const (
	ResultStored       = "stored"
	ResultParseError   = "parse_error"
	ResultStorageError = "storage_error"
)

type Metrics struct {
	registry *prometheus.Registry

	ingestMessages *prometheus.CounterVec
	httpRequests   *prometheus.HistogramVec
	mqttConnected  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "MQTT messages handled by the ingestion path, by outcome.",
		}, []string{"result"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the MQTT subscription is active.",
		}),
	}

	m.registry.MustRegister(
		m.ingestMessages,
		m.httpRequests,
		m.mqttConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, r := range []string{ResultStored, ResultParseError, ResultStorageError} {
		m.ingestMessages.WithLabelValues(r)
	}
	return m
}

// IngestMessage counts one handled message. Safe on a nil receiver.
func (m *Metrics) IngestMessage(result string) {
	if m == nil {
		return
	}
	m.ingestMessages.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) SetMQTTConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.mqttConnected.Set(1)
		return
	}
	m.mqttConnected.Set(0)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
