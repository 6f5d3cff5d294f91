package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus instruments on a private registry,
// so tests can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	loginOutcomes   *prometheus.CounterVec
	verifyOutcomes  *prometheus.CounterVec
	sweptSessions   prometheus.Counter
	proxiedBytes    prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_http_requests_total",
			Help: "HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamgate_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		loginOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		verifyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamgate_verify_total",
			Help: "Session verifications by result.",
		}, []string{"result"}),
		sweptSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_swept_sessions_total",
			Help: "Sessions deactivated by the expiry sweeper.",
		}),
		proxiedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_proxied_bytes_total",
			Help: "Media bytes relayed through the stream proxy.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.loginOutcomes,
		m.verifyOutcomes,
		m.sweptSessions,
		m.proxiedBytes,
	)
	return m
}

func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) ObserveLogin(outcome string) {
	m.loginOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveVerify(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.verifyOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) AddSweptSessions(n int64) {
	if n > 0 {
		m.sweptSessions.Add(float64(n))
	}
}

func (m *Metrics) AddProxiedBytes(n int64) {
	if n > 0 {
		m.proxiedBytes.Add(float64(n))
	}
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
