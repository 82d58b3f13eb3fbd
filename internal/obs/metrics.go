package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ClientMetrics instruments the token lifecycle of one or more clients
type ClientMetrics struct {
	Acquisitions  *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	SolveDuration prometheus.Histogram
}

// NewClientMetrics creates client metrics and registers them when reg is not nil.
// Collectors already registered on reg are reused.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		Acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcha_client_token_acquisitions_total",
			Help: "Access token requests by outcome (cache_hit, issued, error).",
		}, []string{"result"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcha_client_token_refreshes_total",
			Help: "Refresh token exchanges by outcome.",
		}, []string{"result"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcha_client_retries_total",
			Help: "Resent requests by reason (refresh, reacquire, inline_challenge).",
		}, []string{"reason"}),
		SolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botcha_client_solve_duration_seconds",
			Help:    "Time spent solving challenges.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
	}
	if reg != nil {
		m.Acquisitions = register(reg, m.Acquisitions)
		m.Refreshes = register(reg, m.Refreshes)
		m.Retries = register(reg, m.Retries)
		m.SolveDuration = register(reg, m.SolveDuration)
	}
	return m
}

// ServerMetrics instruments the issuer HTTP surface and the bearer middleware
type ServerMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Verifications   *prometheus.CounterVec
}

// NewServerMetrics creates server metrics and registers them when reg is not nil
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcha_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botcha_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcha_token_verifications_total",
			Help: "Bearer token verifications by result kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		m.RequestsTotal = register(reg, m.RequestsTotal)
		m.RequestDuration = register(reg, m.RequestDuration)
		m.Verifications = register(reg, m.Verifications)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
