package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the gateway's Prometheus metrics. A nil *Collector is
// valid and records nothing, so library code never has to guard calls.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests     *prometheus.CounterVec
	PayloadBuilds    *prometheus.CounterVec
	Submissions      *prometheus.CounterVec
	UpstreamAttempts *prometheus.CounterVec
	UpstreamDuration prometheus.Histogram
}

// NewCollector registers metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route pattern, and status code.",
	}, []string{"method", "route", "status"}), "simgate_http_requests_total")
	if err != nil {
		return nil, err
	}
	builds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_payload_builds_total",
		Help: "Payload builds, labeled by scenario and outcome.",
	}, []string{"scenario", "outcome"}), "simgate_payload_builds_total")
	if err != nil {
		return nil, err
	}
	submissions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_submissions_total",
		Help: "Submissions to the external validator, labeled by terminal outcome.",
	}, []string{"outcome"}), "simgate_submissions_total")
	if err != nil {
		return nil, err
	}
	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_upstream_attempts_total",
		Help: "Individual HTTP attempts against the external validator, labeled by result class.",
	}, []string{"result"}), "simgate_upstream_attempts_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simgate_upstream_duration_seconds",
		Help:    "Latency of individual validator attempts in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "simgate_upstream_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		HTTPRequests:     httpRequests,
		PayloadBuilds:    builds,
		Submissions:      submissions,
		UpstreamAttempts: attempts,
		UpstreamDuration: duration,
	}, nil
}

// ObserveHTTP satisfies httpserver.RequestObserver.
func (c *Collector) ObserveHTTP(method, route string, status int, _ time.Duration) {
	if c == nil || c.HTTPRequests == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func (c *Collector) ObserveBuild(scenario, outcome string) {
	if c == nil || c.PayloadBuilds == nil {
		return
	}
	if scenario == "" {
		scenario = "unknown"
	}
	c.PayloadBuilds.WithLabelValues(scenario, outcome).Inc()
}

func (c *Collector) ObserveSubmission(outcome string) {
	if c == nil || c.Submissions == nil {
		return
	}
	c.Submissions.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveAttempt(result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.UpstreamAttempts != nil {
		c.UpstreamAttempts.WithLabelValues(result).Inc()
	}
	if c.UpstreamDuration != nil {
		c.UpstreamDuration.Observe(elapsed.Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
