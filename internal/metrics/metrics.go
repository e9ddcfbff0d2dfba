// Package metrics exposes Kestrel's Prometheus instruments.
//
// Registers:
//
//	kestrel_assessments_total{status,rating}
//	kestrel_assessment_errors_total{kind}
//	kestrel_score_cache_total{result}
//	kestrel_rule_outcomes_total{rule,outcome}
//	kestrel_assessment_duration_seconds
//	kestrel_http_requests_total{method,route,status}
//	kestrel_http_request_duration_seconds{method,route}
//	go_* and process_* system metrics
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metrics holds the instruments on a private registry so tests and
// multiple servers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	assessments      *prometheus.CounterVec
	assessmentErrors *prometheus.CounterVec
	scoreCache       *prometheus.CounterVec
	ruleOutcomes     *prometheus.CounterVec
	assessmentTime   prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers every instrument.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assessments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_assessments_total",
				Help: "Completed assessments by status and rating",
			},
			[]string{"status", "rating"},
		),
		assessmentErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_assessment_errors_total",
				Help: "Assessments rejected or failed, by error kind",
			},
			[]string{"kind"},
		),
		scoreCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_score_cache_total",
				Help: "Score cache lookups by result",
			},
			[]string{"result"},
		),
		ruleOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_rule_outcomes_total",
				Help: "Policy rule outcomes by rule and outcome",
			},
			[]string{"rule", "outcome"},
		),
		assessmentTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kestrel_assessment_duration_seconds",
				Help:    "End to end assessment latency",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kestrel_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kestrel_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.assessments,
		m.assessmentErrors,
		m.scoreCache,
		m.ruleOutcomes,
		m.assessmentTime,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAssessment records a completed assessment. Safe on a nil receiver.
func (m *Metrics) ObserveAssessment(a *domain.Assessment, elapsed time.Duration) {
	if m == nil || a == nil {
		return
	}
	m.assessments.WithLabelValues(a.Status, string(a.Score.Rating)).Inc()
	m.assessmentTime.Observe(elapsed.Seconds())
	for _, r := range a.RuleResults {
		m.ruleOutcomes.WithLabelValues(r.RuleID, r.SubRuleRef).Inc()
	}
}

// AssessmentError counts a failed assessment.
func (m *Metrics) AssessmentError(kind string) {
	if m == nil {
		return
	}
	m.assessmentErrors.WithLabelValues(kind).Inc()
}

// ScoreCache counts a cache lookup as a hit or miss.
func (m *Metrics) ScoreCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.scoreCache.WithLabelValues(result).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
