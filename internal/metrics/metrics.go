// Package metrics exposes Prometheus counters for the client and the dev backend.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes.
const (
	RefreshSucceeded = "succeeded"
	RefreshFailed    = "failed"
	RefreshSkipped   = "skipped"
)

// Poll results.
const (
	PollOK       = "ok"
	PollError    = "error"
	PollThrottle = "throttled"
)

// Recorder is the set of events the rest of the module reports.
type Recorder interface {
	RecordRequest(statusCode int)
	RecordRefresh(outcome string)
	RecordLogout()
	RecordPoll(result string)
	RecordCompletion()
	RecordJobSubmitted()
	RecordJobStep(step string)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	requests      *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	logouts       prometheus.Counter
	polls         *prometheus.CounterVec
	completions   prometheus.Counter
	jobsSubmitted prometheus.Counter
	jobSteps      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "readaloud_api_requests_total",
			Help: "API responses received by the client, by status code.",
		}, []string{"status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "readaloud_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "readaloud_logouts_total",
			Help: "Sessions cleared after an unrecoverable auth failure or explicit logout.",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "readaloud_progress_polls_total",
			Help: "Job progress polls by result.",
		}, []string{"result"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "readaloud_completion_signals_total",
			Help: "Job completion invalidations emitted.",
		}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "readaloud_jobs_submitted_total",
			Help: "Books accepted for conversion by the dev backend.",
		}),
		jobSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "readaloud_job_steps_total",
			Help: "Pipeline step transitions recorded by the dev backend.",
		}, []string{"step"}),
	}

	reg.MustRegister(
		c.requests,
		c.refreshes,
		c.logouts,
		c.polls,
		c.completions,
		c.jobsSubmitted,
		c.jobSteps,
	)

	return c
}

func (c *Collector) RecordRequest(statusCode int) {
	c.requests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

func (c *Collector) RecordPoll(result string) {
	c.polls.WithLabelValues(result).Inc()
}

func (c *Collector) RecordCompletion() {
	c.completions.Inc()
}

func (c *Collector) RecordJobSubmitted() {
	c.jobsSubmitted.Inc()
}

func (c *Collector) RecordJobStep(step string) {
	c.jobSteps.WithLabelValues(step).Inc()
}

// Nop discards every event.
type Nop struct{}

func (Nop) RecordRequest(int) {}
func (Nop) RecordRefresh(string) {}
func (Nop) RecordLogout() {}
func (Nop) RecordPoll(string) {}
func (Nop) RecordCompletion() {}
func (Nop) RecordJobSubmitted() {}
func (Nop) RecordJobStep(string) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
