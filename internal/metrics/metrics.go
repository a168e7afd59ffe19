// Package metrics records harness results as Prometheus metrics on a private
// registry. A run can push them to a Pushgateway or write them to a
// node-exporter textfile.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/poll"
)

// Recorder holds every keqa metric.
type Recorder struct {
	registry *prometheus.Registry
	job      string

	ChecksTotal       *prometheus.CounterVec
	PollSeconds       *prometheus.HistogramVec
	PollAttempts      prometheus.Histogram
	PollErrorsTotal   prometheus.Counter
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPSeconds       *prometheus.HistogramVec
	PassRate          prometheus.Gauge
}

// New creates a Recorder. job names the Pushgateway grouping.
func New(job string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		job:      job,
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keqa_checks_total",
				Help: "Recorded harness steps by scenario and outcome kind",
			},
			[]string{"scenario", "kind"},
		),
		PollSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keqa_job_poll_seconds",
				Help:    "Time from first poll to terminal job state",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"state"},
		),
		PollAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keqa_job_poll_attempts",
				Help:    "Polls needed per job",
				Buckets: prometheus.LinearBuckets(1, 2, 10),
			},
		),
		PollErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keqa_job_poll_errors_total",
				Help: "Failed job status requests",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keqa_http_requests_total",
				Help: "Requests made to the engine",
			},
			[]string{"method", "status"},
		),
		HTTPSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keqa_http_request_seconds",
				Help:    "Engine request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PassRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "keqa_run_pass_rate",
				Help: "Pass rate of the last run in percent",
			},
		),
	}
}

// Registry returns the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveOutcome counts one recorded step.
func (r *Recorder) ObserveOutcome(scenario string, o outcome.Outcome) {
	r.ChecksTotal.WithLabelValues(scenario, o.Kind.String()).Inc()
}

// ObserveAttempt implements poll.Observer.
func (r *Recorder) ObserveAttempt(_ string, _ *api.Job, err error) {
	if err != nil {
		r.PollErrorsTotal.Inc()
	}
}

// ObserveResult implements poll.Observer.
func (r *Recorder) ObserveResult(_ string, res *poll.Result) {
	r.PollSeconds.WithLabelValues(string(res.State)).Observe(res.Elapsed.Seconds())
	r.PollAttempts.Observe(float64(res.Attempts))
}

// SetPassRate records the run's final pass rate.
func (r *Recorder) SetPassRate(rate float64) {
	r.PassRate.Set(rate)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Transport instruments an http.RoundTripper. Transport errors are counted
// with status "error".
func (r *Recorder) Transport(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(req)
		r.HTTPSeconds.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		r.HTTPRequestsTotal.WithLabelValues(req.Method, status).Inc()
		return resp, err
	})
}

// Push sends every metric to the Pushgateway at url, replacing the job's
// previous group.
func (r *Recorder) Push(ctx context.Context, url string) error {
	if err := push.New(url, r.job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// WriteTextfile writes every metric in the text exposition format for the
// node-exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
