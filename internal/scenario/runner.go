package scenario

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thruflo/keqa/internal/logging"
	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/report"
	"github.com/thruflo/keqa/internal/tracing"
)

// Observer is told about every recorded step. *metrics.Recorder
// satisfies it.
type Observer interface {
	ObserveOutcome(scenario string, o outcome.Outcome)
}

// Runner executes scenarios one after another.
type Runner struct {
	Env      *Env
	Reporter *report.Reporter
	Observer Observer
	// Now overrides the clock used for step durations.
	Now func() time.Time
}

// Run executes scenarios strictly in order. A panicking scenario is
// recorded as a failed step and the run continues. Once ctx is done the
// remaining scenarios are recorded as skipped.
func (r *Runner) Run(ctx context.Context, scenarios []*Scenario) {
	for _, s := range scenarios {
		if err := ctx.Err(); err != nil {
			r.Reporter.Record(report.Result{
				Scenario: s.Name,
				Name:     "run",
				Outcome:  outcome.Skip(fmt.Sprintf("not run: %v", err)),
			})
			continue
		}
		r.runOne(ctx, s)
	}
}

func (r *Runner) logger() *logging.Logger {
	if r.Env == nil {
		return logging.Discard()
	}
	return r.Env.log()
}

func (r *Runner) runOne(ctx context.Context, s *Scenario) {
	logger := r.logger().With("scenario", s.Name)
	r.Reporter.Begin(s.Name, s.Description)

	ctx, span := tracing.StartSpan(ctx, "scenario "+s.Name,
		attribute.String("keqa.scenario", s.Name),
		attribute.Float64("keqa.threshold", s.Threshold),
	)
	defer span.End()

	t := newT(s.Name, func(res report.Result) {
		r.Reporter.Record(res)
		if r.Observer != nil {
			r.Observer.ObserveOutcome(res.Scenario, res.Outcome)
		}
		if !res.Outcome.Passed() && res.Outcome.Kind != outcome.Skipped {
			span.AddEvent("step failed", trace.WithAttributes(
				attribute.String("keqa.step", res.Name),
				attribute.String("keqa.outcome", res.Outcome.Label()),
			))
		}
	}, r.Now)

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("scenario panicked", "panic", p, "stack", string(debug.Stack()))
			t.Record("panic", outcome.Failf("scenario panicked: %v", p))
		}
		if t.Failed() {
			span.SetStatus(codes.Error, "one or more steps failed")
		}
		span.SetAttributes(attribute.Int("keqa.steps", t.Count()))
		logger.Debug("scenario finished", "steps", t.Count(), "failed", t.Failed(), "duration", time.Since(start).Round(time.Millisecond))
	}()

	logger.Debug("scenario started")
	s.Run(ctx, r.Env, t)
}
