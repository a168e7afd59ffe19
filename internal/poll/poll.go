// Package poll waits for Knowledge Engine jobs to finish. Polling uses
// exponential backoff under a hard deadline, so every wait ends as
// completed, failed or timeout within the configured timeout.
package poll

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/config"
	"github.com/thruflo/keqa/internal/logging"
)

// Policy controls polling cadence and limits.
type Policy = config.Polling

// DefaultPolicy returns 1s initial interval, 10s cap, 1.5 multiplier, 300s
// timeout and 3 tolerated consecutive transport errors.
func DefaultPolicy() Policy {
	return config.DefaultPolling()
}

// State is the terminal state of a wait.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimeout   State = "timeout"
)

// ErrTimeout is returned by Result.Err for timed-out waits.
var ErrTimeout = errors.New("timed out waiting for job")

// errPending keeps the backoff loop going while the job is not terminal.
var errPending = errors.New("job not finished")

// jitter is the randomization factor applied to each interval.
const jitter = 0.1

// JobGetter fetches a job by id. *api.Client satisfies it.
type JobGetter interface {
	GetJob(ctx context.Context, jobID string) (*api.Job, error)
}

// Observer receives polling events, e.g. for metrics.
type Observer interface {
	ObserveAttempt(jobID string, job *api.Job, err error)
	ObserveResult(jobID string, res *Result)
}

// Result describes how a wait ended.
type Result struct {
	State    State
	Job      *api.Job
	Attempts int
	Elapsed  time.Duration
}

// Err returns nil for completed jobs, the server's message for failed jobs
// and ErrTimeout for timeouts.
func (r *Result) Err() error {
	switch r.State {
	case StateCompleted:
		return nil
	case StateFailed:
		msg := "no error message"
		if r.Job != nil && r.Job.Error != "" {
			msg = r.Job.Error
		}
		return fmt.Errorf("job failed: %s", msg)
	default:
		return fmt.Errorf("%w after %s", ErrTimeout, r.Elapsed.Round(time.Millisecond))
	}
}

// Poller waits for jobs.
type Poller struct {
	getter   JobGetter
	policy   Policy
	observer Observer
	logger   *logging.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithObserver sets the observer notified of each attempt and result.
func WithObserver(o Observer) Option {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// New creates a Poller.
func New(getter JobGetter, policy Policy, opts ...Option) *Poller {
	p := &Poller{
		getter: getter,
		policy: policy,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the poller's policy.
func (p *Poller) Policy() Policy {
	return p.policy
}

// Wait polls jobID until it is terminal or the policy timeout elapses.
// Transport errors and 5xx responses are retried until MaxTransientErrors
// consecutive failures, then returned. Other 4xx responses are returned
// immediately. Cancelling ctx returns ctx.Err().
func (p *Poller) Wait(ctx context.Context, jobID string) (*Result, error) {
	if jobID == "" {
		return nil, errors.New("empty job id")
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.policy.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.InitialInterval
	b.MaxInterval = p.policy.MaxInterval
	b.Multiplier = p.policy.Multiplier
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = p.policy.Timeout
	b.Reset()

	logger := p.logger.With("job_id", jobID)

	var last *api.Job
	attempts := 0
	consecutive := 0

	op := func() error {
		if err := waitCtx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempts++
		job, err := p.getter.GetJob(waitCtx, jobID)
		if p.observer != nil {
			p.observer.ObserveAttempt(jobID, job, err)
		}

		if err != nil {
			if waitCtx.Err() != nil {
				return backoff.Permanent(waitCtx.Err())
			}
			if !transient(err) {
				return backoff.Permanent(fmt.Errorf("failed to poll job %s: %w", jobID, err))
			}
			consecutive++
			if consecutive >= p.policy.MaxTransientErrors {
				return backoff.Permanent(fmt.Errorf("failed to poll job %s after %d consecutive errors: %w", jobID, consecutive, err))
			}
			logger.Warn("transient poll error", "attempt", attempts, "error", err)
			return err
		}

		consecutive = 0
		last = job
		logger.Debug("polled job", "attempt", attempts, "status", job.Status)
		if job.Terminal() {
			return nil
		}
		return errPending
	}

	notify := func(err error, next time.Duration) {
		if !errors.Is(err, errPending) {
			logger.Debug("retrying", "in", next.Round(time.Millisecond))
		}
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, waitCtx), notify)

	res := &Result{Job: last, Attempts: attempts, Elapsed: time.Since(start)}

	switch {
	case err == nil:
		if last.Status == api.JobFailed {
			res.State = StateFailed
		} else {
			res.State = StateCompleted
		}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, errPending), errors.Is(err, context.DeadlineExceeded):
		res.State = StateTimeout
	default:
		return nil, err
	}

	logger.Info("job finished", "state", string(res.State), "attempts", res.Attempts, "elapsed", res.Elapsed.Round(time.Millisecond))
	if p.observer != nil {
		p.observer.ObserveResult(jobID, res)
	}
	return res, nil
}

// SubmitFunc submits work and returns the engine's job handle.
type SubmitFunc func(ctx context.Context) (*api.Submission, error)

// SubmitAndWait calls submit and waits for the returned job.
func (p *Poller) SubmitAndWait(ctx context.Context, submit SubmitFunc) (*Result, error) {
	sub, err := submit(ctx)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx, sub.JobID)
}

// transient reports whether a poll error is worth retrying.
func transient(err error) bool {
	if errors.Is(err, api.ErrInvalidResponse) {
		return false
	}
	var se *api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}
