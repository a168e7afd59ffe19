package poll

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/keqa/internal/api"
)

// scriptedGetter replays a fixed sequence of responses, repeating the last.
type scriptedGetter struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	status string
	errMsg string
	err    error
}

func (g *scriptedGetter) GetJob(ctx context.Context, jobID string) (*api.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.calls
	if i >= len(g.steps) {
		i = len(g.steps) - 1
	}
	g.calls++

	s := g.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	return &api.Job{JobID: jobID, Status: s.status, Error: s.errMsg}, nil
}

func (g *scriptedGetter) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func fastPolicy(timeout time.Duration) Policy {
	return Policy{
		InitialInterval:    time.Millisecond,
		MaxInterval:        5 * time.Millisecond,
		Multiplier:         1.5,
		Timeout:            timeout,
		MaxTransientErrors: 3,
	}
}

var errRefused = errors.New("dial tcp 127.0.0.1:8001: connect: connection refused")

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, 10*time.Second, p.MaxInterval)
	assert.Equal(t, 1.5, p.Multiplier)
	assert.Equal(t, 300*time.Second, p.Timeout)
	assert.Equal(t, 3, p.MaxTransientErrors)
}

func TestWait_States(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		steps        []step
		timeout      time.Duration
		wantState    State
		wantAttempts int
	}{
		{
			name:         "completes after processing",
			steps:        []step{{status: "queued"}, {status: "processing"}, {status: "completed"}},
			timeout:      time.Second,
			wantState:    StateCompleted,
			wantAttempts: 3,
		},
		{
			name:         "server reported failure",
			steps:        []step{{status: "processing"}, {status: "failed", errMsg: "LLM quota exceeded"}},
			timeout:      time.Second,
			wantState:    StateFailed,
			wantAttempts: 2,
		},
		{
			name:      "never finishes",
			steps:     []step{{status: "processing"}},
			timeout:   50 * time.Millisecond,
			wantState: StateTimeout,
		},
		{
			name:         "recovers from transient errors",
			steps:        []step{{err: errRefused}, {err: errRefused}, {status: "completed"}},
			timeout:      time.Second,
			wantState:    StateCompleted,
			wantAttempts: 3,
		},
		{
			name: "retries 5xx",
			steps: []step{
				{err: &api.StatusError{StatusCode: http.StatusBadGateway}},
				{status: "completed"},
			},
			timeout:      time.Second,
			wantState:    StateCompleted,
			wantAttempts: 2,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			getter := &scriptedGetter{steps: tt.steps}
			p := New(getter, fastPolicy(tt.timeout))

			start := time.Now()
			res, err := p.Wait(context.Background(), "job-1")
			require.NoError(t, err)

			assert.Equal(t, tt.wantState, res.State)
			assert.Less(t, time.Since(start), tt.timeout+time.Second)
			if tt.wantAttempts > 0 {
				assert.Equal(t, tt.wantAttempts, res.Attempts)
			}
		})
	}
}

func TestWait_FailedCarriesServerMessage(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{steps: []step{{status: "failed", errMsg: "chunking failed"}}}
	res, err := New(getter, fastPolicy(time.Second)).Wait(context.Background(), "job-1")
	require.NoError(t, err)

	require.NotNil(t, res.Job)
	assert.Equal(t, "chunking failed", res.Job.Error)
	assert.EqualError(t, res.Err(), "job failed: chunking failed")
}

func TestWait_TimeoutIsDistinctFromFailure(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{steps: []step{{status: "queued"}}}
	res, err := New(getter, fastPolicy(30*time.Millisecond)).Wait(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, StateTimeout, res.State)
	assert.ErrorIs(t, res.Err(), ErrTimeout)
	assert.GreaterOrEqual(t, res.Attempts, 1)
}

func TestWait_TooManyTransientErrors(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{steps: []step{{err: errRefused}}}
	_, err := New(getter, fastPolicy(time.Second)).Wait(context.Background(), "job-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, errRefused)
	assert.Contains(t, err.Error(), "3 consecutive errors")
	assert.Equal(t, 3, getter.Calls())
}

func TestWait_NotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{steps: []step{{err: &api.StatusError{Method: "GET", Path: "/api/jobs/x", StatusCode: 404}}}}
	_, err := New(getter, fastPolicy(time.Second)).Wait(context.Background(), "x")
	require.Error(t, err)

	assert.True(t, api.IsNotFound(err))
	assert.Equal(t, 1, getter.Calls())
}

func TestWait_InvalidResponseIsPermanent(t *testing.T) {
	t.Parallel()

	invalid := fmt.Errorf("%w: failed to decode /api/jobs/x response: unexpected EOF", api.ErrInvalidResponse)
	getter := &scriptedGetter{steps: []step{{err: invalid}}}
	_, err := New(getter, fastPolicy(time.Second)).Wait(context.Background(), "x")
	require.Error(t, err)

	assert.ErrorIs(t, err, api.ErrInvalidResponse)
	assert.Equal(t, 1, getter.Calls())
}

func TestWait_ParentCancellation(t *testing.T) {
	t.Parallel()

	getter := &scriptedGetter{steps: []step{{status: "processing"}}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := New(getter, fastPolicy(10*time.Second)).Wait(ctx, "job-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWait_EmptyJobID(t *testing.T) {
	t.Parallel()

	_, err := New(&scriptedGetter{}, fastPolicy(time.Second)).Wait(context.Background(), "")
	assert.Error(t, err)
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts int
	results  []*Result
}

func (o *recordingObserver) ObserveAttempt(string, *api.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
}

func (o *recordingObserver) ObserveResult(_ string, res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}

func TestWait_Observer(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	getter := &scriptedGetter{steps: []step{{status: "queued"}, {err: errRefused}, {status: "completed"}}}

	res, err := New(getter, fastPolicy(time.Second), WithObserver(obs)).Wait(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, 3, obs.attempts)
	require.Len(t, obs.results, 1)
	assert.Same(t, res, obs.results[0])
}

func TestSubmitAndWait(t *testing.T) {
	t.Parallel()

	t.Run("waits on submitted job", func(t *testing.T) {
		t.Parallel()

		getter := &scriptedGetter{steps: []step{{status: "completed"}}}
		res, err := New(getter, fastPolicy(time.Second)).SubmitAndWait(context.Background(),
			func(context.Context) (*api.Submission, error) {
				return &api.Submission{JobID: "job-42"}, nil
			})
		require.NoError(t, err)
		assert.Equal(t, "job-42", res.Job.JobID)
		assert.Equal(t, StateCompleted, res.State)
	})

	t.Run("returns submission error", func(t *testing.T) {
		t.Parallel()

		getter := &scriptedGetter{steps: []step{{status: "completed"}}}
		_, err := New(getter, fastPolicy(time.Second)).SubmitAndWait(context.Background(),
			func(context.Context) (*api.Submission, error) {
				return nil, api.ErrEmptyPayload
			})
		assert.ErrorIs(t, err, api.ErrEmptyPayload)
		assert.Equal(t, 0, getter.Calls())
	})
}
