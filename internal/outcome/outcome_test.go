package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/poll"
)

func TestFromError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		wantLabel string
		wantCode  int
	}{
		{"nil is ok", nil, Ok, "ok", 0},
		{
			name:      "404 status",
			err:       &api.StatusError{Method: "PUT", Path: "/api/content-library/bad", StatusCode: http.StatusNotFound},
			wantKind:  ServerError,
			wantLabel: "404_not_found",
			wantCode:  404,
		},
		{
			name:      "wrapped 422",
			err:       fmt.Errorf("update: %w", &api.StatusError{StatusCode: http.StatusUnprocessableEntity}),
			wantKind:  ServerError,
			wantLabel: "422_unprocessable_entity",
			wantCode:  422,
		},
		{
			name:      "500 status",
			err:       &api.StatusError{StatusCode: http.StatusInternalServerError},
			wantKind:  ServerError,
			wantLabel: "500_server_error",
			wantCode:  500,
		},
		{"deadline", context.DeadlineExceeded, Timeout, "timeout", 0},
		{"poll timeout", fmt.Errorf("%w after 5s", poll.ErrTimeout), Timeout, "timeout", 0},
		{
			name:      "url error",
			err:       &url.Error{Op: "Get", URL: "http://localhost:8001", Err: errors.New("connection refused")},
			wantKind:  NetworkError,
			wantLabel: "network_error",
		},
		{"plain error", errors.New("boom"), NetworkError, "network_error", 0},
		{
			name:      "undecodable body",
			err:       fmt.Errorf("%w: failed to decode /api/jobs/x response: unexpected EOF", api.ErrInvalidResponse),
			wantKind:  ProtocolError,
			wantLabel: "protocol_error",
		},
		{"empty payload", api.ErrEmptyPayload, ProtocolError, "protocol_error", 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o := FromError(tt.err)
			assert.Equal(t, tt.wantKind, o.Kind)
			assert.Equal(t, tt.wantLabel, o.Label())
			assert.Equal(t, tt.wantCode, o.StatusCode)
			assert.Equal(t, tt.err == nil, o.Passed())
		})
	}
}

func TestFromPoll(t *testing.T) {
	t.Parallel()

	completed := FromPoll(&poll.Result{State: poll.StateCompleted, Attempts: 3, Elapsed: 2 * time.Second}, nil)
	assert.True(t, completed.Passed())
	assert.Contains(t, completed.Detail, "3 polls")

	failed := FromPoll(&poll.Result{State: poll.StateFailed, Job: &api.Job{Error: "quota exceeded"}}, nil)
	assert.Equal(t, ServerError, failed.Kind)
	assert.Equal(t, "job_failed", failed.Label())
	assert.Equal(t, "quota exceeded", failed.Detail)

	timedOut := FromPoll(&poll.Result{State: poll.StateTimeout, Elapsed: time.Minute}, nil)
	assert.Equal(t, Timeout, timedOut.Kind)

	netErr := FromPoll(nil, errors.New("connection refused"))
	assert.Equal(t, NetworkError, netErr.Kind)

	assert.Equal(t, AssertionFailure, FromPoll(nil, nil).Kind)
}

func TestConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Outcome{Kind: Ok, Detail: "fine"}, OK("fine"))
	assert.Equal(t, Outcome{Kind: AssertionFailure, Detail: "2 broken links"}, Failf("%d broken links", 2))
	assert.Equal(t, "skipped: no mongo", Skip("no mongo").String())
	assert.Equal(t, "timeout", TimedOut("").String())
	assert.Equal(t, "job failed without an error message", JobFailed("").Detail)

	assert.True(t, Expect(true, "yes", "no").Passed())
	o := Expect(false, "yes", "no")
	assert.Equal(t, AssertionFailure, o.Kind)
	assert.Equal(t, "no", o.Detail)
}

func TestKind_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Fail("mismatch"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"assertion_failed","detail":"mismatch"}`, string(data))

	var o Outcome
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"timeout"}`), &o))
	assert.Equal(t, Timeout, o.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"exploded"}`), &o))
	assert.Equal(t, "kind(42)", Kind(42).String())
}
