// Package outcome defines the typed result of a single harness step. Every
// step in a scenario ends as exactly one Outcome, so callers can tell a
// refused connection from a 404 from a content mismatch without parsing
// printed text.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/poll"
)

// Kind classifies an Outcome.
type Kind int

const (
	// Ok means the step passed.
	Ok Kind = iota
	// NetworkError means the request never produced an HTTP response.
	NetworkError
	// ServerError means the engine answered with an unexpected status or
	// reported a failed job.
	ServerError
	// Timeout means a deadline expired, usually while polling a job.
	Timeout
	// AssertionFailure means the engine answered but the content was wrong.
	AssertionFailure
	// Skipped means the step's preconditions were absent. Skipped steps do
	// not count toward the pass rate.
	Skipped
	// ProtocolError means the exchange broke the API contract without a
	// transport or status failure: an unusable 2xx body, a submission with
	// no job id, or a request refused before sending.
	ProtocolError
)

var kindNames = map[Kind]string{
	Ok:               "ok",
	NetworkError:     "network_error",
	ServerError:      "server_error",
	Timeout:          "timeout",
	AssertionFailure: "assertion_failed",
	Skipped:          "skipped",
	ProtocolError:    "protocol_error",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler so kinds read well in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind %q", string(text))
}

// Outcome is the result of one step.
type Outcome struct {
	Kind       Kind   `json:"kind"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

// Passed reports whether the outcome is Ok.
func (o Outcome) Passed() bool {
	return o.Kind == Ok
}

// Label returns a short machine-readable classification, e.g. "ok",
// "404_not_found", "500_server_error" or "timeout".
func (o Outcome) Label() string {
	if o.Kind == ServerError {
		if o.StatusCode > 0 {
			return statusLabel(o.StatusCode)
		}
		return "job_failed"
	}
	return o.Kind.String()
}

func (o Outcome) String() string {
	if o.Detail == "" {
		return o.Label()
	}
	return o.Label() + ": " + o.Detail
}

// statusLabel renders 4xx codes with their status text and 5xx codes as
// server errors.
func statusLabel(code int) string {
	if code >= 500 {
		return fmt.Sprintf("%d_server_error", code)
	}
	text := http.StatusText(code)
	if text == "" {
		return fmt.Sprintf("%d_unexpected_status", code)
	}
	slug := strings.ToLower(text)
	slug = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(slug)
	return fmt.Sprintf("%d_%s", code, slug)
}

// OK returns a passing outcome.
func OK(detail string) Outcome {
	return Outcome{Kind: Ok, Detail: detail}
}

// Fail returns an assertion failure.
func Fail(detail string) Outcome {
	return Outcome{Kind: AssertionFailure, Detail: detail}
}

// Failf is Fail with formatting.
func Failf(format string, args ...interface{}) Outcome {
	return Fail(fmt.Sprintf(format, args...))
}

// Skip returns a skipped outcome.
func Skip(detail string) Outcome {
	return Outcome{Kind: Skipped, Detail: detail}
}

// TimedOut returns a timeout outcome.
func TimedOut(detail string) Outcome {
	return Outcome{Kind: Timeout, Detail: detail}
}

// JobFailed returns the outcome for a job the engine reported as failed.
func JobFailed(serverError string) Outcome {
	if serverError == "" {
		serverError = "job failed without an error message"
	}
	return Outcome{Kind: ServerError, Detail: serverError}
}

// FromError classifies err. A nil error is Ok.
func FromError(err error) Outcome {
	if err == nil {
		return OK("")
	}

	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return Outcome{
			Kind:       ServerError,
			Detail:     statusErr.Error(),
			StatusCode: statusErr.StatusCode,
			Err:        err,
		}
	}

	if errors.Is(err, poll.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: Timeout, Detail: err.Error(), Err: err}
	}

	if errors.Is(err, api.ErrInvalidResponse) || errors.Is(err, api.ErrEmptyPayload) {
		return Outcome{Kind: ProtocolError, Detail: err.Error(), Err: err}
	}

	return Outcome{Kind: NetworkError, Detail: err.Error(), Err: err}
}

// FromPoll converts a poll result into an outcome: completed jobs pass,
// failed jobs are server errors carrying the engine's message and timeouts
// stay timeouts.
func FromPoll(res *poll.Result, err error) Outcome {
	if err != nil {
		return FromError(err)
	}
	if res == nil {
		return Fail("no poll result")
	}
	switch res.State {
	case poll.StateCompleted:
		return OK(fmt.Sprintf("job completed after %d polls in %s", res.Attempts, res.Elapsed.Round(time.Millisecond)))
	case poll.StateFailed:
		msg := ""
		if res.Job != nil {
			msg = res.Job.Error
		}
		return JobFailed(msg)
	case poll.StateTimeout:
		return TimedOut(fmt.Sprintf("job still pending after %s", res.Elapsed.Round(time.Millisecond)))
	}
	return Failf("unknown poll state %q", res.State)
}

// Expect returns OK(pass) when cond holds and Fail(fail) otherwise.
func Expect(cond bool, pass, fail string) Outcome {
	if cond {
		return OK(pass)
	}
	return Fail(fail)
}
