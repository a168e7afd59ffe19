package testutil

import (
	"io"
	"time"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/report"
)

// SampleConfigYAML is a minimal config file. Durations are short so tests
// against a fake engine finish quickly.
const SampleConfigYAML = `api:
  request_timeout: 5s
polling:
  initial_interval: 1ms
  max_interval: 5ms
  multiplier: 1.5
  timeout: 2s
  max_transient_errors: 3
history:
  path: .keqa/history.db
`

// SampleTime is the fixed clock used by fixtures.
var SampleTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// SampleResults returns one result of each outcome kind across two
// scenarios. A new slice is returned on every call.
func SampleResults() []report.Result {
	results := []report.Result{
		{Scenario: "health", Name: "health", Outcome: outcome.OK("healthy")},
		{Scenario: "health", Name: "engine", Outcome: outcome.OK("engine available")},
		{Scenario: "library-crud", Name: "create", Outcome: outcome.OK("created")},
		{Scenario: "library-crud", Name: "read", Outcome: outcome.FromError(&api.StatusError{
			Method: "GET", Path: "/api/content-library/x", StatusCode: 500, Body: "boom",
		})},
		{Scenario: "library-crud", Name: "list", Outcome: outcome.Fail("article missing from list")},
		{Scenario: "library-crud", Name: "delete", Outcome: outcome.Skip("create failed")},
	}
	for i := range results {
		results[i].Time = SampleTime.Add(time.Duration(i) * time.Second)
		results[i].Duration = 250 * time.Millisecond
		results[i].Label = results[i].Outcome.Label()
	}
	return results
}

// SampleRun returns a finished run holding SampleResults. Three of five
// counted steps pass, so it fails any threshold above 60.
func SampleRun(id string) *report.Run {
	results := SampleResults()
	rep := report.New(io.Discard, report.Options{
		RunID:     id,
		BaseURL:   "http://localhost:8001",
		Threshold: 80,
		NoColor:   true,
		Now:       func() time.Time { return SampleTime },
	})
	for _, res := range results {
		rep.Record(res)
	}
	return rep.Snapshot()
}
