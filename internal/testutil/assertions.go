package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/report"
)

// AssertKind asserts the outcome kind, showing the detail on mismatch.
func AssertKind(t *testing.T, o outcome.Outcome, expected outcome.Kind) bool {
	t.Helper()
	return assert.Equal(t, expected, o.Kind, "outcome %s", o)
}

// AssertSummary asserts the passed, failed and skipped counts.
func AssertSummary(t *testing.T, s report.Summary, passed, failed, skipped int) {
	t.Helper()
	assert.Equal(t, passed, s.Passed, "passed count mismatch")
	assert.Equal(t, failed, s.Failed, "failed count mismatch")
	assert.Equal(t, skipped, s.Skipped, "skipped count mismatch")
	assert.Equal(t, passed+failed, s.Total, "total count mismatch")
}

// AssertNoFailures fails with one line per failing result.
func AssertNoFailures(t *testing.T, results []report.Result) bool {
	t.Helper()
	var lines []string
	for _, res := range results {
		if !res.Outcome.Passed() && res.Outcome.Kind != outcome.Skipped {
			lines = append(lines, res.Scenario+"/"+res.Name+": "+res.Outcome.String())
		}
	}
	return assert.Empty(t, lines, "failing steps:\n%s", strings.Join(lines, "\n"))
}
