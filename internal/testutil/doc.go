// Package testutil provides shared test helpers for keqa.
//
// # Fixtures
//
//   - SampleConfigYAML - a minimal .keqa/config.yaml
//   - SampleResults() - step results covering every outcome kind
//   - SampleRun(id) - a finished run record built from SampleResults
//
// # Environment Helpers
//
//   - SetupTestDir(t, baseURL) - temp directory with a .keqa config
//   - LiveEngineURL(t) - base URL of a real engine, skips if unset
//   - MustMarshalJSON, MustUnmarshalJSON, WriteTestFile
//
// # Assertions
//
//   - AssertKind(t, o, kind) - outcome kind with detail in the message
//   - AssertSummary(t, s, passed, failed, skipped)
//   - AssertNoFailures(t, results) - lists every failing step
//
// # Cleanup
//
// Tests against a live engine register the articles they create with
// RegisterArticle and delete them with CleanupArticles.
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    dir := testutil.SetupTestDir(t, srv.URL)
//	    ctx, cancel := testutil.JobContext(t)
//	    defer cancel()
//	    // ... run test ...
//	    testutil.AssertSummary(t, rep.Summary(), 3, 0, 0)
//	}
package testutil
