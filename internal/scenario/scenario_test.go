package scenario

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/check"
	"github.com/thruflo/keqa/internal/config"
	"github.com/thruflo/keqa/internal/fakeengine"
	"github.com/thruflo/keqa/internal/history"
	"github.com/thruflo/keqa/internal/logging"
	"github.com/thruflo/keqa/internal/mongoverify"
	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/poll"
	"github.com/thruflo/keqa/internal/report"
	"github.com/thruflo/keqa/internal/testutil"
)

func fastPolicy() config.Polling {
	return config.Polling{
		InitialInterval:    time.Millisecond,
		MaxInterval:        5 * time.Millisecond,
		Multiplier:         1.5,
		Timeout:            2 * time.Second,
		MaxTransientErrors: 3,
	}
}

type harness struct {
	engine   *fakeengine.Engine
	env      *Env
	reporter *report.Reporter
	out      *bytes.Buffer
}

func newHarness(t *testing.T, opts fakeengine.Options) *harness {
	t.Helper()
	e := fakeengine.New(opts)
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL)
	out := &bytes.Buffer{}
	return &harness{
		engine: e,
		env: &Env{
			Client: client,
			Poller: poll.New(client, fastPolicy()),
			Logger: logging.Discard(),
			RunID:  "test-run",
		},
		reporter: report.New(out, report.Options{RunID: "test-run", BaseURL: srv.URL, NoColor: true}),
		out:      out,
	}
}

func (h *harness) run(t *testing.T, scenarios ...*Scenario) []report.Result {
	t.Helper()
	r := &Runner{Env: h.env, Reporter: h.reporter}
	r.Run(context.Background(), scenarios)
	return h.reporter.Results()
}

func find(t *testing.T, results []report.Result, scenario, name string) report.Result {
	t.Helper()
	for _, r := range results {
		if r.Scenario == scenario && r.Name == name {
			return r
		}
	}
	t.Fatalf("no result %s/%s", scenario, name)
	return report.Result{}
}

func failures(results []report.Result) []string {
	var out []string
	for _, r := range results {
		if !r.Outcome.Passed() && r.Outcome.Kind != outcome.Skipped {
			out = append(out, r.Scenario+"/"+r.Name+": "+r.Outcome.String())
		}
	}
	return out
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	all := Default().All()
	names := make([]string, 0, len(all))
	for _, s := range all {
		names = append(names, s.Name)
		assert.GreaterOrEqual(t, s.Threshold, 60.0, s.Name)
		assert.LessOrEqual(t, s.Threshold, 100.0, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
	}
	assert.Equal(t, []string{
		"health", "duplicate-detection", "code-blocks", "toc-anchors", "content-quality",
		"library-crud", "upload", "training", "assets", "media", "qa-diagnostics",
		"cross-article", "concurrency", "mongo-verify",
	}, names)
}

func TestAllScenariosPassAgainstHealthyEngine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	results := h.run(t, Default().All()...)

	testutil.AssertNoFailures(t, results)
	assert.Equal(t, outcome.Skipped, find(t, results, "mongo-verify", "count").Outcome.Kind)

	all := Default().All()
	assert.Equal(t, 0, h.reporter.ExitCode(Threshold(all)))
	assert.Equal(t, 100.0, Threshold(all))
}

func TestDuplicateDetection_FlagsRepeatedSentences(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	results := h.run(t, DuplicateDetection())

	dup := find(t, results, "duplicate-detection", "duplicated/duplicate_text")
	assert.True(t, dup.Outcome.Passed())
	assert.Contains(t, dup.Outcome.Detail, "issue found")

	control := find(t, results, "duplicate-detection", "distinct/duplicate_text")
	assert.True(t, control.Outcome.Passed())
	assert.Contains(t, control.Outcome.Detail, "clean")
}

func TestContentCases_UnlinkedArticlesMatchedByCreationTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{Faults: fakeengine.Faults{UnlinkedArticles: true}})

	results := h.run(t, DuplicateDetection(), CodeBlocks(), Upload(), Training())
	testutil.AssertNoFailures(t, results)
	assert.True(t, find(t, results, "training", "articles").Outcome.Passed())

	dup := find(t, results, "duplicate-detection", "duplicated/duplicate_text")
	assert.Contains(t, dup.Outcome.Detail, "issue found")

	control := find(t, results, "duplicate-detection", "distinct/duplicate_text")
	assert.True(t, control.Outcome.Passed())
	assert.Contains(t, control.Outcome.Detail, "clean")

	for _, a := range h.engine.Articles() {
		assert.Empty(t, a.JobID())
	}
}

func TestContentCase_PrefersTaggedArticles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	tagged := h.engine.AddArticle(api.NewArticle{
		Title:    "Tagged",
		Content:  "<p>Tagged body.</p>",
		Metadata: map[string]interface{}{"qa_run_id": "test-run", "qa_case": "tagged"},
	})
	h.engine.AddArticle(api.NewArticle{Title: "Newer", Content: "<p>Newer body.</p>"})

	since := time.Now().Add(-time.Minute)
	got, err := jobArticles(context.Background(), h.env, &api.Job{JobID: "unlinked"}, since, "tagged")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tagged.ID, got[0].ID)

	got, err = jobArticles(context.Background(), h.env, &api.Job{JobID: "unlinked"}, since, "other")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Newer", got[0].Title)
}

func TestCodeBlocks_NoCodePassesTrivially(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	results := h.run(t, CodeBlocks())

	r := find(t, results, "code-blocks", "no-code/unenhanced_code_blocks")
	assert.True(t, r.Outcome.Passed())
	assert.Contains(t, r.Outcome.Detail, "no code blocks to enhance")

	blocks := find(t, results, "code-blocks", "with-code/blocks-present")
	assert.True(t, blocks.Outcome.Passed())
	assert.Contains(t, blocks.Outcome.Detail, "python")
}

func TestLibraryCRUD_BadIDIsClassified404(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	results := h.run(t, LibraryCRUD())

	assert.Empty(t, failures(results))
	bad := find(t, results, "library-crud", "update-bad-id")
	assert.True(t, bad.Outcome.Passed())
	assert.Equal(t, "classified 404_not_found", bad.Outcome.Detail)
	assert.Empty(t, h.engine.Articles(), "the created article is deleted")
}

func TestFailedJobsAreServerErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{Faults: fakeengine.Faults{FailJobs: true, FailMessage: "model unavailable"}})

	results := h.run(t, TOCAnchors())

	job := find(t, results, "toc-anchors", "headings/job")
	assert.Equal(t, outcome.ServerError, job.Outcome.Kind)
	assert.Equal(t, "job_failed", job.Label)
	assert.Equal(t, "model unavailable", job.Outcome.Detail)

	anchors := find(t, results, "toc-anchors", "headings/broken_anchors")
	assert.Equal(t, outcome.Skipped, anchors.Outcome.Kind)

	s := h.reporter.Summary()
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 3, s.Skipped)
	assert.Equal(t, 1, h.reporter.ExitCode(90))
}

func TestPhantomLinksFailTOCAnchors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{Faults: fakeengine.Faults{PhantomLinks: true}})

	results := h.run(t, TOCAnchors())

	broken := find(t, results, "toc-anchors", "headings/broken_anchors")
	assert.Equal(t, outcome.AssertionFailure, broken.Outcome.Kind)
	assert.Contains(t, broken.Outcome.Detail, "expected no issue")

	toc := find(t, results, "toc-anchors", "headings/mini_toc")
	assert.False(t, toc.Outcome.Passed())
}

func TestUnavailableEngine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{Faults: fakeengine.Faults{Unavailable: true}})

	results := h.run(t, Health())

	r := find(t, results, "health", "health")
	assert.Equal(t, outcome.ServerError, r.Outcome.Kind)
	assert.Equal(t, "503_server_error", r.Label)
	assert.Equal(t, 1, h.reporter.ExitCode(100))
}

func TestNeverCompletingJobTimesOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{Faults: fakeengine.Faults{NeverComplete: true}})
	policy := fastPolicy()
	policy.Timeout = 50 * time.Millisecond
	h.env.Poller = poll.New(h.env.Client, policy)

	results := h.run(t, Upload())

	job := find(t, results, "upload", "job")
	assert.Equal(t, outcome.Timeout, job.Outcome.Kind)
	assert.Equal(t, outcome.Skipped, find(t, results, "upload", "articles").Outcome.Kind)
}

func TestConcurrency(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{PollsToComplete: 3})

	results := h.run(t, Concurrency())

	assert.Empty(t, failures(results))
	assert.Equal(t, concurrentJobs, h.engine.JobCount())
	all := find(t, results, "concurrency", "all-terminal")
	assert.Equal(t, "3/3 jobs reached a terminal state", all.Outcome.Detail)
}

func TestCrossArticle(t *testing.T) {
	t.Parallel()

	t.Run("too few articles", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, fakeengine.Options{})
		results := h.run(t, CrossArticle())
		assert.Equal(t, outcome.Skipped, find(t, results, "cross-article", "similar-titles").Outcome.Kind)
	})

	t.Run("near duplicates", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, fakeengine.Options{})
		h.engine.AddArticle(api.NewArticle{Title: "Installing the agent", Content: "<p>Download the agent and run the installer on each host.</p>"})
		h.engine.AddArticle(api.NewArticle{Title: "Installing the agents", Content: "<p>Download the agent and run the installer on every host.</p>"})

		results := h.run(t, CrossArticle())
		titles := find(t, results, "cross-article", "similar-titles")
		assert.False(t, titles.Outcome.Passed())
		assert.Contains(t, titles.Outcome.Detail, "1 pair(s)")
		assert.False(t, find(t, results, "cross-article", "content-overlap").Outcome.Passed())
	})
}

type stubVerifier struct {
	count int64
	docs  []mongoverify.Document
	err   error
}

func (s stubVerifier) CountArticles(context.Context) (int64, error) { return s.count, s.err }
func (s stubVerifier) SampleArticles(context.Context, int) ([]mongoverify.Document, error) {
	return s.docs, s.err
}
func (s stubVerifier) Close(context.Context) error { return nil }

func TestMongoVerify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		verifier   stubVerifier
		wantCount  outcome.Kind
		wantFields outcome.Kind
	}{
		{
			name: "consistent",
			verifier: stubVerifier{count: 1, docs: []mongoverify.Document{
				{"_id": "x", "id": "a", "title": "T", "content": true},
			}},
			wantCount:  outcome.Ok,
			wantFields: outcome.Ok,
		},
		{
			name:       "fewer stored than listed",
			verifier:   stubVerifier{count: 0, docs: []mongoverify.Document{{"id": "a"}}},
			wantCount:  outcome.AssertionFailure,
			wantFields: outcome.AssertionFailure,
		},
		{
			name:       "database error",
			verifier:   stubVerifier{err: errors.New("connection refused")},
			wantCount:  outcome.NetworkError,
			wantFields: outcome.NetworkError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, fakeengine.Options{})
			h.engine.AddArticle(api.NewArticle{Title: "Stored", Content: "<p>x</p>"})
			h.env.Mongo = tt.verifier

			results := h.run(t, MongoVerify())
			assert.Equal(t, tt.wantCount, find(t, results, "mongo-verify", "count").Outcome.Kind)
			assert.Equal(t, tt.wantFields, find(t, results, "mongo-verify", "fields").Outcome.Kind)
		})
	}
}

func TestReadOnlyScenariosAreIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})
	h.engine.AddArticle(api.NewArticle{Title: "Billing overview", Content: "<p>How invoices are produced.</p>"})
	h.engine.AddArticle(api.NewArticle{Title: "Single sign-on", Content: "<p>Configure SAML for your organisation.</p>"})

	readonly, err := Default().Select("tag:readonly")
	require.NoError(t, err)

	snapshot := func() *report.Run {
		rep := report.New(&bytes.Buffer{}, report.Options{NoColor: true})
		(&Runner{Env: h.env, Reporter: rep}).Run(context.Background(), readonly)
		return rep.Snapshot()
	}

	first, second := snapshot(), snapshot()
	assert.Empty(t, history.Diff(first, second))
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRunner_RecoversPanics(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	boom := &Scenario{Name: "boom", Threshold: 100, Run: func(_ context.Context, _ *Env, t *T) {
		t.Record("before", outcome.OK(""))
		var m map[string]int
		m["x"] = 1
	}}
	after := &Scenario{Name: "after", Threshold: 100, Run: func(_ context.Context, _ *Env, t *T) {
		t.Record("ran", outcome.OK(""))
	}}

	results := h.run(t, boom, after)
	require.Len(t, results, 3)
	p := find(t, results, "boom", "panic")
	assert.Equal(t, outcome.AssertionFailure, p.Outcome.Kind)
	assert.Contains(t, p.Outcome.Detail, "assignment to entry in nil map")
	assert.True(t, find(t, results, "after", "ran").Outcome.Passed())
	assert.Contains(t, h.out.String(), "SCENARIO after")
}

func TestRunner_CancelledContextSkipsRemaining(t *testing.T) {
	t.Parallel()
	rep := report.New(&bytes.Buffer{}, report.Options{NoColor: true})
	ctx, cancel := context.WithCancel(context.Background())

	first := &Scenario{Name: "first", Run: func(_ context.Context, _ *Env, t *T) {
		t.Record("step", outcome.OK(""))
		cancel()
	}}
	second := &Scenario{Name: "second", Run: func(_ context.Context, _ *Env, t *T) {
		t.Record("step", outcome.OK(""))
	}}

	(&Runner{Env: &Env{}, Reporter: rep}).Run(ctx, []*Scenario{first, second})

	results := rep.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "run", results[1].Name)
	assert.Equal(t, outcome.Skipped, results[1].Outcome.Kind)
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds map[string][]outcome.Kind
}

func (o *recordingObserver) ObserveOutcome(scenario string, out outcome.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = map[string][]outcome.Kind{}
	}
	o.kinds[scenario] = append(o.kinds[scenario], out.Kind)
}

func TestRunner_NotifiesObserver(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	rep := report.New(&bytes.Buffer{}, report.Options{NoColor: true})
	s := &Scenario{Name: "obs", Run: func(_ context.Context, _ *Env, t *T) {
		t.Record("a", outcome.OK(""))
		t.Skip("b", "later")
	}}

	(&Runner{Env: &Env{}, Reporter: rep, Observer: obs}).Run(context.Background(), []*Scenario{s})
	assert.Equal(t, []outcome.Kind{outcome.Ok, outcome.Skipped}, obs.kinds["obs"])
}

func TestT(t *testing.T) {
	t.Parallel()

	clock := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	var got []report.Result
	tt := newT("s", func(r report.Result) { got = append(got, r) }, now)

	clock = clock.Add(250 * time.Millisecond)
	assert.True(t, tt.Record("first", outcome.OK("")))
	clock = clock.Add(time.Second)
	assert.False(t, tt.Check("second", check.Finding{Check: "x", Found: true, Detail: "d"}, false))
	assert.True(t, tt.Check("third", check.Finding{Check: "x", Found: true, Detail: "d"}, true))
	assert.False(t, tt.Error("fourth", errors.New("dial tcp: refused"), ""))
	tt.Skip("fifth", "why")

	require.Len(t, got, 5)
	assert.Equal(t, 250*time.Millisecond, got[0].Duration)
	assert.Equal(t, time.Second, got[1].Duration)
	assert.Equal(t, "expected no issue, got x: issue found (d)", got[1].Outcome.Detail)
	assert.Equal(t, outcome.NetworkError, got[3].Outcome.Kind)
	assert.True(t, tt.Failed())
	assert.Equal(t, 5, tt.Count())
}

func TestContentCase_UnknownCheck(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	s := &Scenario{Name: "custom", Run: runCases([]ContentCase{{
		Name:    "c",
		Content: "Plain text.",
		Expect:  []Expectation{{Check: "no_such_check"}},
	}})}
	results := h.run(t, s)

	r := find(t, results, "custom", "c/no_such_check")
	assert.Equal(t, outcome.AssertionFailure, r.Outcome.Kind)
	assert.True(t, strings.Contains(r.Outcome.Detail, "unknown check"))
}

func TestContentCase_ContentTypeUsesProcessEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fakeengine.Options{})

	articles := ContentCase{Name: "html", Content: "<h2 id=\"a\">A</h2><p>Body.</p>", ContentType: "html"}.
		Run(context.Background(), h.env, newT("x", func(report.Result) {}, nil))
	require.Len(t, articles, 1)
	assert.Equal(t, "html", articles[0].Metadata["qa_case"])
	assert.Equal(t, "test-run", articles[0].Metadata["qa_run_id"])
}
