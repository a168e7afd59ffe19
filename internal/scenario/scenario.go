// Package scenario expresses Knowledge Engine checks as small declarative
// cases and runs them against a live engine through the shared client,
// poller and reporter.
package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/check"
	"github.com/thruflo/keqa/internal/logging"
	"github.com/thruflo/keqa/internal/mongoverify"
	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/poll"
	"github.com/thruflo/keqa/internal/report"
)

// Env is what a scenario may use.
type Env struct {
	Client *api.Client
	Poller *poll.Poller
	// Mongo is nil unless MongoDB verification is configured.
	Mongo  mongoverify.Verifier
	Logger *logging.Logger
	RunID  string
}

func (e *Env) log() *logging.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

// Scenario is one named group of steps with its own pass-rate threshold.
type Scenario struct {
	Name        string
	Description string
	// Threshold is the minimum pass rate, in percent.
	Threshold float64
	Tags      []string
	Run       func(ctx context.Context, env *Env, t *T)
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Threshold returns the strictest threshold among scenarios.
func Threshold(scenarios []*Scenario) float64 {
	var highest float64
	for _, s := range scenarios {
		if s.Threshold > highest {
			highest = s.Threshold
		}
	}
	return highest
}

// T records the steps of one scenario run. It is safe for concurrent use.
type T struct {
	scenario string
	record   func(report.Result)
	now      func() time.Time

	mu       sync.Mutex
	mark     time.Time
	count    int
	failures int
}

func newT(scenario string, record func(report.Result), now func() time.Time) *T {
	if now == nil {
		now = time.Now
	}
	return &T{scenario: scenario, record: record, now: now, mark: now()}
}

// Record stores one step. The step's duration is the time since the
// previous step. It returns whether the step passed.
func (t *T) Record(name string, o outcome.Outcome) bool {
	t.mu.Lock()
	now := t.now()
	elapsed := now.Sub(t.mark)
	t.mark = now
	t.count++
	if !o.Passed() && o.Kind != outcome.Skipped {
		t.failures++
	}
	t.mu.Unlock()

	t.record(report.Result{
		Scenario: t.scenario,
		Name:     name,
		Outcome:  o,
		Duration: elapsed,
		Time:     now,
	})
	return o.Passed()
}

// Check records a finding as passing when its Found matches wantIssue.
func (t *T) Check(name string, f check.Finding, wantIssue bool) bool {
	if f.Found == wantIssue {
		return t.Record(name, outcome.OK(f.String()))
	}
	want := "no issue"
	if wantIssue {
		want = "an issue"
	}
	return t.Record(name, outcome.Failf("expected %s, got %s", want, f.String()))
}

// Error records err, or success with okDetail when err is nil.
func (t *T) Error(name string, err error, okDetail string) bool {
	if err != nil {
		return t.Record(name, outcome.FromError(err))
	}
	return t.Record(name, outcome.OK(okDetail))
}

// Skip records a step that could not run.
func (t *T) Skip(name, reason string) {
	t.Record(name, outcome.Skip(reason))
}

// Failed reports whether any recorded step failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures > 0
}

// Count returns the number of recorded steps.
func (t *T) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Expectation is a check expected to find, or not find, an issue.
type Expectation struct {
	Check     string
	WantIssue bool
}

// ContentCase submits Content, waits for the job, fetches the generated
// articles and applies each expectation to them.
type ContentCase struct {
	Name    string
	Content string
	// ContentType selects the endpoint: empty uses the text pipeline,
	// anything else goes to the content pipeline with that type.
	ContentType string
	Metadata    map[string]interface{}
	Expect      []Expectation
}

func (c ContentCase) submit(env *Env) poll.SubmitFunc {
	metadata := map[string]interface{}{"qa_run_id": env.RunID, "qa_case": c.Name}
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	req := api.ProcessRequest{Content: c.Content, ContentType: c.ContentType, Metadata: metadata}
	return func(ctx context.Context) (*api.Submission, error) {
		if c.ContentType == "" {
			return env.Client.ProcessText(ctx, req)
		}
		return env.Client.ProcessContent(ctx, req)
	}
}

// Run executes the case and returns the generated articles, or nil when
// none could be fetched. Expectations that cannot run are skipped.
func (c ContentCase) Run(ctx context.Context, env *Env, t *T) []api.Article {
	skipAll := func(reason string) {
		for _, e := range c.Expect {
			t.Skip(c.Name+"/"+e.Check, reason)
		}
	}

	submitted := t.now()
	res, err := env.Poller.SubmitAndWait(ctx, c.submit(env))
	if !t.Record(c.Name+"/job", outcome.FromPoll(res, err)) {
		skipAll("job did not complete")
		return nil
	}

	articles, err := jobArticles(ctx, env, res.Job, submitted, c.Name)
	if err != nil {
		t.Record(c.Name+"/articles", outcome.FromError(err))
		skipAll("articles unavailable")
		return nil
	}
	if !t.Record(c.Name+"/articles", outcome.Expect(len(articles) > 0,
		fmt.Sprintf("%d article(s) generated", len(articles)), "job produced no articles")) {
		skipAll("no articles")
		return nil
	}

	for _, e := range c.Expect {
		f, err := findAcross(e.Check, articles)
		if err != nil {
			t.Record(c.Name+"/"+e.Check, outcome.Fail(err.Error()))
			continue
		}
		t.Check(c.Name+"/"+e.Check, f, e.WantIssue)
	}
	return articles
}

// jobArticles returns the articles a completed job generated. Engines that
// link neither article_ids nor metadata.job_id fall back to articles
// created since submission: those tagged with this run (and qaCase, when
// set), else the newest one.
func jobArticles(ctx context.Context, env *Env, job *api.Job, submitted time.Time, qaCase string) ([]api.Article, error) {
	articles, err := env.Client.ArticlesForJob(ctx, job)
	if err != nil || len(articles) > 0 {
		return articles, err
	}

	recent, err := env.Client.ArticlesSince(ctx, submitted.Truncate(time.Second))
	if err != nil || len(recent) == 0 {
		return nil, err
	}
	env.log().Warn("job links no articles, matching by creation time", "job_id", job.JobID)

	var tagged []api.Article
	for _, a := range recent {
		if a.Metadata["qa_run_id"] == env.RunID && (qaCase == "" || a.Metadata["qa_case"] == qaCase) {
			tagged = append(tagged, a)
		}
	}
	if len(tagged) > 0 {
		return tagged, nil
	}
	return recent[:1], nil
}

// findAcross runs a check on every article and returns the first finding
// with an issue, else the first article's finding.
func findAcross(name string, articles []api.Article) (check.Finding, error) {
	var first check.Finding
	for i, a := range articles {
		f, err := check.Run(name, a.Content)
		if err != nil {
			return check.Finding{}, err
		}
		if f.Found {
			return f, nil
		}
		if i == 0 {
			first = f
		}
	}
	return first, nil
}
