package scenario

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/poll"
)

// concurrentJobs is how many submissions the concurrency scenario makes at
// once.
const concurrentJobs = 3

// Upload submits a file through the multipart endpoint.
func Upload() *Scenario {
	return &Scenario{
		Name:        "upload",
		Description: "multipart file upload produces articles",
		Threshold:   100,
		Tags:        []string{"jobs"},
		Run: func(ctx context.Context, env *Env, t *T) {
			submit := func(ctx context.Context) (*api.Submission, error) {
				return env.Client.UploadContent(ctx, "keqa-upload.md", strings.NewReader(uploadText),
					map[string]interface{}{"qa_run_id": env.RunID})
			}
			waitForArticles(ctx, env, t, submit)
		},
	}
}

// Training submits content with template instructions.
func Training() *Scenario {
	return &Scenario{
		Name:        "training",
		Description: "training pipeline with template instructions produces articles",
		Threshold:   100,
		Tags:        []string{"jobs"},
		Run: func(ctx context.Context, env *Env, t *T) {
			submit := func(ctx context.Context) (*api.Submission, error) {
				return env.Client.ProcessTraining(ctx, api.TrainingRequest{
					TemplateID:   trainingTemplate,
					Instructions: trainingInstructions,
					Content:      trainingText,
					Metadata:     map[string]interface{}{"qa_run_id": env.RunID},
				})
			}
			waitForArticles(ctx, env, t, submit)
		},
	}
}

func waitForArticles(ctx context.Context, env *Env, t *T, submit poll.SubmitFunc) {
	submitted := t.now()
	res, err := env.Poller.SubmitAndWait(ctx, submit)
	if !t.Record("job", outcome.FromPoll(res, err)) {
		t.Skip("articles", "job did not complete")
		return
	}
	articles, err := jobArticles(ctx, env, res.Job, submitted, "")
	if err != nil {
		t.Record("articles", outcome.FromError(err))
		return
	}
	t.Record("articles", outcome.Expect(len(articles) > 0,
		fmt.Sprintf("%d article(s) generated", len(articles)), "job produced no articles"))
}

// Concurrency submits several jobs at once and expects every one of them
// to reach a terminal state.
func Concurrency() *Scenario {
	return &Scenario{
		Name:        "concurrency",
		Description: fmt.Sprintf("%d simultaneous submissions all finish", concurrentJobs),
		Threshold:   100,
		Tags:        []string{"jobs"},
		Run:         runConcurrency,
	}
}

func runConcurrency(ctx context.Context, env *Env, t *T) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrentJobs)

	results := make([]*poll.Result, concurrentJobs)
	for i := 0; i < concurrentJobs; i++ {
		i := i
		g.Go(func() error {
			content := fmt.Sprintf("# Concurrent Submission %d\nThis is parallel submission number %d of run %s.", i+1, i+1, env.RunID)
			res, err := env.Poller.SubmitAndWait(gctx, func(ctx context.Context) (*api.Submission, error) {
				return env.Client.ProcessText(ctx, api.ProcessRequest{
					Content:  content,
					Metadata: map[string]interface{}{"qa_run_id": env.RunID, "qa_case": fmt.Sprintf("concurrent-%d", i+1)},
				})
			})
			results[i] = res
			t.Record(fmt.Sprintf("job-%d", i+1), terminal(res, err))
			// Failures are recorded, not propagated, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	finished := 0
	for _, res := range results {
		if res != nil && res.State != poll.StateTimeout {
			finished++
		}
	}
	t.Record("all-terminal", outcome.Expect(finished == concurrentJobs,
		fmt.Sprintf("%d/%d jobs reached a terminal state", finished, concurrentJobs),
		fmt.Sprintf("only %d/%d jobs reached a terminal state", finished, concurrentJobs)))
}

// terminal passes when a job finished, whether it completed or failed.
func terminal(res *poll.Result, err error) outcome.Outcome {
	if err != nil {
		return outcome.FromError(err)
	}
	if res.State == poll.StateTimeout {
		return outcome.FromPoll(res, nil)
	}
	return outcome.OK(fmt.Sprintf("job %s %s after %d polls", res.Job.JobID, res.State, res.Attempts))
}
