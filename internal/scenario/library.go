package scenario

import (
	"context"
	"fmt"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/check"
	"github.com/thruflo/keqa/internal/outcome"
)

// LibraryCRUD walks an article through create, read, rename, publish and
// delete, then expects an update of an unknown id to be a classified 404.
func LibraryCRUD() *Scenario {
	return &Scenario{
		Name:        "library-crud",
		Description: "content library create, read, update, publish and delete",
		Threshold:   100,
		Tags:        []string{"library"},
		Run:         runLibraryCRUD,
	}
}

func runLibraryCRUD(ctx context.Context, env *Env, t *T) {
	c := env.Client
	title := "KEQA CRUD " + env.RunID

	created, err := c.CreateArticle(ctx, api.NewArticle{
		Title:    title,
		Content:  "<h2 id=\"intro\">Intro</h2><p>Created by the QA harness.</p>",
		Status:   api.ArticleDraft,
		Metadata: map[string]interface{}{"qa_run_id": env.RunID},
	})
	if !t.Error("create", err, "") {
		for _, step := range []string{"read", "rename", "publish", "list", "delete", "read-deleted"} {
			t.Skip(step, "article was not created")
		}
	} else {
		id := created.ID
		t.Record("create-id", outcome.Expect(id != "", "article id "+id, "created article has no id"))

		got, err := c.GetArticle(ctx, id)
		if err != nil {
			t.Record("read", outcome.FromError(err))
		} else {
			t.Record("read", outcome.Expect(got.Title == title, "title round-trips",
				fmt.Sprintf("title %q, want %q", got.Title, title)))
		}

		renamed := title + " (renamed)"
		updated, err := c.UpdateArticle(ctx, id, api.ArticleUpdate{Title: renamed})
		if err != nil {
			t.Record("rename", outcome.FromError(err))
		} else {
			t.Record("rename", outcome.Expect(updated.Title == renamed, "title updated",
				fmt.Sprintf("title %q after rename", updated.Title)))
		}

		published, err := c.UpdateArticle(ctx, id, api.ArticleUpdate{Status: api.ArticlePublished})
		if err != nil {
			t.Record("publish", outcome.FromError(err))
		} else {
			t.Record("publish", outcome.Expect(published.Status == api.ArticlePublished, "status published",
				fmt.Sprintf("status %q after publish", published.Status)))
		}

		list, err := c.ListArticles(ctx)
		if err != nil {
			t.Record("list", outcome.FromError(err))
		} else {
			found := false
			for _, a := range list.Articles {
				if a.ID == id {
					found = true
					break
				}
			}
			t.Record("list", outcome.Expect(found, fmt.Sprintf("article listed among %d", list.Total), "article missing from library listing"))
		}

		t.Error("delete", c.DeleteArticle(ctx, id), "")

		_, err = c.GetArticle(ctx, id)
		t.Record("read-deleted", expectStatus(err, 404))
	}

	_, err = c.UpdateArticle(ctx, "nonexistent-"+env.RunID, api.ArticleUpdate{Title: "x"})
	t.Record("update-bad-id", expectStatus(err, 404))
}

// expectStatus passes when err is an HTTP error with the given status.
func expectStatus(err error, status int) outcome.Outcome {
	if err == nil {
		return outcome.Failf("expected HTTP %d, request succeeded", status)
	}
	o := outcome.FromError(err)
	if o.Kind == outcome.ServerError && o.StatusCode == status {
		return outcome.OK("classified " + o.Label())
	}
	return outcome.Failf("expected HTTP %d, got %s", status, o)
}

// CrossArticle looks for near-duplicate titles and overlapping content
// across the whole library. It is advisory, hence the low threshold.
func CrossArticle() *Scenario {
	return &Scenario{
		Name:        "cross-article",
		Description: "no near-duplicate titles or heavily overlapping articles",
		Threshold:   60,
		Tags:        []string{"library", "readonly"},
		Run: func(ctx context.Context, env *Env, t *T) {
			list, err := env.Client.ListArticles(ctx)
			if !t.Error("list", err, "") {
				return
			}
			if len(list.Articles) < 2 {
				t.Skip("similar-titles", "fewer than two articles")
				t.Skip("content-overlap", "fewer than two articles")
				return
			}

			titles := check.SimilarTitles(list.Articles, check.DefaultTitleThreshold)
			t.Record("similar-titles", outcome.Expect(len(titles) == 0,
				fmt.Sprintf("%d articles, no titles above %.0f%% similarity", len(list.Articles), check.DefaultTitleThreshold*100),
				describePairs(titles)))

			overlap := check.OverlappingContent(list.Articles, check.DefaultOverlapThreshold)
			t.Record("content-overlap", outcome.Expect(len(overlap) == 0,
				fmt.Sprintf("no article pairs above %.0f%% word overlap", check.DefaultOverlapThreshold*100),
				describePairs(overlap)))
		},
	}
}

func describePairs(pairs []check.Pair) string {
	if len(pairs) == 0 {
		return ""
	}
	p := pairs[0]
	return fmt.Sprintf("%d pair(s), e.g. %q and %q at %.2f", len(pairs), p.TitleA, p.TitleB, p.Score)
}
