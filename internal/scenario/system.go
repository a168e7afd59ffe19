package scenario

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/check"
	"github.com/thruflo/keqa/internal/mongoverify"
	"github.com/thruflo/keqa/internal/outcome"
)

// mongoSampleSize is how many stored documents mongo-verify inspects.
const mongoSampleSize = 5

// Health probes the health and engine endpoints.
func Health() *Scenario {
	return &Scenario{
		Name:        "health",
		Description: "backend reports healthy and the engine endpoint answers",
		Threshold:   100,
		Tags:        []string{"smoke", "readonly"},
		Run: func(ctx context.Context, env *Env, t *T) {
			h, err := env.Client.Health(ctx)
			if err != nil {
				t.Record("health", outcome.FromError(err))
			} else {
				t.Record("health", outcome.Expect(h.Healthy(), "status "+h.Status, fmt.Sprintf("status %q", h.Status)))
			}

			e, err := env.Client.Engine(ctx)
			if err != nil {
				t.Record("engine", outcome.FromError(err))
				return
			}
			enabled := 0
			for _, on := range e.Features {
				if on {
					enabled++
				}
			}
			t.Record("engine", outcome.OK(fmt.Sprintf("status %s, %d features enabled", e.Status, enabled)))
		},
	}
}

// Assets exercises the media asset library.
func Assets() *Scenario {
	return &Scenario{
		Name:        "assets",
		Description: "asset upload yields a servable URL and can be deleted",
		Threshold:   80,
		Tags:        []string{"library"},
		Run: func(ctx context.Context, env *Env, t *T) {
			assets, err := env.Client.ListAssets(ctx)
			switch {
			case err != nil:
				t.Record("list", outcome.FromError(err))
			case len(assets) == 0:
				env.log().Warn("asset library is empty")
				t.Record("list", outcome.OK("asset library is empty"))
			default:
				t.Record("list", outcome.OK(fmt.Sprintf("%d asset(s)", len(assets))))
			}

			asset, err := env.Client.UploadAsset(ctx, "keqa-pixel.png", bytes.NewReader(pixelPNG))
			if !t.Error("upload", err, "") {
				t.Skip("real-url", "upload failed")
				t.Skip("delete", "upload failed")
				return
			}

			img := check.Images(fmt.Sprintf(`<img src="%s">`, asset.URL))
			t.Record("real-url", outcome.Expect(img.RealURLs == 1, "served at "+asset.URL,
				fmt.Sprintf("asset URL %q is not a real URL", asset.URL)))

			t.Error("delete", env.Client.DeleteAsset(ctx, asset.ID), "")
		},
	}
}

// Media asks both media endpoints to analyze a tiny image.
func Media() *Scenario {
	return &Scenario{
		Name:        "media",
		Description: "media intelligence returns a non-empty analysis",
		Threshold:   80,
		Tags:        []string{"media"},
		Run: func(ctx context.Context, env *Env, t *T) {
			req := api.MediaRequest{
				MediaData: base64.StdEncoding.EncodeToString(pixelPNG),
				MediaType: "image/png",
				AltText:   "Single pixel test image",
				Context:   "Used by the QA harness to exercise media analysis.",
			}
			calls := []struct {
				name string
				fn   func(context.Context, api.MediaRequest) (*api.MediaAnalysis, error)
			}{
				{"media-intelligence", env.Client.MediaIntelligence},
				{"analyze", env.Client.AnalyzeMedia},
			}
			for _, c := range calls {
				a, err := c.fn(ctx, req)
				if err != nil {
					t.Record(c.name, outcome.FromError(err))
					continue
				}
				t.Record(c.name, outcome.Expect(!a.Empty(), describeAnalysis(a), "analysis is empty"))
			}
		},
	}
}

func describeAnalysis(a *api.MediaAnalysis) string {
	parts := []string{}
	if a.Caption != "" {
		parts = append(parts, fmt.Sprintf("caption %q", a.Caption))
	}
	if len(a.Objects) > 0 {
		parts = append(parts, fmt.Sprintf("%d object(s)", len(a.Objects)))
	}
	if a.Description != "" {
		parts = append(parts, "described")
	}
	return strings.Join(parts, ", ")
}

// QADiagnostics reads the engine's own QA and subsystem diagnostics.
func QADiagnostics() *Scenario {
	return &Scenario{
		Name:        "qa-diagnostics",
		Description: "QA, code normalization and evidence tagging diagnostics decode",
		Threshold:   80,
		Tags:        []string{"readonly"},
		Run: func(ctx context.Context, env *Env, t *T) {
			qa, err := env.Client.QADiagnostics(ctx, "")
			if err != nil {
				t.Record("qa-report", outcome.FromError(err))
			} else {
				t.Record("qa-report", outcome.OK(fmt.Sprintf("%d duplicate(s), %d invalid link(s), %d duplicate FAQ(s), %d terminology issue(s)",
					len(qa.Duplicates), len(qa.InvalidLinks), len(qa.DuplicateFAQs), len(qa.TerminologyIssues))))
				if len(qa.InvalidLinks) > 0 {
					env.log().Warn("engine reports invalid links", "count", len(qa.InvalidLinks))
				}
			}

			for _, d := range []struct {
				name string
				fn   func(context.Context) (api.Diagnostics, error)
			}{
				{"code-normalization", env.Client.CodeNormalizationDiagnostics},
				{"evidence-tagging", env.Client.EvidenceTaggingDiagnostics},
			} {
				snap, err := d.fn(ctx)
				if err != nil {
					t.Record(d.name, outcome.FromError(err))
					continue
				}
				t.Record(d.name, outcome.Expect(len(snap) > 0, fmt.Sprintf("%d field(s)", len(snap)), "empty diagnostics"))
			}
		},
	}
}

// MongoVerify compares the API's view of the library with what is stored.
// It is skipped when MongoDB is not configured.
func MongoVerify() *Scenario {
	return &Scenario{
		Name:        "mongo-verify",
		Description: "stored articles match the API and carry required fields",
		Threshold:   100,
		Tags:        []string{"readonly"},
		Run: func(ctx context.Context, env *Env, t *T) {
			if env.Mongo == nil {
				t.Skip("count", "mongo not configured")
				t.Skip("fields", "mongo not configured")
				return
			}

			list, err := env.Client.ListArticles(ctx)
			if err != nil {
				t.Record("count", outcome.FromError(err))
			} else if stored, err := env.Mongo.CountArticles(ctx); err != nil {
				t.Record("count", outcome.FromError(err))
			} else {
				t.Record("count", outcome.Expect(stored >= int64(list.Total),
					fmt.Sprintf("%d stored, %d via API", stored, list.Total),
					fmt.Sprintf("only %d stored but API lists %d", stored, list.Total)))
			}

			docs, err := env.Mongo.SampleArticles(ctx, mongoSampleSize)
			if err != nil {
				t.Record("fields", outcome.FromError(err))
				return
			}
			if len(docs) == 0 {
				t.Skip("fields", "no stored articles")
				return
			}
			var problems []string
			for i, doc := range docs {
				if missing := mongoverify.MissingFields(doc, mongoverify.RequiredFields...); len(missing) > 0 {
					problems = append(problems, fmt.Sprintf("document %d lacks %s", i, strings.Join(missing, ", ")))
				}
			}
			t.Record("fields", outcome.Expect(len(problems) == 0,
				fmt.Sprintf("%d sampled document(s) complete", len(docs)), strings.Join(problems, "; ")))
		},
	}
}
