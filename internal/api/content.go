package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ProcessContent submits content to the processing pipeline.
func (c *Client) ProcessContent(ctx context.Context, req ProcessRequest) (*Submission, error) {
	return c.submit(ctx, c.routes.ContentProcess, req.Content, req)
}

// ProcessText submits plain text to the text pipeline.
func (c *Client) ProcessText(ctx context.Context, req ProcessRequest) (*Submission, error) {
	return c.submit(ctx, c.routes.ContentProcessText, req.Content, req)
}

// ProcessTraining submits content with a template's training instructions.
func (c *Client) ProcessTraining(ctx context.Context, req TrainingRequest) (*Submission, error) {
	return c.submit(ctx, c.routes.TrainingProcess, req.Content, req)
}

func (c *Client) submit(ctx context.Context, path, content string, body interface{}) (*Submission, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyPayload
	}
	var sub Submission
	if err := c.doJSON(ctx, http.MethodPost, path, body, &sub); err != nil {
		return nil, err
	}
	if sub.JobID == "" {
		return nil, fmt.Errorf("%w: submission to %s returned no job_id", ErrInvalidResponse, path)
	}
	return &sub, nil
}

// UploadContent uploads a file as multipart form data with an optional
// JSON metadata field.
func (c *Client) UploadContent(ctx context.Context, filename string, r io.Reader, metadata map[string]interface{}) (*Submission, error) {
	body, contentType, err := multipartBody(filename, r, metadata)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, http.MethodPost, c.routes.ContentUpload, body, contentType)
	if err != nil {
		return nil, err
	}

	var sub Submission
	if err := decode(c.routes.ContentUpload, data, &sub); err != nil {
		return nil, err
	}
	if sub.JobID == "" {
		return nil, fmt.Errorf("%w: upload to %s returned no job_id", ErrInvalidResponse, c.routes.ContentUpload)
	}
	return &sub, nil
}

// multipartBody builds a form with a "file" part and, when metadata is
// non-nil, a "metadata" field. Empty files are rejected.
func multipartBody(filename string, r io.Reader, metadata map[string]interface{}) (io.Reader, string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(content) == 0 {
		return nil, "", ErrEmptyPayload
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}

	if metadata != nil {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if err := w.WriteField("metadata", string(meta)); err != nil {
			return nil, "", fmt.Errorf("failed to write metadata: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// GetJob returns the current state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodGet, join(c.routes.Jobs, jobID), nil, &job); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return &job, nil
}

// ArticlesForJob returns the articles a completed job produced. It uses the
// job's article_ids when present and otherwise filters the library by
// metadata.job_id.
func (c *Client) ArticlesForJob(ctx context.Context, job *Job) ([]Article, error) {
	if len(job.ArticleIDs) > 0 {
		articles := make([]Article, 0, len(job.ArticleIDs))
		for _, id := range job.ArticleIDs {
			a, err := c.GetArticle(ctx, id)
			if err != nil {
				return nil, err
			}
			articles = append(articles, *a)
		}
		return articles, nil
	}

	list, err := c.ListArticles(ctx)
	if err != nil {
		return nil, err
	}
	var articles []Article
	for _, a := range list.Articles {
		if a.JobID() == job.JobID {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

// ArticlesSince returns library articles created at or after since, newest
// first. Articles without a parseable created_at are left out. Equal
// timestamps keep the later-listed article first.
func (c *Client) ArticlesSince(ctx context.Context, since time.Time) ([]Article, error) {
	list, err := c.ListArticles(ctx)
	if err != nil {
		return nil, err
	}

	var articles []Article
	for i := len(list.Articles) - 1; i >= 0; i-- {
		a := list.Articles[i]
		if created, ok := a.Created(); ok && !created.Before(since) {
			articles = append(articles, a)
		}
	}
	sort.SliceStable(articles, func(i, j int) bool {
		ti, _ := articles[i].Created()
		tj, _ := articles[j].Created()
		return ti.After(tj)
	})
	return articles, nil
}
