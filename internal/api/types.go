package api

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Job statuses reported by the engine.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job is an asynchronous unit of engine work.
type Job struct {
	JobID             string   `json:"job_id"`
	Status            string   `json:"status"`
	Error             string   `json:"error,omitempty"`
	ChunksCreated     int      `json:"chunks_created,omitempty"`
	ArticlesGenerated int      `json:"articles_generated,omitempty"`
	ArticleIDs        []string `json:"article_ids,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Submission is the engine's reply to a content submission.
type Submission struct {
	JobID         string `json:"job_id"`
	SessionID     string `json:"session_id,omitempty"`
	ChunksCreated int    `json:"chunks_created,omitempty"`
	Status        string `json:"status,omitempty"`
}

// ProcessRequest submits raw content for article generation.
type ProcessRequest struct {
	Content     string                 `json:"content"`
	ContentType string                 `json:"content_type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// TrainingRequest submits content together with a template's instructions.
type TrainingRequest struct {
	TemplateID   string                 `json:"template_id"`
	Instructions string                 `json:"training_instructions,omitempty"`
	Content      string                 `json:"content"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Article statuses.
const (
	ArticleDraft     = "draft"
	ArticlePublished = "published"
)

// Article is a content-library entry. Content is HTML.
type Article struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Status    string                 `json:"status,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt string                 `json:"created_at,omitempty"`
	WordCount int                    `json:"word_count,omitempty"`
}

// JobID returns metadata.job_id when the engine recorded it.
func (a *Article) JobID() string {
	if a.Metadata == nil {
		return ""
	}
	if id, ok := a.Metadata["job_id"].(string); ok {
		return id
	}
	return ""
}

// createdLayouts are the created_at formats engines are known to send. Naive
// timestamps are read as UTC.
var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Created parses created_at.
func (a *Article) Created() (time.Time, bool) {
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, a.CreatedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ArticleList is the content-library listing.
type ArticleList struct {
	Total    int       `json:"total"`
	Articles []Article `json:"articles"`
}

// NewArticle is the body of a create call.
type NewArticle struct {
	Title    string                 `json:"title"`
	Content  string                 `json:"content"`
	Status   string                 `json:"status,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ArticleUpdate is the body of an update call. Empty fields are left
// unchanged.
type ArticleUpdate struct {
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content,omitempty"`
	Status  string   `json:"status,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Asset is an uploaded media file.
type Asset struct {
	ID        string `json:"id"`
	Filename  string `json:"filename,omitempty"`
	URL       string `json:"url,omitempty"`
	AssetType string `json:"asset_type,omitempty"`
}

// Health is the /api/health payload.
type Health struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Components map[string]interface{} `json:"components,omitempty"`
}

// Healthy reports whether the status reads as healthy.
func (h *Health) Healthy() bool {
	switch strings.ToLower(h.Status) {
	case "healthy", "ok", "up":
		return true
	}
	return false
}

// Engine is the /api/engine payload.
type Engine struct {
	Status    string          `json:"status"`
	Features  map[string]bool `json:"features,omitempty"`
	Endpoints []string        `json:"endpoints,omitempty"`
}

// QADiagnostics is the cross-article QA report.
type QADiagnostics struct {
	RunID               string                   `json:"run_id,omitempty"`
	Duplicates          []map[string]interface{} `json:"duplicates"`
	InvalidLinks        []map[string]interface{} `json:"invalid_links"`
	DuplicateFAQs       []map[string]interface{} `json:"duplicate_faqs"`
	TerminologyIssues   []map[string]interface{} `json:"terminology_issues"`
	ConsolidationResult map[string]interface{}   `json:"consolidation_result,omitempty"`
}

// Diagnostics is a free-form subsystem snapshot.
type Diagnostics map[string]interface{}

// MediaRequest asks the engine to analyze one image.
type MediaRequest struct {
	MediaData string `json:"media_data"`
	MediaType string `json:"media_type,omitempty"`
	AltText   string `json:"alt_text,omitempty"`
	Context   string `json:"context,omitempty"`
}

// MediaAnalysis is the engine's description of an image.
type MediaAnalysis struct {
	Caption     string   `json:"caption,omitempty"`
	Description string   `json:"description,omitempty"`
	Objects     []string `json:"objects,omitempty"`
	Text        string   `json:"text,omitempty"`
}

// Empty reports whether the analysis carries no information.
func (m *MediaAnalysis) Empty() bool {
	return m.Caption == "" && m.Description == "" && len(m.Objects) == 0 && m.Text == ""
}

// decodeWrapped decodes data either as {"<key>": v} or as a bare v. The
// wrapper only applies when key holds an object or array; a wrapped value
// that fails to decode is an error, never a silent fallback.
func decodeWrapped(path string, data []byte, key string, out interface{}) error {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err == nil {
		if inner := bytes.TrimSpace(wrapper[key]); len(inner) > 0 && (inner[0] == '{' || inner[0] == '[') {
			data = inner
		}
	}
	return decode(path, data, out)
}
