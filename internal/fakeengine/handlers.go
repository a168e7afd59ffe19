package fakeengine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/check"
)

const (
	staticPrefix   = "/api/static/uploads"
	maxUploadBytes = 10 << 20
	version        = "fake-1"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the {"detail": ...} shape the engine's framework emits.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (e *Engine) handleHealth(w http.ResponseWriter, _ *http.Request) {
	e.mu.RLock()
	articles, jobs := len(e.articles), len(e.jobs)
	e.mu.RUnlock()
	writeJSON(w, http.StatusOK, api.Health{
		Status:  "healthy",
		Version: version,
		Components: map[string]interface{}{
			"articles": articles,
			"jobs":     jobs,
		},
	})
}

func (e *Engine) handleEngine(w http.ResponseWriter, _ *http.Request) {
	rt := e.opts.Routes
	writeJSON(w, http.StatusOK, api.Engine{
		Status: "active",
		Features: map[string]bool{
			"mini_toc":          true,
			"anchor_links":      true,
			"code_highlighting": true,
			"media_analysis":    true,
		},
		Endpoints: []string{
			rt.ContentProcess, rt.ContentProcessText, rt.ContentUpload, rt.TrainingProcess,
			rt.Jobs, rt.ContentLibrary, rt.Assets, rt.QADiagnostics, rt.MediaIntelligence,
		},
	})
}

func (e *Engine) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req api.ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	writeJSON(w, http.StatusOK, e.submit(req.Content, req.Metadata))
}

func (e *Engine) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	metadata := map[string]interface{}{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, http.StatusBadRequest, "metadata must be a JSON object")
			return
		}
	}
	metadata["filename"] = header.Filename
	writeJSON(w, http.StatusOK, e.submit(string(data), metadata))
}

func (e *Engine) handleTraining(w http.ResponseWriter, r *http.Request) {
	var req api.TrainingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusUnprocessableEntity, "template_id is required")
		return
	}
	metadata := map[string]interface{}{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["template_id"] = req.TemplateID
	metadata["training_instructions"] = req.Instructions
	writeJSON(w, http.StatusOK, e.submit(req.Content, metadata))
}

// submit queues a job for content.
func (e *Engine) submit(content string, metadata map[string]interface{}) api.Submission {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	chunks := strings.Count(strings.TrimSpace(content), "\n\n") + 1
	e.jobs[id] = &job{
		Job:      api.Job{JobID: id, Status: api.JobProcessing, ChunksCreated: chunks},
		content:  content,
		metadata: metadata,
		faults:   e.faults,
	}
	return api.Submission{JobID: id, Status: api.JobProcessing, ChunksCreated: chunks}
}

func (e *Engine) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e.mu.Lock()
	j, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	j.polls++
	if !j.Terminal() && !j.faults.NeverComplete && j.polls >= e.opts.PollsToComplete {
		e.finish(j)
	}
	snapshot := j.Job
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, snapshot)
}

// finish completes or fails j. Callers hold e.mu.
func (e *Engine) finish(j *job) {
	if j.faults.FailJobs {
		j.Status = api.JobFailed
		j.Error = j.faults.FailMessage
		if j.Error == "" {
			j.Error = "article generation failed"
		}
		return
	}

	out := render(j.content, j.faults.PhantomLinks)
	metadata := map[string]interface{}{}
	if !j.faults.UnlinkedArticles {
		for k, v := range j.metadata {
			metadata[k] = v
		}
		metadata["job_id"] = j.JobID
	}

	a := e.storeArticle(out.title, out.html, api.ArticleDraft, nil, metadata)
	j.Status = api.JobCompleted
	j.ArticlesGenerated = 1
	if !j.faults.UnlinkedArticles {
		j.ArticleIDs = []string{a.ID}
	}
}

// storeArticle adds an article. Callers hold e.mu.
func (e *Engine) storeArticle(title, content, status string, tags []string, metadata map[string]interface{}) *api.Article {
	if status == "" {
		status = api.ArticleDraft
	}
	a := &api.Article{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		Status:    status,
		Tags:      tags,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		WordCount: check.WordCount(content),
	}
	e.articles[a.ID] = a
	e.order = append(e.order, a.ID)
	return a
}

func (e *Engine) handleListArticles(w http.ResponseWriter, _ *http.Request) {
	articles := e.Articles()
	writeJSON(w, http.StatusOK, api.ArticleList{Total: len(articles), Articles: articles})
}

func (e *Engine) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var req api.NewArticle
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusUnprocessableEntity, "title is required")
		return
	}
	a := e.AddArticle(req)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "article": a})
}

func (e *Engine) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	e.mu.RLock()
	a, ok := e.articles[chi.URLParam(r, "id")]
	var out api.Article
	if ok {
		out = *a
	}
	e.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Article not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *Engine) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	var req api.ArticleUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e.mu.Lock()
	a, ok := e.articles[chi.URLParam(r, "id")]
	if !ok {
		e.mu.Unlock()
		writeError(w, http.StatusNotFound, "Article not found")
		return
	}
	if req.Title != "" {
		a.Title = req.Title
	}
	if req.Content != "" {
		a.Content = req.Content
		a.WordCount = check.WordCount(req.Content)
	}
	if req.Status != "" {
		a.Status = req.Status
	}
	if req.Tags != nil {
		a.Tags = req.Tags
	}
	out := *a
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "article": out})
}

func (e *Engine) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e.mu.Lock()
	_, ok := e.articles[id]
	if ok {
		delete(e.articles, id)
		e.order = remove(e.order, id)
	}
	e.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Article not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (e *Engine) handleListAssets(w http.ResponseWriter, _ *http.Request) {
	e.mu.RLock()
	assets := make([]api.Asset, 0, len(e.assetIDs))
	for _, id := range e.assetIDs {
		assets = append(assets, e.assets[id].Asset)
	}
	e.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": assets, "total": len(assets)})
}

func (e *Engine) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	id := uuid.NewString()
	name := id + strings.ToLower(path.Ext(header.Filename))
	asset := api.Asset{
		ID:        id,
		Filename:  header.Filename,
		URL:       staticPrefix + "/" + name,
		AssetType: assetType(http.DetectContentType(data)),
	}

	e.mu.Lock()
	e.assets[id] = &storedAsset{Asset: asset, data: data}
	e.assetIDs = append(e.assetIDs, id)
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "asset": asset})
}

func assetType(mime string) string {
	kind, _, _ := strings.Cut(mime, "/")
	switch kind {
	case "image", "video", "audio":
		return kind
	}
	return "file"
}

func (e *Engine) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e.mu.Lock()
	_, ok := e.assets[id]
	if ok {
		delete(e.assets, id)
		e.assetIDs = remove(e.assetIDs, id)
	}
	e.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (e *Engine) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id := strings.TrimSuffix(name, path.Ext(name))

	e.mu.RLock()
	a, ok := e.assets[id]
	e.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(a.data))
	_, _ = w.Write(a.data)
}

func (e *Engine) handleQADiagnostics(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		runID = uuid.NewString()
	}
	articles := e.Articles()

	report := api.QADiagnostics{
		RunID:             runID,
		Duplicates:        []map[string]interface{}{},
		InvalidLinks:      []map[string]interface{}{},
		DuplicateFAQs:     []map[string]interface{}{},
		TerminologyIssues: []map[string]interface{}{},
	}
	for _, p := range check.SimilarTitles(articles, check.DefaultTitleThreshold) {
		report.Duplicates = append(report.Duplicates, map[string]interface{}{
			"article_ids": []string{p.A, p.B},
			"titles":      []string{p.TitleA, p.TitleB},
			"similarity":  p.Score,
		})
	}
	for _, a := range articles {
		for _, target := range check.Anchors(a.Content).Broken {
			report.InvalidLinks = append(report.InvalidLinks, map[string]interface{}{
				"article_id": a.ID,
				"href":       "#" + target,
			})
		}
	}
	report.ConsolidationResult = map[string]interface{}{
		"articles_checked": len(articles),
		"issues":           len(report.Duplicates) + len(report.InvalidLinks),
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *Engine) handleCodeNormalization(w http.ResponseWriter, _ *http.Request) {
	languages := map[string]int{}
	total, enhanced := 0, 0
	for _, a := range e.Articles() {
		r := check.CodeBlocks(a.Content)
		total += r.Total
		enhanced += r.Enhanced
		for _, lang := range r.Languages {
			languages[lang]++
		}
	}
	writeJSON(w, http.StatusOK, api.Diagnostics{
		"status":          "ok",
		"code_blocks":     total,
		"enhanced":        enhanced,
		"languages":       languages,
		"supported_langs": sortedKeys(languages),
	})
}

func (e *Engine) handleEvidenceTagging(w http.ResponseWriter, _ *http.Request) {
	articles := e.Articles()
	paragraphs := 0
	for _, a := range articles {
		paragraphs += strings.Count(a.Content, "<p>")
	}
	writeJSON(w, http.StatusOK, api.Diagnostics{
		"status":            "ok",
		"articles":          len(articles),
		"tagged_paragraphs": paragraphs,
	})
}

func (e *Engine) handleMedia(w http.ResponseWriter, r *http.Request) {
	var req api.MediaRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MediaData == "" {
		writeError(w, http.StatusBadRequest, "media_data is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.MediaData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "media_data must be base64")
		return
	}

	mime := req.MediaType
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	analysis := api.MediaAnalysis{
		Caption:     orDefault(req.AltText, "Uploaded "+assetType(mime)),
		Description: fmt.Sprintf("%s, %d bytes", mime, len(data)),
		Objects:     []string{assetType(mime)},
	}
	if req.Context != "" {
		analysis.Text = req.Context
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "analysis": analysis})
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
