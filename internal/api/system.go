package api

import (
	"context"
	"net/http"
)

// Health returns the service health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, c.routes.Health, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Engine returns the engine status and feature flags.
func (c *Client) Engine(ctx context.Context) (*Engine, error) {
	var e Engine
	if err := c.doJSON(ctx, http.MethodGet, c.routes.Engine, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// QADiagnostics returns the latest QA report, or the report of runID when
// it is non-empty.
func (c *Client) QADiagnostics(ctx context.Context, runID string) (*QADiagnostics, error) {
	path := c.routes.QADiagnostics
	if runID != "" {
		path = join(path, runID)
	}
	var d QADiagnostics
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CodeNormalizationDiagnostics returns the code-normalization snapshot.
func (c *Client) CodeNormalizationDiagnostics(ctx context.Context) (Diagnostics, error) {
	return c.diagnostics(ctx, c.routes.CodeNormalization)
}

// EvidenceTaggingDiagnostics returns the evidence-tagging snapshot.
func (c *Client) EvidenceTaggingDiagnostics(ctx context.Context) (Diagnostics, error) {
	return c.diagnostics(ctx, c.routes.EvidenceTagging)
}

func (c *Client) diagnostics(ctx context.Context, path string) (Diagnostics, error) {
	d := Diagnostics{}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// MediaIntelligence runs the media-intelligence pipeline on one image.
func (c *Client) MediaIntelligence(ctx context.Context, req MediaRequest) (*MediaAnalysis, error) {
	return c.media(ctx, c.routes.MediaIntelligence, req)
}

// AnalyzeMedia runs the lighter media analysis endpoint.
func (c *Client) AnalyzeMedia(ctx context.Context, req MediaRequest) (*MediaAnalysis, error) {
	return c.media(ctx, c.routes.MediaAnalyze, req)
}

func (c *Client) media(ctx context.Context, path string, req MediaRequest) (*MediaAnalysis, error) {
	if req.MediaData == "" {
		return nil, ErrEmptyPayload
	}
	var raw rawMessage
	if err := c.doJSON(ctx, http.MethodPost, path, req, &raw); err != nil {
		return nil, err
	}
	var m MediaAnalysis
	if len(raw) == 0 {
		return &m, nil
	}
	if err := decodeWrapped(path, raw, "analysis", &m); err != nil {
		return nil, err
	}
	return &m, nil
}
