// Package fakeengine is an in-memory Knowledge Engine. It serves every
// endpoint the harness calls, completes jobs after a fixed number of polls
// and can inject the faults the harness is meant to catch.
package fakeengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/config"
	"github.com/thruflo/keqa/internal/logging"
)

// DefaultPollsToComplete is how many job polls it takes for a job to
// complete.
const DefaultPollsToComplete = 2

// Faults switches on misbehaviour.
type Faults struct {
	// FailJobs makes new jobs end in "failed" with FailMessage.
	FailJobs    bool
	FailMessage string
	// NeverComplete keeps new jobs "processing" forever.
	NeverComplete bool
	// PhantomLinks adds a mini-TOC entry with no matching heading to
	// generated articles.
	PhantomLinks bool
	// Unavailable answers every request with 503.
	Unavailable bool
	// UnlinkedArticles completes jobs without article_ids and stores their
	// articles without the submitted metadata or a job_id.
	UnlinkedArticles bool
}

// Options configures an Engine.
type Options struct {
	Port            int
	PollsToComplete int
	// AuthToken, when set, is required as a bearer token.
	AuthToken string
	// AuthTokenHash is an argon2id hash from HashToken, used instead of
	// AuthToken so the plain token need not be configured.
	AuthTokenHash string
	Routes        config.Routes
	RateLimit     RateLimitConfig
	Faults        Faults
	Logger        *logging.Logger
}

type job struct {
	api.Job
	polls    int
	content  string
	metadata map[string]interface{}
	faults   Faults
}

type storedAsset struct {
	api.Asset
	data []byte
}

// Engine is the fake backend. It is safe for concurrent use.
type Engine struct {
	opts    Options
	logger  *logging.Logger
	limiter *rateLimiter
	tokens  *tokenVerifier
	handler http.Handler

	mu       sync.RWMutex
	faults   Faults
	jobs     map[string]*job
	articles map[string]*api.Article
	order    []string
	assets   map[string]*storedAsset
	assetIDs []string

	server   *http.Server
	listener net.Listener
	started  bool
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.PollsToComplete <= 0 {
		opts.PollsToComplete = DefaultPollsToComplete
	}
	if opts.Routes == (config.Routes{}) {
		opts.Routes = config.DefaultRoutes()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	e := &Engine{
		opts:     opts,
		logger:   opts.Logger.With("component", "fakeengine"),
		limiter:  newRateLimiter(opts.RateLimit),
		tokens:   newTokenVerifier(tokenHash(opts)),
		faults:   opts.Faults,
		jobs:     make(map[string]*job),
		articles: make(map[string]*api.Article),
		assets:   make(map[string]*storedAsset),
	}
	e.handler = e.routes()
	return e
}

func tokenHash(opts Options) string {
	if opts.AuthTokenHash != "" || opts.AuthToken == "" {
		return opts.AuthTokenHash
	}
	// crypto/rand does not fail on supported platforms.
	hash, _ := HashToken(opts.AuthToken)
	return hash
}

// Handler returns the engine's HTTP handler, for httptest servers.
func (e *Engine) Handler() http.Handler {
	return e.handler
}

// SetFaults replaces the active faults. Jobs already submitted keep the
// faults they were submitted under.
func (e *Engine) SetFaults(f Faults) {
	e.mu.Lock()
	e.faults = f
	e.mu.Unlock()
}

// Faults returns the active faults.
func (e *Engine) Faults() Faults {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.faults
}

// Articles returns a copy of the library in insertion order.
func (e *Engine) Articles() []api.Article {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]api.Article, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.articles[id])
	}
	return out
}

// AddArticle seeds the library and returns the stored article.
func (e *Engine) AddArticle(a api.NewArticle) api.Article {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.storeArticle(a.Title, a.Content, a.Status, a.Tags, a.Metadata)
}

// JobCount returns the number of submitted jobs.
func (e *Engine) JobCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.jobs)
}

// Port returns the configured port.
func (e *Engine) Port() int {
	return e.opts.Port
}

// Start serves on the configured port until ctx is cancelled or Stop is
// called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}

	addr := fmt.Sprintf(":%d", e.opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	e.listener = listener
	e.server = &http.Server{
		Handler:      e.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	e.started = true
	server := e.server
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = e.Stop()
	}()

	e.logger.Info("fake engine listening", "addr", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	e.started = false
	return nil
}

// ListenAddr returns the address being served, or "" before Start.
func (e *Engine) ListenAddr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// libraryAliases are the content-library paths served in addition to the
// configured one. The engine has used both.
var libraryAliases = []string{"/api/content-library", "/api/content/library"}

func (e *Engine) routes() http.Handler {
	rt := e.opts.Routes
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(e.logRequests)
	r.Use(e.availability)
	r.Use(e.throttle)
	r.Use(e.authenticate)

	r.Get(rt.Health, e.handleHealth)
	r.Get(rt.Engine, e.handleEngine)

	r.Post(rt.ContentProcess, e.handleProcess)
	r.Post(rt.ContentProcessText, e.handleProcess)
	r.Post(rt.ContentUpload, e.handleUpload)
	r.Post(rt.TrainingProcess, e.handleTraining)
	r.Get(rt.Jobs+"/{id}", e.handleJob)

	seen := map[string]bool{}
	for _, prefix := range append([]string{rt.ContentLibrary}, libraryAliases...) {
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		r.Route(prefix, func(r chi.Router) {
			r.Get("/", e.handleListArticles)
			r.Post("/", e.handleCreateArticle)
			r.Get("/{id}", e.handleGetArticle)
			r.Put("/{id}", e.handleUpdateArticle)
			r.Delete("/{id}", e.handleDeleteArticle)
		})
	}

	r.Get(rt.Assets, e.handleListAssets)
	r.Post(rt.AssetUpload, e.handleUploadAsset)
	r.Delete(rt.Assets+"/{id}", e.handleDeleteAsset)
	r.Get(staticPrefix+"/{name}", e.handleStatic)

	r.Get(rt.QADiagnostics, e.handleQADiagnostics)
	r.Get(rt.QADiagnostics+"/{runID}", e.handleQADiagnostics)
	r.Get(rt.CodeNormalization, e.handleCodeNormalization)
	r.Get(rt.EvidenceTagging, e.handleEvidenceTagging)
	r.Post(rt.MediaIntelligence, e.handleMedia)
	r.Post(rt.MediaAnalyze, e.handleMedia)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	return r
}

func (e *Engine) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		e.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start).Round(time.Microsecond))
	})
}

func (e *Engine) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.Faults().Unavailable {
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (e *Engine) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.limiter != nil {
			if ok, retryAfter := e.limiter.allow(clientIP(r)); !ok {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (e *Engine) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		const bearerPrefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(bearerPrefix) || header[:len(bearerPrefix)] != bearerPrefix {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		if !e.tokens.verify(header[len(bearerPrefix):]) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
