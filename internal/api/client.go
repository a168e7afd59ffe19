// Package api is a typed HTTP client for the Knowledge Engine. It covers
// content submission, job status, the content library, assets, health,
// diagnostics and media analysis. Route paths come from config.Routes so a
// backend that moved an endpoint only needs a config change.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thruflo/keqa/internal/config"
	"github.com/thruflo/keqa/internal/logging"
)

// Routes is the endpoint layout the client talks to.
type Routes = config.Routes

// maxBodySnippet bounds the response body kept in a StatusError.
const maxBodySnippet = 200

// ErrEmptyPayload is returned by submission calls given no content. No
// request is made.
var ErrEmptyPayload = errors.New("empty payload")

// ErrInvalidResponse wraps 2xx responses the client cannot use: bodies that
// do not decode and submissions without a job id.
var ErrInvalidResponse = errors.New("invalid response")

// StatusError is returned when the engine answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d for %s %s", e.StatusCode, e.Method, e.Path)
	}
	return fmt.Sprintf("server returned status %d for %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client talks to a single Knowledge Engine deployment.
type Client struct {
	// baseURL is the engine root, e.g. "http://localhost:8001"
	baseURL string

	httpClient *http.Client
	routes     Routes
	authToken  string
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRoutes overrides the endpoint layout.
func WithRoutes(routes Routes) Option {
	return func(c *Client) {
		c.routes = routes
	}
}

// WithTransport wraps the current transport, e.g. with tracing or metrics
// middleware. Wrappers apply in the order given, the last one outermost.
func WithTransport(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(c *Client) {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient.Transport = wrap(base)
	}
}

// WithAuthToken sets a bearer token sent with every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: config.DefaultRequestTimeout},
		routes:     config.DefaultRoutes(),
		logger:     logging.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the engine root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Routes returns the endpoint layout in use.
func (c *Client) Routes() Routes {
	return c.routes
}

// join appends escaped path segments to a route.
func join(route string, segments ...string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSuffix(route, "/"))
	for _, s := range segments {
		sb.WriteString("/")
		sb.WriteString(url.PathEscape(s))
	}
	return sb.String()
}

// doJSON sends in (if non-nil) as a JSON body and decodes the response into
// out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	data, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	return decode(path, data, out)
}

// do performs the request and returns the raw body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}

	c.logger.Debug("request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       snippet(data),
		}
	}
	return data, nil
}

func decode(path string, data []byte, out interface{}) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %w", ErrInvalidResponse, path, err)
	}
	return nil
}

// snippet trims a response body for error messages.
func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	r := []rune(s)
	if len(r) > maxBodySnippet {
		return string(r[:maxBodySnippet]) + "..."
	}
	return s
}
