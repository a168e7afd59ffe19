package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the directory holding keqa configuration and state.
const DirName = ".keqa"

// Default values for Config.
const (
	DefaultBaseURL            = "http://localhost:8001"
	DefaultRequestTimeout     = 60 * time.Second
	DefaultInitialInterval    = time.Second
	DefaultMaxInterval        = 10 * time.Second
	DefaultMultiplier         = 1.5
	DefaultPollTimeout        = 300 * time.Second
	DefaultMaxTransientErrors = 3
	DefaultMetricsJob         = "keqa"
	DefaultServiceName        = "keqa"
	DefaultMongoDatabase      = "knowledge_engine"
	DefaultMongoCollection    = "content_library"
)

// Environment variables consulted by Load, in addition to .env files.
const (
	EnvBaseURL        = "KEQA_BASE_URL"
	EnvBackendURL     = "REACT_APP_BACKEND_URL"
	EnvLogLevel       = "KEQA_LOG_LEVEL"
	EnvMongoURI       = "KEQA_MONGO_URI"
	EnvOTLPEndpoint   = "KEQA_OTLP_ENDPOINT"
	EnvPushgatewayURL = "KEQA_PUSHGATEWAY_URL"
	EnvAuthToken      = "KEQA_AUTH_TOKEN"
)

// DefaultRoutes returns the current Knowledge Engine endpoint layout.
func DefaultRoutes() Routes {
	return Routes{
		ContentProcess:     "/api/content/process",
		ContentProcessText: "/api/content/process-text",
		ContentUpload:      "/api/content/upload",
		TrainingProcess:    "/api/training/process",
		Jobs:               "/api/jobs",
		ContentLibrary:     "/api/content-library",
		Assets:             "/api/assets",
		AssetUpload:        "/api/assets/upload",
		Health:             "/api/health",
		Engine:             "/api/engine",
		QADiagnostics:      "/api/qa/diagnostics",
		CodeNormalization:  "/api/code-normalization/diagnostics",
		EvidenceTagging:    "/api/evidence-tagging/diagnostics",
		MediaIntelligence:  "/api/media-intelligence",
		MediaAnalyze:       "/api/media/analyze",
	}
}

// DefaultPolling returns the default job polling policy.
func DefaultPolling() Polling {
	return Polling{
		InitialInterval:    DefaultInitialInterval,
		MaxInterval:        DefaultMaxInterval,
		Multiplier:         DefaultMultiplier,
		Timeout:            DefaultPollTimeout,
		MaxTransientErrors: DefaultMaxTransientErrors,
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		API: API{
			BaseURL:        DefaultBaseURL,
			RequestTimeout: DefaultRequestTimeout,
			Routes:         DefaultRoutes(),
		},
		Polling: DefaultPolling(),
		History: History{
			Path: filepath.Join(DirName, "history.db"),
		},
		Metrics: Metrics{Job: DefaultMetricsJob},
		Tracing: Tracing{ServiceName: DefaultServiceName},
		Mongo: Mongo{
			Database:   DefaultMongoDatabase,
			Collection: DefaultMongoCollection,
		},
		Log: Log{Level: "info"},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Load builds the effective configuration for basePath: defaults, then
// .keqa/config.yaml, then .env files, then the process environment.
func Load(basePath string) (*Config, error) {
	return LoadWithEnv(basePath, os.Getenv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(basePath string, getenv func(string) string) (*Config, error) {
	cfg, err := LoadConfig(basePath)
	if err != nil {
		return nil, err
	}

	dotenv, err := LoadEnvFiles(basePath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, dotenv, getenv)

	if !filepath.IsAbs(cfg.History.Path) {
		cfg.History.Path = filepath.Join(basePath, cfg.History.Path)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and parses .keqa/config.yaml from the given base path.
// If the file doesn't exist, returns default config. Missing fields keep
// their defaults.
func LoadConfig(basePath string) (*Config, error) {
	configPath := filepath.Join(basePath, DirName, "config.yaml")

	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment settings. The process environment wins
// over .env values; KEQA_BASE_URL wins over REACT_APP_BACKEND_URL.
func applyEnv(cfg *Config, dotenv map[string]string, getenv func(string) string) {
	lookup := func(key string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(dotenv[key])
	}

	if v := lookup(EnvBaseURL); v != "" {
		cfg.API.BaseURL = v
	} else if v := lookup(EnvBackendURL); v != "" {
		cfg.API.BaseURL = v
	}
	cfg.API.BaseURL = strings.TrimSuffix(cfg.API.BaseURL, "/")

	if v := lookup(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := lookup(EnvMongoURI); v != "" {
		cfg.Mongo.URI = v
	}
	if v := lookup(EnvOTLPEndpoint); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
	if v := lookup(EnvPushgatewayURL); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	if v := lookup(EnvAuthToken); v != "" {
		cfg.API.AuthToken = v
	}
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{Field: "api.base_url", Message: "must be an absolute http(s) URL"}
	}
	if cfg.API.RequestTimeout <= 0 {
		return ValidationError{Field: "api.request_timeout", Message: "must be positive"}
	}
	if err := validateRoutes(cfg.API.Routes); err != nil {
		return err
	}

	if cfg.Polling.InitialInterval <= 0 {
		return ValidationError{Field: "polling.initial_interval", Message: "must be positive"}
	}
	if cfg.Polling.MaxInterval < cfg.Polling.InitialInterval {
		return ValidationError{Field: "polling.max_interval", Message: "must not be less than initial_interval"}
	}
	if cfg.Polling.Multiplier < 1 {
		return ValidationError{Field: "polling.multiplier", Message: "must be at least 1"}
	}
	if cfg.Polling.Timeout <= 0 {
		return ValidationError{Field: "polling.timeout", Message: "must be positive"}
	}
	if cfg.Polling.MaxTransientErrors < 0 {
		return ValidationError{Field: "polling.max_transient_errors", Message: "must not be negative"}
	}

	if cfg.Report.Threshold < 0 || cfg.Report.Threshold > 100 {
		return ValidationError{Field: "report.threshold", Message: "must be between 0 and 100"}
	}

	if cfg.Mongo.Enabled() && (cfg.Mongo.Database == "" || cfg.Mongo.Collection == "") {
		return ValidationError{Field: "mongo", Message: "database and collection are required when uri is set"}
	}
	return nil
}

func validateRoutes(r Routes) error {
	routes := map[string]string{
		"content_process":                r.ContentProcess,
		"content_process_text":           r.ContentProcessText,
		"content_upload":                 r.ContentUpload,
		"training_process":               r.TrainingProcess,
		"jobs":                           r.Jobs,
		"content_library":                r.ContentLibrary,
		"assets":                         r.Assets,
		"asset_upload":                   r.AssetUpload,
		"health":                         r.Health,
		"engine":                         r.Engine,
		"qa_diagnostics":                 r.QADiagnostics,
		"code_normalization_diagnostics": r.CodeNormalization,
		"evidence_tagging_diagnostics":   r.EvidenceTagging,
		"media_intelligence":             r.MediaIntelligence,
		"media_analyze":                  r.MediaAnalyze,
	}
	for name, path := range routes {
		if !strings.HasPrefix(path, "/") {
			return ValidationError{Field: "api.routes." + name, Message: "must start with /"}
		}
	}
	return nil
}

// envFiles are the .env locations read relative to the base path, lowest
// precedence first.
var envFiles = []string{
	filepath.Join("frontend", ".env"),
	".env",
}

// LoadEnvFiles merges every existing .env file under basePath.
func LoadEnvFiles(basePath string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, name := range envFiles {
		env, err := LoadEnvFile(filepath.Join(basePath, name))
		if err != nil {
			return nil, err
		}
		for k, v := range env {
			merged[k] = v
		}
	}
	return merged, nil
}

// LoadEnvFile parses a KEY=VALUE file. Lines starting with # are comments,
// an optional "export " prefix is accepted, and surrounding quotes are
// stripped. A missing file yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file %s line %d: missing '='", path, lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file %s line %d: empty key", path, lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}
