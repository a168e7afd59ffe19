package config

import "time"

// Routes holds the path of every Knowledge Engine endpoint the harness
// calls. The backend moved the content library from /api/content-library to
// /api/content/library at some point, so paths are configuration rather than
// constants.
type Routes struct {
	ContentProcess     string `yaml:"content_process"`
	ContentProcessText string `yaml:"content_process_text"`
	ContentUpload      string `yaml:"content_upload"`
	TrainingProcess    string `yaml:"training_process"`
	Jobs               string `yaml:"jobs"`
	ContentLibrary     string `yaml:"content_library"`
	Assets             string `yaml:"assets"`
	AssetUpload        string `yaml:"asset_upload"`
	Health             string `yaml:"health"`
	Engine             string `yaml:"engine"`
	QADiagnostics      string `yaml:"qa_diagnostics"`
	CodeNormalization  string `yaml:"code_normalization_diagnostics"`
	EvidenceTagging    string `yaml:"evidence_tagging_diagnostics"`
	MediaIntelligence  string `yaml:"media_intelligence"`
	MediaAnalyze       string `yaml:"media_analyze"`
}

// API configures the HTTP client.
type API struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AuthToken      string        `yaml:"auth_token,omitempty"`
	Routes         Routes        `yaml:"routes"`
}

// Polling configures how jobs are awaited.
type Polling struct {
	InitialInterval    time.Duration `yaml:"initial_interval"`
	MaxInterval        time.Duration `yaml:"max_interval"`
	Multiplier         float64       `yaml:"multiplier"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxTransientErrors int           `yaml:"max_transient_errors"`
}

// Report configures result output.
type Report struct {
	// Threshold overrides the per-scenario pass-rate thresholds when > 0.
	Threshold   float64 `yaml:"threshold"`
	ResultsFile string  `yaml:"results_file,omitempty"`
	NoColor     bool    `yaml:"no_color"`
}

// History configures the local run history database.
type History struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Metrics configures optional Prometheus export.
type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
	TextfilePath   string `yaml:"textfile_path,omitempty"`
	Job            string `yaml:"job"`
}

// Tracing configures optional OpenTelemetry export.
type Tracing struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name"`
}

// Mongo configures the optional out-of-band database verification.
type Mongo struct {
	URI        string `yaml:"uri,omitempty"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// Enabled reports whether a MongoDB URI was configured.
func (m Mongo) Enabled() bool {
	return m.URI != ""
}

// Log configures the internal logger.
type Log struct {
	Level string `yaml:"level"`
}

// Config represents the .keqa/config.yaml file merged with .env and the
// process environment.
type Config struct {
	API     API     `yaml:"api"`
	Polling Polling `yaml:"polling"`
	Report  Report  `yaml:"report"`
	History History `yaml:"history"`
	Metrics Metrics `yaml:"metrics"`
	Tracing Tracing `yaml:"tracing"`
	Mongo   Mongo   `yaml:"mongo"`
	Log     Log     `yaml:"log"`
}
