package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thruflo/keqa/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .keqa/ with a default configuration",
	Long: `Creates the .keqa/ directory with:
  - config.yaml holding every setting at its default value
  - .gitignore excluding the history database and results files`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	base, err := basePath()
	if err != nil {
		return err
	}

	dir := filepath.Join(base, config.DirName)
	configPath := filepath.Join(dir, "config.yaml")
	if fileExists(configPath) && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", dir)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

const gitignore = `history.db
history.db-*
results*.json
`

const defaultConfigYAML = `# keqa configuration. Environment variables override these values:
#   KEQA_BASE_URL (or REACT_APP_BACKEND_URL), KEQA_AUTH_TOKEN, KEQA_LOG_LEVEL,
#   KEQA_MONGO_URI, KEQA_OTLP_ENDPOINT, KEQA_PUSHGATEWAY_URL

api:
  base_url: http://localhost:8001
  request_timeout: 60s
  routes:
    content_process: /api/content/process
    content_process_text: /api/content/process-text
    content_upload: /api/content/upload
    training_process: /api/training/process
    jobs: /api/jobs
    # Older engines serve the library at /api/content/library.
    content_library: /api/content-library
    assets: /api/assets
    asset_upload: /api/assets/upload
    health: /api/health
    engine: /api/engine
    qa_diagnostics: /api/qa/diagnostics
    code_normalization_diagnostics: /api/code-normalization/diagnostics
    evidence_tagging_diagnostics: /api/evidence-tagging/diagnostics
    media_intelligence: /api/media-intelligence
    media_analyze: /api/media/analyze

polling:
  initial_interval: 1s
  max_interval: 10s
  multiplier: 1.5
  timeout: 300s
  max_transient_errors: 3

report:
  # 0 uses the highest threshold among the selected scenarios.
  threshold: 0
  no_color: false

history:
  path: .keqa/history.db
  disabled: false

metrics:
  job: keqa
  # pushgateway_url: http://localhost:9091
  # textfile_path: /var/lib/node_exporter/keqa.prom

tracing:
  service_name: keqa
  # otlp_endpoint: localhost:4317

mongo:
  database: knowledge_engine
  collection: content_library
  # uri: mongodb://localhost:27017

log:
  level: info
`
