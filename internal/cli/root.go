package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/thruflo/keqa/internal/config"
	"github.com/thruflo/keqa/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configDir string
	logLevel  string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "keqa",
	Short: "Regression harness for the Knowledge Engine API",
	Long: `keqa drives a running Knowledge Engine through its HTTP API: it submits
content, waits for processing jobs, inspects the generated articles and
reports a pass rate. The exit status is 0 when the pass rate meets the
threshold and 1 otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("keqa version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing .keqa/ and .env (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitError asks main to exit with Code without printing anything.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

// basePath returns --config-dir or the working directory.
func basePath() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}

// loadConfig loads the effective configuration and applies global flags.
func loadConfig() (*config.Config, error) {
	base, err := basePath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(base)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if noColor {
		cfg.Report.NoColor = true
	}
	return cfg, nil
}

// colorEnabled reports whether w is a terminal and NO_COLOR is unset.
func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newLogger builds the stderr logger at the configured level.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New()
	logger.SetLevel(level)
	return logger, nil
}
