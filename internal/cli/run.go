package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/thruflo/keqa/internal/api"
	"github.com/thruflo/keqa/internal/config"
	"github.com/thruflo/keqa/internal/history"
	"github.com/thruflo/keqa/internal/logging"
	"github.com/thruflo/keqa/internal/metrics"
	"github.com/thruflo/keqa/internal/mongoverify"
	"github.com/thruflo/keqa/internal/outcome"
	"github.com/thruflo/keqa/internal/poll"
	"github.com/thruflo/keqa/internal/report"
	"github.com/thruflo/keqa/internal/scenario"
	"github.com/thruflo/keqa/internal/tracing"
)

var (
	runBaseURL   string
	runThreshold float64
	runResults   string
	runTimeout   time.Duration
	runNoHistory bool
)

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "Run scenarios against the engine",
	Long: `Runs the named scenarios, or all of them, in order against the engine.

Arguments are scenario names or tag selectors such as "tag:readonly".
The threshold defaults to the highest threshold among the selected
scenarios; report.threshold in the config or --threshold overrides it.

Results are printed as they happen, summarized in a table, optionally
written as JSON and saved to the local history database.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "engine base URL (overrides config and environment)")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", 0, "required pass rate in percent")
	runCmd.Flags().StringVar(&runResults, "results", "", "write the run as JSON to this file")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall run timeout (0 for none)")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "do not save the run to the history database")
	rootCmd.AddCommand(runCmd)
}

// newClient builds the API client for cfg with the given transport
// wrappers, innermost first.
func newClient(cfg *config.Config, logger *logging.Logger, wraps ...func(http.RoundTripper) http.RoundTripper) *api.Client {
	opts := []api.Option{
		api.WithTimeout(cfg.API.RequestTimeout),
		api.WithRoutes(cfg.API.Routes),
		api.WithAuthToken(cfg.API.AuthToken),
		api.WithLogger(logger),
	}
	for _, wrap := range wraps {
		opts = append(opts, api.WithTransport(wrap))
	}
	return api.NewClient(cfg.API.BaseURL, opts...)
}

// runThresholdFor picks the effective threshold: flag, then config, then
// the selected scenarios.
func runThresholdFor(cmd *cobra.Command, cfg *config.Config, selected []*scenario.Scenario) (float64, error) {
	if cmd.Flags().Changed("threshold") {
		if runThreshold < 0 || runThreshold > 100 {
			return 0, fmt.Errorf("threshold must be between 0 and 100, got %v", runThreshold)
		}
		return runThreshold, nil
	}
	if cfg.Report.Threshold > 0 {
		return cfg.Report.Threshold, nil
	}
	return scenario.Threshold(selected), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runBaseURL != "" {
		cfg.API.BaseURL = strings.TrimSuffix(runBaseURL, "/")
		if err := config.ValidateConfig(cfg); err != nil {
			return err
		}
	}
	if runResults != "" {
		cfg.Report.ResultsFile = runResults
	}
	if runNoHistory {
		cfg.History.Disabled = true
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	selected, err := scenario.Default().Select(args...)
	if err != nil {
		return err
	}
	threshold, err := runThresholdFor(cmd, cfg, selected)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	recorder := metrics.New(cfg.Metrics.Job)
	client := newClient(cfg, logger, recorder.Transport, tracing.Transport)

	// An unreachable engine fails the run outright rather than as a
	// string of network errors.
	if _, err := client.Health(ctx); err != nil && outcome.FromError(err).Kind == outcome.NetworkError {
		return fmt.Errorf("engine unreachable at %s: %w", cfg.API.BaseURL, err)
	}

	runID := uuid.NewString()
	env := &scenario.Env{
		Client: client,
		Poller: poll.New(client, cfg.Polling, poll.WithObserver(recorder), poll.WithLogger(logger)),
		Logger: logger,
		RunID:  runID,
	}
	if cfg.Mongo.Enabled() {
		store, err := mongoverify.Connect(ctx, cfg.Mongo)
		if err != nil {
			logger.Warn("mongo verification disabled", "error", err)
		} else {
			defer store.Close(context.Background())
			env.Mongo = store
		}
	}

	out := cmd.OutOrStdout()
	rep := report.New(out, report.Options{
		RunID:     runID,
		BaseURL:   cfg.API.BaseURL,
		Threshold: threshold,
		NoColor:   cfg.Report.NoColor || !colorEnabled(out),
	})
	logger.Info("starting run", "run_id", runID, "base_url", cfg.API.BaseURL, "scenarios", len(selected), "threshold", threshold)

	runner := &scenario.Runner{Env: env, Reporter: rep, Observer: recorder}
	runner.Run(ctx, selected)
	rep.Print()

	finishRun(cfg, logger, rep, recorder)

	if code := rep.ExitCode(threshold); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// finishRun writes the results file, history and metrics. Failures are
// logged; they never change the verdict.
func finishRun(cfg *config.Config, logger *logging.Logger, rep *report.Reporter, recorder *metrics.Recorder) {
	run := rep.Snapshot()

	if cfg.Report.ResultsFile != "" {
		if err := rep.WriteJSON(cfg.Report.ResultsFile); err != nil {
			logger.Error("failed to write results", "error", err)
		} else {
			logger.Info("results written", "path", cfg.Report.ResultsFile)
		}
	}

	if !cfg.History.Disabled {
		if err := saveHistory(cfg.History.Path, run); err != nil {
			logger.Error("failed to save run history", "error", err)
		}
	}

	recorder.SetPassRate(run.Summary.Rate)
	if cfg.Metrics.TextfilePath != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			logger.Error("failed to write metrics", "error", err)
		}
	}
	if cfg.Metrics.PushgatewayURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recorder.Push(ctx, cfg.Metrics.PushgatewayURL); err != nil {
			logger.Error("failed to push metrics", "error", err)
		}
	}
}

func saveHistory(path string, run *report.Run) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.SaveRun(ctx, run)
}
