package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thruflo/keqa/internal/outcome"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the engine is up",
	Long: `Calls the health and engine status endpoints once and prints the result.
Exits 1 when the engine is unreachable or reports itself unhealthy.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.API.RequestTimeout)
	defer cancel()

	client := newClient(cfg, logger)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Engine: %s\n", client.BaseURL())

	health, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintf(out, "Health: %s\n", outcome.FromError(err))
		return &ExitError{Code: 1}
	}
	fmt.Fprintf(out, "Health: %s", health.Status)
	if health.Version != "" {
		fmt.Fprintf(out, " (version %s)", health.Version)
	}
	fmt.Fprintln(out)

	if engine, err := client.Engine(ctx); err != nil {
		fmt.Fprintf(out, "Engine status: %s\n", outcome.FromError(err))
	} else {
		fmt.Fprintf(out, "Engine status: %s\n", engine.Status)
		if len(engine.Features) > 0 {
			fmt.Fprintf(out, "Features: %s\n", formatFeatures(engine.Features))
		}
	}

	if !health.Healthy() {
		return &ExitError{Code: 1}
	}
	return nil
}

func formatFeatures(features map[string]bool) string {
	names := make([]string, 0, len(features))
	for name, on := range features {
		if on {
			names = append(names, name)
		} else {
			names = append(names, name+" (off)")
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
