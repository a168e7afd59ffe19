package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/thruflo/keqa/internal/history"
	"github.com/thruflo/keqa/internal/report"
)

const historyTimeFormat = "2006-01-02 15:04:05"

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show previous runs",
	Long: `Without arguments, lists recent runs from the history database.
With a run id (or a unique prefix of one), shows that run's results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff <run-a> <run-b>",
	Short: "Show steps whose verdict changed between two runs",
	Long: `Compares two runs step by step and lists every step that passed in one
run and failed in the other, or ran in only one of them. Exits 1 when there
are differences, so two runs of read-only scenarios can be checked for
idempotence.`,
	Args: cobra.ExactArgs(2),
	RunE: runHistoryDiff,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	historyCmd.AddCommand(historyDiffCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.History.Path)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		printRuns(out, runs)
		return nil
	}

	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	printRun(out, run)
	return nil
}

func printRuns(out io.Writer, runs []*report.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Run", "Started", "Engine", "Passed", "Rate", "Verdict"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, run := range runs {
		table.Append([]string{
			shortID(run.RunID),
			run.StartedAt.Local().Format(historyTimeFormat),
			run.BaseURL,
			fmt.Sprintf("%d/%d", run.Summary.Passed, run.Summary.Total),
			fmt.Sprintf("%.1f%%", run.Summary.Rate),
			verdict(run.Passed),
		})
	}
	table.Render()
}

func printRun(out io.Writer, run *report.Run) {
	fmt.Fprintf(out, "Run:       %s\n", run.RunID)
	fmt.Fprintf(out, "Engine:    %s\n", run.BaseURL)
	fmt.Fprintf(out, "Started:   %s\n", run.StartedAt.Local().Format(historyTimeFormat))
	fmt.Fprintf(out, "Duration:  %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "Result:    %d/%d passed (%.1f%%), %d skipped, threshold %.0f%%: %s\n\n",
		run.Summary.Passed, run.Summary.Total, run.Summary.Rate, run.Summary.Skipped, run.Threshold, verdict(run.Passed))

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Scenario", "Step", "Outcome", "Detail"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, res := range run.Results {
		table.Append([]string{res.Scenario, res.Name, res.Label, res.Outcome.Detail})
	}
	table.Render()
}

func runHistoryDiff(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	changes, err := store.Compare(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(changes) == 0 {
		fmt.Fprintln(out, "No differences.")
		return nil
	}
	fmt.Fprintf(out, "%d step(s) changed:\n", len(changes))
	for _, c := range changes {
		fmt.Fprintf(out, "  %s\n", c)
	}
	return &ExitError{Code: 1}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func verdict(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}
