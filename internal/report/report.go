// Package report prints step results as they happen and aggregates them
// into a pass rate, a summary table, a JSON results file and the process
// exit code.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/thruflo/keqa/internal/outcome"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Result is one recorded step.
type Result struct {
	Scenario string          `json:"scenario"`
	Name     string          `json:"name"`
	Outcome  outcome.Outcome `json:"outcome"`
	Label    string          `json:"label"`
	Duration time.Duration   `json:"duration_ns"`
	Time     time.Time       `json:"time"`
}

// Summary aggregates results. Skipped results count in neither Total nor
// Rate. Rate is a percentage.
type Summary struct {
	Total   int     `json:"total"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"`
	Rate    float64 `json:"rate"`
}

// ScenarioSummary is the summary of one scenario's results.
type ScenarioSummary struct {
	Scenario string  `json:"scenario"`
	Summary  Summary `json:"summary"`
}

// Run is the machine-readable record of a whole run.
type Run struct {
	RunID      string            `json:"run_id"`
	BaseURL    string            `json:"base_url"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Threshold  float64           `json:"threshold"`
	Passed     bool              `json:"passed"`
	Summary    Summary           `json:"summary"`
	Scenarios  []ScenarioSummary `json:"scenarios"`
	Results    []Result          `json:"results"`
}

// Options configures a Reporter.
type Options struct {
	RunID     string
	BaseURL   string
	Threshold float64
	NoColor   bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Reporter records results. It is safe for concurrent use.
type Reporter struct {
	out    io.Writer
	opts   Options
	styles styles

	mu      sync.Mutex
	results []Result
	started time.Time
}

type styles struct {
	pass, fail, warn, muted, header lipgloss.Style
}

// New creates a Reporter writing to w.
func New(w io.Writer, opts Options) *Reporter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Reporter{out: w, opts: opts, started: opts.Now()}

	if !opts.NoColor {
		renderer := lipgloss.NewRenderer(w)
		r.styles = styles{
			pass:   renderer.NewStyle().Foreground(lipgloss.Color("10")),
			fail:   renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			warn:   renderer.NewStyle().Foreground(lipgloss.Color("11")),
			muted:  renderer.NewStyle().Foreground(lipgloss.Color("8")),
			header: renderer.NewStyle().Bold(true).Underline(true),
		}
	}
	return r
}

// render applies s unless colour is disabled.
func (r *Reporter) render(s lipgloss.Style, text string) string {
	if r.opts.NoColor {
		return text
	}
	return s.Render(text)
}

// emoji returns the line marker for a kind.
func emoji(k outcome.Kind) string {
	switch k {
	case outcome.Ok:
		return "✅"
	case outcome.AssertionFailure:
		return "❌"
	case outcome.Timeout:
		return "⏱️"
	case outcome.NetworkError:
		return "🌐"
	case outcome.ServerError:
		return "⚠️"
	case outcome.Skipped:
		return "⏭️"
	case outcome.ProtocolError:
		return "🧩"
	}
	return "?"
}

func (r *Reporter) styleFor(k outcome.Kind) lipgloss.Style {
	switch k {
	case outcome.Ok:
		return r.styles.pass
	case outcome.Skipped:
		return r.styles.muted
	case outcome.Timeout, outcome.ServerError:
		return r.styles.warn
	}
	return r.styles.fail
}

// Begin prints a scenario header.
func (r *Reporter) Begin(scenario, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("[%s] SCENARIO %s", r.opts.Now().Format(timestampFormat), scenario)
	if description != "" {
		line += ": " + description
	}
	fmt.Fprintln(r.out, r.render(r.styles.header, line))
}

// Record stores res and prints it immediately.
func (r *Reporter) Record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Time.IsZero() {
		res.Time = r.opts.Now()
	}
	res.Label = res.Outcome.Label()
	r.results = append(r.results, res)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s/%s", res.Time.Format(timestampFormat), emoji(res.Outcome.Kind), res.Scenario, res.Name)
	if !res.Outcome.Passed() {
		fmt.Fprintf(&sb, " [%s]", res.Label)
	}
	if res.Outcome.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(res.Outcome.Detail)
	}
	line := r.render(r.styleFor(res.Outcome.Kind), sb.String())
	if res.Duration > 0 {
		line += " " + r.render(r.styles.muted, "("+res.Duration.Round(time.Millisecond).String()+")")
	}
	fmt.Fprintln(r.out, line)
}

// Results returns a copy of the recorded results.
func (r *Reporter) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

func summarize(results []Result) Summary {
	var s Summary
	for _, res := range results {
		switch {
		case res.Outcome.Kind == outcome.Skipped:
			s.Skipped++
		case res.Outcome.Passed():
			s.Passed++
			s.Total++
		default:
			s.Failed++
			s.Total++
		}
	}
	if s.Total > 0 {
		s.Rate = float64(s.Passed) / float64(s.Total) * 100
	}
	return s
}

// Summary aggregates every recorded result.
func (r *Reporter) Summary() Summary {
	return summarize(r.Results())
}

// Scenarios aggregates results per scenario in first-seen order.
func (r *Reporter) Scenarios() []ScenarioSummary {
	return GroupByScenario(r.Results())
}

// GroupByScenario summarizes results per scenario in first-seen order.
func GroupByScenario(results []Result) []ScenarioSummary {
	var order []string
	grouped := map[string][]Result{}
	for _, res := range results {
		if _, ok := grouped[res.Scenario]; !ok {
			order = append(order, res.Scenario)
		}
		grouped[res.Scenario] = append(grouped[res.Scenario], res)
	}

	out := make([]ScenarioSummary, 0, len(order))
	for _, name := range order {
		out = append(out, ScenarioSummary{Scenario: name, Summary: summarize(grouped[name])})
	}
	return out
}

// Meets reports whether at least one step ran and the pass rate is at
// least threshold percent.
func (r *Reporter) Meets(threshold float64) bool {
	s := r.Summary()
	return s.Total > 0 && s.Rate >= threshold
}

// ExitCode returns 0 when Meets(threshold), else 1.
func (r *Reporter) ExitCode(threshold float64) int {
	if r.Meets(threshold) {
		return 0
	}
	return 1
}

// Print renders the per-scenario table, the failures and the overall line.
func (r *Reporter) Print() {
	scenarios := r.Scenarios()
	summary := r.Summary()

	fmt.Fprintln(r.out)
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"Scenario", "Passed", "Failed", "Skipped", "Rate"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, sc := range scenarios {
		table.Append([]string{
			sc.Scenario,
			fmt.Sprint(sc.Summary.Passed),
			fmt.Sprint(sc.Summary.Failed),
			fmt.Sprint(sc.Summary.Skipped),
			formatRate(sc.Summary),
		})
	}
	table.Render()

	var failures []Result
	for _, res := range r.Results() {
		if !res.Outcome.Passed() && res.Outcome.Kind != outcome.Skipped {
			failures = append(failures, res)
		}
	}
	if len(failures) > 0 {
		fmt.Fprintln(r.out, "\nFailures:")
		for _, res := range failures {
			line := fmt.Sprintf("  %s %s/%s [%s] %s", emoji(res.Outcome.Kind), res.Scenario, res.Name, res.Label, res.Outcome.Detail)
			fmt.Fprintln(r.out, r.render(r.styleFor(res.Outcome.Kind), strings.TrimRight(line, " ")))
		}
	}

	verdict := r.render(r.styles.pass, "PASS")
	if !r.Meets(r.opts.Threshold) {
		verdict = r.render(r.styles.fail, "FAIL")
	}
	fmt.Fprintf(r.out, "\nOverall: %d/%d passed (%s), %d skipped, threshold %.0f%%: %s\n",
		summary.Passed, summary.Total, formatRate(summary), summary.Skipped, r.opts.Threshold, verdict)
}

func formatRate(s Summary) string {
	if s.Total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", s.Rate)
}

// Snapshot returns the run record as of now.
func (r *Reporter) Snapshot() *Run {
	summary := r.Summary()
	return &Run{
		RunID:      r.opts.RunID,
		BaseURL:    r.opts.BaseURL,
		StartedAt:  r.started,
		FinishedAt: r.opts.Now(),
		Threshold:  r.opts.Threshold,
		Passed:     r.Meets(r.opts.Threshold),
		Summary:    summary,
		Scenarios:  r.Scenarios(),
		Results:    r.Results(),
	}
}

// WriteJSON writes the run record to path, creating parent directories.
func (r *Reporter) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}

// ReadJSON loads a run record written by WriteJSON.
func ReadJSON(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse results file: %w", err)
	}
	return &run, nil
}
