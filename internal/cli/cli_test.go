package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/keqa/internal/config"
	"github.com/thruflo/keqa/internal/fakeengine"
	"github.com/thruflo/keqa/internal/history"
	"github.com/thruflo/keqa/internal/report"
	"github.com/thruflo/keqa/internal/scenario"
	"github.com/thruflo/keqa/internal/testutil"
)

// Commands share package-level flag variables, so tests here do not run
// in parallel.

func resetFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		configDir, logLevel, noColor = "", "", false
		runBaseURL, runThreshold, runResults, runTimeout, runNoHistory = "", 0, "", 0, false
		historyLimit = 20
		initForce = false
		_ = runCmd.Flags().Set("threshold", "0")
		runCmd.Flags().Lookup("threshold").Changed = false
	}
	reset()
	t.Cleanup(reset)
}

// execute runs fn with cmd writing into a buffer.
func execute(cmd *cobra.Command, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	defer cmd.SetOut(nil)
	cmd.SetContext(context.Background())
	err := fn(cmd, args)
	return buf.String(), err
}

// startEngine serves a fake engine and points --config-dir at a fresh
// directory configured for it.
func startEngine(t *testing.T, opts fakeengine.Options) (*fakeengine.Engine, string) {
	t.Helper()
	e := fakeengine.New(opts)
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)

	dir := testutil.SetupTestDir(t, srv.URL)
	configDir = dir
	logLevel = "error"
	noColor = true
	return e, dir
}

func openStore(t *testing.T, dir string) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(dir, config.DirName, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunCommand_Passes(t *testing.T) {
	resetFlags(t)
	_, dir := startEngine(t, fakeengine.Options{})
	runResults = filepath.Join(dir, "out", "results.json")

	out, err := execute(runCmd, runRun, "health", "library-crud")
	require.NoError(t, err)

	assert.Contains(t, out, "SCENARIO health")
	assert.Contains(t, out, "SCENARIO library-crud")
	assert.Contains(t, out, "threshold 100%: PASS")
	assert.NotContains(t, out, "duplicate-detection")

	run, err := report.ReadJSON(runResults)
	require.NoError(t, err)
	assert.True(t, run.Passed)
	assert.Equal(t, 100.0, run.Threshold)
	testutil.AssertNoFailures(t, run.Results)

	runs, err := openStore(t, dir).ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
}

func TestRunCommand_ThresholdNotMet(t *testing.T) {
	resetFlags(t)
	startEngine(t, fakeengine.Options{Faults: fakeengine.Faults{FailJobs: true}})
	runNoHistory = true

	out, err := execute(runCmd, runRun, "duplicate-detection")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out, "job_failed")
	assert.Contains(t, out, ": FAIL")
}

func TestRunCommand_ThresholdFlag(t *testing.T) {
	resetFlags(t)
	startEngine(t, fakeengine.Options{Faults: fakeengine.Faults{FailJobs: true}})
	runNoHistory = true
	require.NoError(t, runCmd.Flags().Set("threshold", "0"))

	out, err := execute(runCmd, runRun, "duplicate-detection")
	require.NoError(t, err, "a zero threshold only needs one step to run")
	assert.Contains(t, out, "threshold 0%: PASS")
}

func TestRunCommand_NoHistory(t *testing.T) {
	resetFlags(t)
	_, dir := startEngine(t, fakeengine.Options{})
	runNoHistory = true

	_, err := execute(runCmd, runRun, "health")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, config.DirName, "history.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunCommand_UnreachableEngine(t *testing.T) {
	resetFlags(t)
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	configDir = testutil.SetupTestDir(t, url)
	logLevel = "error"

	_, err := execute(runCmd, runRun, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine unreachable")
	assert.Equal(t, 1, ExitCode(err))
}

func TestRunCommand_BaseURLFlag(t *testing.T) {
	resetFlags(t)
	e := fakeengine.New(fakeengine.Options{})
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	configDir = testutil.SetupTestDir(t, "http://127.0.0.1:1")
	logLevel = "error"
	runBaseURL = srv.URL + "/"
	runNoHistory = true

	_, err := execute(runCmd, runRun, "health")
	require.NoError(t, err)
}

func TestRunCommand_InvalidBaseURL(t *testing.T) {
	resetFlags(t)
	configDir = testutil.SetupTestDir(t, "")
	runBaseURL = "localhost:8001"

	_, err := execute(runCmd, runRun)
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))
}

func TestRunCommand_UnknownScenario(t *testing.T) {
	resetFlags(t)
	startEngine(t, fakeengine.Options{})

	_, err := execute(runCmd, runRun, "health", "no-such-scenario")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-scenario")
}

func TestRunThresholdFor(t *testing.T) {
	resetFlags(t)
	selected, err := scenario.Default().Select("tag:readonly")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	threshold, err := runThresholdFor(runCmd, &cfg, selected)
	require.NoError(t, err)
	assert.Equal(t, 100.0, threshold, "highest among selected")

	cfg.Report.Threshold = 75
	threshold, err = runThresholdFor(runCmd, &cfg, selected)
	require.NoError(t, err)
	assert.Equal(t, 75.0, threshold)

	require.NoError(t, runCmd.Flags().Set("threshold", "50"))
	threshold, err = runThresholdFor(runCmd, &cfg, selected)
	require.NoError(t, err)
	assert.Equal(t, 50.0, threshold)

	require.NoError(t, runCmd.Flags().Set("threshold", "150"))
	_, err = runThresholdFor(runCmd, &cfg, selected)
	assert.Error(t, err)
}

func TestListCommand(t *testing.T) {
	resetFlags(t)

	out, err := execute(listCmd, runList)
	require.NoError(t, err)
	for _, name := range []string{"health", "library-crud", "cross-article", "mongo-verify"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "readonly")
	assert.Contains(t, out, "100%")
}

func TestHealthCommand(t *testing.T) {
	resetFlags(t)
	e, _ := startEngine(t, fakeengine.Options{})

	out, err := execute(healthCmd, runHealth)
	require.NoError(t, err)
	assert.Contains(t, out, "Health: healthy")
	assert.Contains(t, out, "Engine status:")

	e.SetFaults(fakeengine.Faults{Unavailable: true})
	out, err = execute(healthCmd, runHealth)
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out, "503_server_error")
}

func TestHistoryCommands(t *testing.T) {
	resetFlags(t)
	dir := testutil.SetupTestDir(t, "")
	configDir = dir

	out, err := execute(historyCmd, runHistory)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")

	store := openStore(t, dir)
	ctx := context.Background()
	first := testutil.SampleRun("aaaa1111-0000-0000-0000-000000000001")
	second := testutil.SampleRun("bbbb2222-0000-0000-0000-000000000002")
	second.StartedAt = second.StartedAt.Add(time.Hour)
	require.NoError(t, store.SaveRun(ctx, first))
	require.NoError(t, store.SaveRun(ctx, second))

	t.Run("list", func(t *testing.T) {
		out, err := execute(historyCmd, runHistory)
		require.NoError(t, err)
		assert.Contains(t, out, "aaaa1111")
		assert.Contains(t, out, "bbbb2222")
		assert.Contains(t, out, "3/5")
		assert.Contains(t, out, "FAIL")
	})

	t.Run("show by prefix", func(t *testing.T) {
		out, err := execute(historyCmd, runHistory, "aaaa")
		require.NoError(t, err)
		assert.Contains(t, out, first.RunID)
		assert.Contains(t, out, "500_server_error")
		assert.Contains(t, out, "article missing from list")
	})

	t.Run("show unknown", func(t *testing.T) {
		_, err := execute(historyCmd, runHistory, "zzzz")
		assert.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("diff identical", func(t *testing.T) {
		out, err := execute(historyDiffCmd, runHistoryDiff, "aaaa", "bbbb")
		require.NoError(t, err)
		assert.Contains(t, out, "No differences.")
	})

	t.Run("diff changed", func(t *testing.T) {
		third := testutil.SampleRun("cccc3333-0000-0000-0000-000000000003")
		third.Results[4].Outcome.Kind = third.Results[0].Outcome.Kind
		require.NoError(t, store.SaveRun(ctx, third))

		out, err := execute(historyDiffCmd, runHistoryDiff, "aaaa", "cccc")
		require.Error(t, err)
		assert.Equal(t, 1, ExitCode(err))
		assert.Contains(t, out, "1 step(s) changed")
		assert.Contains(t, out, "library-crud/list")
	})
}

func TestInitCommand(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	configDir = dir

	out, err := execute(initCmd, runInit)
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized")

	t.Run("config matches defaults", func(t *testing.T) {
		cfg, err := config.LoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultConfig(), *cfg)
	})

	t.Run("gitignore excludes history", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, config.DirName, ".gitignore"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "history.db")
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		_, err := execute(initCmd, runInit)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("force overwrites", func(t *testing.T) {
		initForce = true
		defer func() { initForce = false }()
		_, err := execute(initCmd, runInit)
		assert.NoError(t, err)
	})
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(&ExitError{Code: 0}))
	assert.Equal(t, 2, ExitCode(&ExitError{Code: 2}))
	assert.Equal(t, 1, ExitCode(assert.AnError))
}

func TestColorEnabled(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, colorEnabled(&buf), "buffers are never terminals")

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, colorEnabled(f), "regular files are not terminals")
}
