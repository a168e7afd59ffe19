//go:build e2e

// cli_harness_test.go builds the keqa binary and runs it in an isolated
// workspace against an in-process fake engine.
package integration

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/keqa/internal/fakeengine"
	"github.com/thruflo/keqa/internal/testutil"
)

// CLIHarness manages a keqa binary and the engine it talks to.
type CLIHarness struct {
	// BinaryPath is the path to the built keqa binary.
	BinaryPath string

	// WorkDir holds .keqa/ and is the working directory of every command.
	WorkDir string

	// Engine is the fake engine the workspace config points at.
	Engine *fakeengine.Engine

	// EnvVars are added to the environment of every command.
	EnvVars map[string]string

	t *testing.T
}

// CLIResult is the output of one command.
type CLIResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Success reports whether the command exited 0.
func (r *CLIResult) Success() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// NewCLIHarness builds keqa, starts a fake engine and writes a workspace
// config pointing at it.
func NewCLIHarness(t *testing.T, opts fakeengine.Options) *CLIHarness {
	t.Helper()

	projectRoot := findProjectRoot(t)
	tmpDir := t.TempDir()
	binaryPath := filepath.Join(tmpDir, "keqa")

	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/keqa")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build keqa binary: %s", output)

	engine := fakeengine.New(opts)
	srv := httptest.NewServer(engine.Handler())
	t.Cleanup(srv.Close)

	return &CLIHarness{
		BinaryPath: binaryPath,
		WorkDir:    testutil.SetupTestDir(t, srv.URL),
		Engine:     engine,
		EnvVars:    map[string]string{"NO_COLOR": "1"},
		t:          t,
	}
}

// SetEnv sets a variable for subsequent commands.
func (h *CLIHarness) SetEnv(key, value string) {
	h.EnvVars[key] = value
}

// Run executes keqa with a 60 second timeout.
func (h *CLIHarness) Run(args ...string) *CLIResult {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return h.RunWithContext(ctx, args...)
}

// RunWithContext executes keqa with ctx.
func (h *CLIHarness) RunWithContext(ctx context.Context, args ...string) *CLIResult {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.BinaryPath, args...)
	cmd.Dir = h.WorkDir
	cmd.Env = h.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CLIResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}
	return result
}

// RequireSuccess fails the test when the command did not exit 0.
func (h *CLIHarness) RequireSuccess(r *CLIResult, msg string) {
	h.t.Helper()
	require.True(h.t, r.Success(), "%s\nexit: %d\nstdout:\n%s\nstderr:\n%s", msg, r.ExitCode, r.Stdout, r.Stderr)
}

// buildEnv passes the process environment through, minus variables that
// would redirect keqa to another engine, plus EnvVars.
func (h *CLIHarness) buildEnv() []string {
	var env []string
	for _, e := range os.Environ() {
		if shouldIncludeEnvVar(e) {
			env = append(env, e)
		}
	}
	for k, v := range h.EnvVars {
		env = append(env, k+"="+v)
	}
	return env
}

var overridingVars = []string{"KEQA_BASE_URL=", "REACT_APP_BACKEND_URL=", "KEQA_MONGO_URI=", "KEQA_OTLP_ENDPOINT=", "KEQA_PUSHGATEWAY_URL="}

func shouldIncludeEnvVar(envVar string) bool {
	for _, prefix := range overridingVars {
		if len(envVar) >= len(prefix) && envVar[:len(prefix)] == prefix {
			return false
		}
	}
	return true
}

// findProjectRoot walks up from the working directory to go.mod.
func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, dir, parent, "go.mod not found")
		dir = parent
	}
}
