package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/keqa/internal/config"
)

// EnvLiveURL names the variable holding the base URL of a real engine for
// live tests.
const EnvLiveURL = "KEQA_LIVE_URL"

// SetupTestDir creates a temp directory holding .keqa/config.yaml from
// SampleConfigYAML, with base_url set when baseURL is non-empty. It returns
// the directory, which is removed when the test completes.
func SetupTestDir(t *testing.T, baseURL string) string {
	t.Helper()

	tmpDir := t.TempDir()
	content := SampleConfigYAML
	if baseURL != "" {
		content = strings.Replace(content, "api:\n", "api:\n  base_url: "+baseURL+"\n", 1)
	}
	WriteTestFile(t, tmpDir, filepath.Join(config.DirName, "config.yaml"), []byte(content))
	return tmpDir
}

// LiveEngineURL returns the base URL of a real engine from KEQA_LIVE_URL.
// The test is skipped when it is unset or in short mode.
func LiveEngineURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping live engine test in short mode")
	}
	url := strings.TrimSpace(os.Getenv(EnvLiveURL))
	if url == "" {
		t.Skipf("%s not set", EnvLiveURL)
	}
	return strings.TrimRight(url, "/")
}

// MustMarshalJSON marshals v as indented JSON, failing the test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content under basePath, creating parent directories.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, content, 0o644))
}
