package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const citiesYAML = `cities:
  - name: Hà Nội
    query: Hanoi
  - name: Huế
    query: Hue
`

// setupEnv points the CLI at a fake upstream that knows only Hanoi and at a
// fresh data directory.
func setupEnv(t *testing.T) {
	t.Helper()
	fixture, err := os.ReadFile(filepath.Join("..", "..", "internal", "pipeline", "testdata", "forecast_hanoi.json"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("q") != "Hanoi" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
			return
		}
		_, _ = w.Write(fixture)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	citiesFile := filepath.Join(dir, "cities.yaml")
	require.NoError(t, os.WriteFile(citiesFile, []byte(citiesYAML), 0o644))

	env := map[string]string{
		"ENV_FILE":           filepath.Join(dir, "missing.env"),
		"OWM_API_KEY":        "test-key",
		"OWM_BASE_URL":       srv.URL,
		"OWM_RETRY_ATTEMPTS": "1",
		"OWM_RETRY_DELAY":    "1ms",
		"OWM_CACHE_TTL":      "0s",
		"DATA_DIR":           filepath.Join(dir, "data"),
		"CITIES_FILE":        citiesFile,
		"DEFAULT_CITY":       "Hà Nội",
		"LOG_LEVEL":          "error",
		"HISTORY_PATH":       "",
		"KAFKA_ENABLED":      "false",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{name: "no command", args: nil, wantCode: 2, wantStderr: "usage: forecast"},
		{name: "unknown command", args: []string{"plot"}, wantCode: 2, wantStderr: `unknown command "plot"`},
		{name: "bad flag", args: []string{"refresh", "-bogus"}, wantCode: 2, wantStderr: "-bogus"},
		{name: "unknown city", args: []string{"refresh", "Atlantis"}, wantCode: 1, wantStdout: "✗ Atlantis"},
		{name: "upstream does not know city", args: []string{"refresh", "Huế"}, wantCode: 1, wantStdout: "hint: check the city name"},
		{name: "stats before any refresh", args: []string{"stats"}, wantCode: 1, wantStderr: "hint: fetch the forecast"},
		{name: "stats for unknown city", args: []string{"stats", "Atlantis"}, wantCode: 1, wantStderr: "hint: check the city name"},
		{name: "compare unknown metric", args: []string{"compare", "-metric", "rainfall"}, wantCode: 2, wantStderr: "unknown metric"},
		{name: "compare without data", args: []string{"compare"}, wantCode: 1, wantStderr: "run refresh first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t)
			code, stdout, stderr := runCLI(tt.args...)
			assert.Equal(t, tt.wantCode, code, "stdout: %s\nstderr: %s", stdout, stderr)
			if tt.wantStdout != "" {
				assert.Contains(t, stdout, tt.wantStdout)
			}
			if tt.wantStderr != "" {
				assert.Contains(t, stderr, tt.wantStderr)
			}
		})
	}
}

func TestRun_MissingAPIKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("OWM_API_KEY", "")

	code, _, stderr := runCLI("refresh")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "failed to load config")
}

func TestRun_RefreshThenStatsAndCompare(t *testing.T) {
	setupEnv(t)

	code, stdout, stderr := runCLI("refresh")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "✓ Hà Nội: 5 rows (2 rejected) -> ")
	assert.Contains(t, stdout, "weather_clean_ha_noi.csv")

	code, stdout, stderr = runCLI("refresh", "-all")
	assert.Equal(t, 1, code, stderr)
	assert.Contains(t, stdout, "✓ Hà Nội")
	assert.Contains(t, stdout, "✗ Huế")

	code, stdout, stderr = runCLI("stats", "hà nội")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Hà Nội: 5 points from 2024-06-01 00:00:00 to 2024-06-01 18:00:00")
	assert.Contains(t, stdout, "most common:")
	assert.Regexp(t, `field\s+count\s+mean`, stdout)
	assert.Regexp(t, `(?m)^temp\s+5\s`, stdout)

	code, stdout, stderr = runCLI("stats", "-json")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"city": "Hà Nội"`)

	code, stdout, stderr = runCLI("compare")
	require.Equal(t, 0, code, stderr)
	assert.Regexp(t, `(?m)^1\s+Hà Nội\s`, stdout)
	assert.Contains(t, stdout, "highest: Hà Nội")
	assert.Contains(t, stdout, "lowest:  Hà Nội")
	assert.Contains(t, stdout, "no data: Huế")
}
