package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/adapter/owm"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		OWMAPIKey:        "test-key",
		OWMBaseURL:       "http://127.0.0.1:1",
		OWMLang:          "vi",
		OWMTimeout:       time.Second,
		OWMRetryAttempts: 1,
		OWMRateLimit:     10,
		OWMCacheTTL:      time.Minute,
		OWMCacheSize:     4,
		DataDir:          filepath.Join(dir, "data"),
		Cities:           []config.City{{Name: "Hà Nội", Query: "Hanoi"}},
		DefaultCity:      "Hà Nội",
		HistoryPath:      filepath.Join(dir, "history.db"),
	}
}

func TestNew_RunsACycleAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	source := owm.NewFileSource(filepath.Join("..", "pipeline", "testdata", "forecast_hanoi.json"))

	a, err := New(ctx, cfg, source, clock, zap.NewNop(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	require.NotNil(t, a.History)

	st, err := a.Runner.SubmitAndWait(ctx, "hà nội")
	require.NoError(t, err)
	require.Equal(t, pipeline.StateSucceeded, st.State, st.Message)
	assert.FileExists(t, st.Path)
	require.NoError(t, a.CheckReadiness(ctx))

	runs, err := a.History.List(ctx, "Hà Nội", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, st.RunID, runs[0].RunID)

	tbl, err := a.Store.ReadCleaned("Hà Nội")
	require.NoError(t, err)
	assert.Equal(t, st.CleanRows, tbl.Len())

	require.NoError(t, a.Close())
}

func TestApp_CheckReadiness(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	source := owm.NewFileSource(filepath.Join("..", "pipeline", "testdata", "forecast_hanoi.json"))

	a, err := New(ctx, cfg, source, clock, zap.NewNop(), observability.NewMetricsForTesting())
	require.NoError(t, err)

	require.Error(t, a.CheckReadiness(ctx), "not ready before the first cycle")

	_, err = a.Runner.SubmitAndWait(ctx, "Hà Nội")
	require.NoError(t, err)
	require.NoError(t, a.CheckReadiness(ctx))

	require.NoError(t, a.History.Close())
	err = a.CheckReadiness(ctx)
	require.ErrorIs(t, err, domain.ErrStorage)

	a.closers = nil
	require.NoError(t, a.Close())
}

func TestNew_DefaultSourceWithoutHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.HistoryPath = ""

	a, err := New(context.Background(), cfg, nil, clockwork.NewRealClock(), zap.NewNop(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	assert.Nil(t, a.History)
	require.NoError(t, a.Close())
}

func TestNew_MissingAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.OWMAPIKey = ""

	_, err := New(context.Background(), cfg, nil, clockwork.NewRealClock(), zap.NewNop(), observability.NewMetricsForTesting())
	require.Error(t, err)
}
