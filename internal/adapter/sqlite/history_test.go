package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func run(id, city string, started time.Time, state string) pipeline.Status {
	finished := started.Add(2 * time.Second)
	return pipeline.Status{
		RunID:      id,
		City:       city,
		State:      state,
		RawRows:    40,
		Rejected:   1,
		CleanRows:  38,
		Path:       "/data/processed/" + id + ".csv",
		StartedAt:  started,
		FinishedAt: &finished,
	}
}

func TestHistory_RecordAndList(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)
	base := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)

	failed := run("r2", "Hà Nội", base.Add(time.Hour), pipeline.StateFailed)
	failed.Stage, failed.Kind, failed.Message = "fetch", "timeout", "fetch: timeout"
	require.NoError(t, h.Record(ctx, run("r1", "Hà Nội", base, pipeline.StateSucceeded)))
	require.NoError(t, h.Record(ctx, failed))
	require.NoError(t, h.Record(ctx, run("r3", "Huế", base.Add(2*time.Hour), pipeline.StateSucceeded)))

	got, err := h.List(ctx, "hà nội", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "r2", got[0].RunID, "newest first")
	assert.Equal(t, "fetch", got[0].Stage)
	assert.Equal(t, "timeout", got[0].Kind)
	assert.Equal(t, domain.KindTimeout.Hint(), got[0].Hint)

	assert.Equal(t, "r1", got[1].RunID)
	assert.Equal(t, "Hà Nội", got[1].City)
	assert.Equal(t, 38, got[1].CleanRows)
	assert.True(t, base.Equal(got[1].StartedAt))
	require.NotNil(t, got[1].FinishedAt)
	assert.True(t, base.Add(2*time.Second).Equal(*got[1].FinishedAt))
	assert.Empty(t, got[1].Hint)
}

func TestHistory_ListLimit(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.Record(ctx, run(id, "Huế", base.Add(time.Duration(i)*time.Minute), pipeline.StateSucceeded)))
	}

	got, err := h.List(ctx, "Huế", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].RunID)
	assert.Equal(t, "b", got[1].RunID)

	none, err := h.List(ctx, "Đà Nẵng", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHistory_RecordReplacesSameRun(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)
	st := run("r1", "Huế", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), pipeline.StateSucceeded)
	st.FinishedAt = nil
	st.State = pipeline.StateRunning
	require.NoError(t, h.Record(ctx, st))

	got, err := h.List(ctx, "Huế", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].FinishedAt)

	st = run("r1", "Huế", st.StartedAt, pipeline.StateSucceeded)
	require.NoError(t, h.Record(ctx, st))
	got, err = h.List(ctx, "Huế", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pipeline.StateSucceeded, got[0].State)
	assert.NotNil(t, got[0].FinishedAt)
}

func TestHistory_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	h, err := Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, h.Record(ctx, run("r1", "Huế", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), pipeline.StateSucceeded)))
	require.NoError(t, h.Close())

	h, err = Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer h.Close()
	got, err := h.List(ctx, "Huế", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestHistory_ClosedDatabaseIsStorageError(t *testing.T) {
	h := openTestHistory(t)
	require.NoError(t, h.Close())

	err := h.Record(context.Background(), run("r1", "Huế", time.Now(), pipeline.StateSucceeded))
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorIs(t, h.Ping(context.Background()), domain.ErrStorage)
}
