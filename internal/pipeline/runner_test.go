package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/adapter/owm"
	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- mocks ---

// gatedCycler blocks every cycle until release is closed.
type gatedCycler struct {
	release chan struct{}
	started chan string
	err     error
}

func newGatedCycler() *gatedCycler {
	return &gatedCycler{release: make(chan struct{}), started: make(chan string, 8)}
}

func (c *gatedCycler) Resolve(name string) (config.City, error) {
	cfg := config.Config{Cities: []config.City{{Name: "Hà Nội", Query: "Hanoi"}, {Name: "Huế", Query: "Hue"}}}
	city, ok := cfg.City(name)
	if !ok {
		return config.City{}, &domain.Error{Kind: domain.KindNotFound, Op: "resolve", City: name, Index: -1}
	}
	return city, nil
}

func (c *gatedCycler) RunCycle(_ context.Context, name string) (pipeline.Result, error) {
	c.started <- name
	<-c.release
	if c.err != nil {
		return pipeline.Result{City: name}, c.err
	}
	return pipeline.Result{
		City:    name,
		Raw:     domain.RawDataset{Records: make([]domain.ForecastRecord, 3)},
		Cleaned: domain.CleanedDataset{Rows: make([]domain.CleanedRow, 2), Path: "/data/processed/x.csv"},
	}, nil
}

type memoryHistory struct {
	mu   sync.Mutex
	runs []pipeline.Status
}

func (h *memoryHistory) Record(_ context.Context, st pipeline.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, st)
	return nil
}

func newTestRunner(cycler pipeline.Cycler, history pipeline.HistoryRecorder) (*pipeline.Runner, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return pipeline.NewRunner(cycler, history, clock, zap.NewNop(), metrics), metrics
}

// --- tests ---

func TestRunner_SubmitAndWait(t *testing.T) {
	cycler := newGatedCycler()
	close(cycler.release)
	history := &memoryHistory{}
	r, _ := newTestRunner(cycler, history)
	defer r.Close()

	st, err := r.SubmitAndWait(context.Background(), "huế")
	require.NoError(t, err)

	assert.Equal(t, "Huế", st.City)
	assert.Equal(t, pipeline.StateSucceeded, st.State)
	assert.Equal(t, 3, st.RawRows)
	assert.Equal(t, 2, st.CleanRows)
	require.NotNil(t, st.FinishedAt)
	_, err = uuid.Parse(st.RunID)
	require.NoError(t, err)

	latest, ok := r.Status("HUẾ")
	require.True(t, ok)
	assert.Equal(t, st.RunID, latest.RunID)
	assert.Equal(t, pipeline.StateSucceeded, latest.State)

	require.Len(t, history.runs, 1)
	assert.Equal(t, st.RunID, history.runs[0].RunID)
}

func TestRunner_SecondSubmissionRefusedWhileRunning(t *testing.T) {
	cycler := newGatedCycler()
	r, metrics := newTestRunner(cycler, nil)
	defer r.Close()

	first, err := r.Submit("Hà Nội")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateRunning, first.State)
	<-cycler.started

	_, err = r.Submit("hà nội")
	require.ErrorIs(t, err, pipeline.ErrRunInProgress)

	running, ok := r.Status("Hà Nội")
	require.True(t, ok)
	assert.Equal(t, pipeline.StateRunning, running.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsInFlight))

	// Other cities are independent.
	_, err = r.Submit("Huế")
	require.NoError(t, err)
	<-cycler.started

	close(cycler.release)
	require.Eventually(t, func() bool {
		st, _ := r.Status("Hà Nội")
		return st.State == pipeline.StateSucceeded
	}, time.Second, 5*time.Millisecond)

	again, err := r.SubmitAndWait(context.Background(), "Hà Nội")
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, again.RunID)
}

func TestRunner_UnknownCity(t *testing.T) {
	r, _ := newTestRunner(newGatedCycler(), nil)
	defer r.Close()

	_, err := r.Submit("Atlantis")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, ok := r.Status("Atlantis")
	assert.False(t, ok)
}

func TestRunner_FailedCycleCarriesKindAndHint(t *testing.T) {
	cycler := newGatedCycler()
	cycler.err = &domain.Error{Kind: domain.KindSchema, Op: "schema", Fields: []string{"pressure"}, Index: -1, Msg: "required columns missing"}
	close(cycler.release)
	r, _ := newTestRunner(cycler, nil)
	defer r.Close()

	st, err := r.SubmitAndWait(context.Background(), "Huế")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StateFailed, st.State)
	assert.Equal(t, "schema", st.Stage)
	assert.Equal(t, "schema", st.Kind)
	assert.Equal(t, domain.KindSchema.Hint(), st.Hint)
	assert.Contains(t, st.Message, "pressure")
	assert.ErrorIs(t, st.Err, domain.ErrSchema)
}

func TestRunner_WaitTimeoutLeavesRunGoing(t *testing.T) {
	cycler := newGatedCycler()
	r, _ := newTestRunner(cycler, nil)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := r.SubmitAndWait(ctx, "Huế")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, pipeline.StateRunning, st.State)

	close(cycler.release)
	require.Eventually(t, func() bool {
		latest, _ := r.Status("Huế")
		return latest.State == pipeline.StateSucceeded && latest.RunID == st.RunID
	}, time.Second, 5*time.Millisecond)
}

func TestRunner_RefreshAll(t *testing.T) {
	cycler := newGatedCycler()
	close(cycler.release)
	r, _ := newTestRunner(cycler, nil)
	defer r.Close()

	statuses := r.RefreshAll(context.Background(), []string{"Hà Nội", "Atlantis", "Huế"})
	require.Len(t, statuses, 3)

	assert.Equal(t, pipeline.StateSucceeded, statuses[0].State)
	assert.Equal(t, pipeline.StateFailed, statuses[1].State)
	assert.Equal(t, "not_found", statuses[1].Kind)
	assert.Equal(t, pipeline.StateSucceeded, statuses[2].State)

	all := r.Statuses()
	require.Len(t, all, 2)
	assert.Equal(t, "Huế", all[0].City)
	assert.Equal(t, "Hà Nội", all[1].City)
}

func TestRunner_CloseWaitsAndRefuses(t *testing.T) {
	cycler := newGatedCycler()
	history := &memoryHistory{}
	r, _ := newTestRunner(cycler, history)

	_, err := r.Submit("Huế")
	require.NoError(t, err)
	<-cycler.started

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a cycle was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(cycler.release)
	<-closed
	assert.Len(t, history.runs, 1)

	_, err = r.Submit("Huế")
	assert.ErrorIs(t, err, pipeline.ErrRunnerClosed)
	_, ok := r.Status("Huế")
	assert.False(t, ok, "status table is gone after Close")
}

func TestRunner_WithRealPipeline(t *testing.T) {
	h := newHarness(t, owm.NewFileSource(fixturePath), nil)
	r := pipeline.NewRunner(h.pipeline, nil, h.clock, zap.NewNop(), h.metrics)
	defer r.Close()

	st, err := r.SubmitAndWait(context.Background(), testCity)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSucceeded, st.State)
	assert.Equal(t, 5, st.RawRows)
	assert.Equal(t, 2, st.Rejected)
	assert.Equal(t, 5, st.CleanRows)
	assert.FileExists(t, st.Path)
}
