package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a city already has a cycle executing.
var ErrRunInProgress = errors.New("a run for this city is already in progress")

// ErrRunnerClosed is returned for submissions after Close.
var ErrRunnerClosed = errors.New("runner is closed")

// Run states.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Status is the latest known outcome of a city's cycle.
type Status struct {
	RunID      string     `json:"run_id"`
	City       string     `json:"city"`
	State      string     `json:"state"`
	Stage      string     `json:"stage,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Hint       string     `json:"hint,omitempty"`
	Message    string     `json:"message,omitempty"`
	RawRows    int        `json:"raw_rows"`
	Rejected   int        `json:"rejected"`
	CleanRows  int        `json:"clean_rows"`
	Path       string     `json:"path,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Err error `json:"-"`
}

// Cycler runs one cycle for a city.
type Cycler interface {
	Resolve(name string) (config.City, error)
	RunCycle(ctx context.Context, name string) (Result, error)
}

// HistoryRecorder persists finished runs.
type HistoryRecorder interface {
	Record(ctx context.Context, st Status) error
}

type handoff struct {
	status Status
	waiter chan Status
}

// Runner executes cycles on worker goroutines, at most one per city, and
// hands every outcome to a single dispatcher goroutine that owns the status
// table. Workers never touch the table. The handoff channel is unbuffered, so
// once Submit returns the running status is visible to Status.
//
// Cycles run on a context detached from the submitter, so a client that
// disconnects does not abort a run that has started.
type Runner struct {
	cycler  Cycler
	history HistoryRecorder
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	inFlight map[string]string // city key -> run id
	closed   bool
	wg       sync.WaitGroup

	outcomes chan handoff
	queries  chan func(map[string]Status)
	done     chan struct{}
}

// NewRunner creates a Runner and starts its dispatcher. history may be nil.
func NewRunner(cycler Cycler, history HistoryRecorder, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) *Runner {
	r := &Runner{
		cycler:   cycler,
		history:  history,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		inFlight: make(map[string]string),
		outcomes: make(chan handoff),
		queries:  make(chan func(map[string]Status)),
		done:     make(chan struct{}),
	}
	go r.dispatch()
	return r
}

// Submit starts a cycle for city in the background and returns its running
// status. It fails with a KindNotFound error for unknown cities and with
// ErrRunInProgress when the city already has a cycle executing.
func (r *Runner) Submit(city string) (Status, error) {
	st, _, err := r.submit(city, false)
	return st, err
}

// SubmitAndWait starts a cycle for city and waits for its outcome. When ctx
// ends first the cycle keeps running and the running status is returned
// with ctx's error.
func (r *Runner) SubmitAndWait(ctx context.Context, city string) (Status, error) {
	st, waiter, err := r.submit(city, true)
	if err != nil {
		return st, err
	}
	select {
	case final := <-waiter:
		return final, nil
	case <-ctx.Done():
		return st, ctx.Err()
	}
}

// RefreshAll runs a cycle for every named city concurrently and waits for all
// of them. Cities that cannot be submitted get a failed status carrying the
// submission error.
func (r *Runner) RefreshAll(ctx context.Context, cities []string) []Status {
	out := make([]Status, len(cities))
	var wg sync.WaitGroup
	for i, city := range cities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := r.SubmitAndWait(ctx, city)
			if err != nil && st.RunID == "" {
				st = r.rejected(city, err)
			}
			out[i] = st
		}()
	}
	wg.Wait()
	return out
}

func (r *Runner) rejected(city string, err error) Status {
	now := r.clock.Now().UTC()
	st := Status{City: city, State: StateFailed, StartedAt: now, FinishedAt: &now, Err: err, Message: err.Error()}
	if kind := domain.KindOf(err); kind != domain.KindUnknown {
		st.Kind, st.Hint, st.Stage = kind.String(), kind.Hint(), StageOf(err)
	}
	return st
}

func (r *Runner) submit(name string, wait bool) (Status, chan Status, error) {
	city, err := r.cycler.Resolve(name)
	if err != nil {
		return Status{}, nil, err
	}
	key := cityKey(city.Name)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Status{}, nil, ErrRunnerClosed
	}
	if _, busy := r.inFlight[key]; busy {
		r.mu.Unlock()
		return Status{}, nil, ErrRunInProgress
	}
	st := Status{
		RunID:     uuid.NewString(),
		City:      city.Name,
		State:     StateRunning,
		StartedAt: r.clock.Now().UTC(),
	}
	r.inFlight[key] = st.RunID
	r.wg.Add(1)
	r.mu.Unlock()

	var waiter chan Status
	if wait {
		waiter = make(chan Status, 1)
	}
	r.outcomes <- handoff{status: st}
	go r.work(st, waiter)

	r.logger.Info("run submitted", zap.String("city", st.City), zap.String("run_id", st.RunID))
	return st, waiter, nil
}

func (r *Runner) work(st Status, waiter chan Status) {
	defer r.wg.Done()
	r.metrics.RunsInFlight.Inc()
	defer r.metrics.RunsInFlight.Dec()

	ctx := context.Background()
	res, err := r.cycler.RunCycle(ctx, st.City)
	st = complete(st, res, err, r.clock.Now())

	if r.history != nil {
		if herr := r.history.Record(ctx, st); herr != nil {
			r.logger.Warn("record run history failed", zap.String("run_id", st.RunID), zap.Error(herr))
		}
	}

	r.logger.Info("run finished",
		zap.String("city", st.City),
		zap.String("run_id", st.RunID),
		zap.String("state", st.State),
		zap.String("stage", st.Stage),
		zap.Int("clean_rows", st.CleanRows))
	r.outcomes <- handoff{status: st, waiter: waiter}
}

func complete(st Status, res Result, err error, now time.Time) Status {
	finished := now.UTC()
	st.FinishedAt = &finished
	st.RawRows = len(res.Raw.Records)
	st.Rejected = len(res.Rejected)
	st.CleanRows = res.Cleaned.Len()
	st.Path = res.Cleaned.Path
	if err != nil {
		kind := domain.KindOf(err)
		st.State = StateFailed
		st.Stage = StageOf(err)
		st.Kind = kind.String()
		st.Hint = kind.Hint()
		st.Message = err.Error()
		st.Err = err
		return st
	}
	st.State = StateSucceeded
	return st
}

// dispatch is the only goroutine that reads or writes the status table.
func (r *Runner) dispatch() {
	defer close(r.done)
	statuses := make(map[string]Status)
	for {
		select {
		case h, ok := <-r.outcomes:
			if !ok {
				return
			}
			key := cityKey(h.status.City)
			statuses[key] = h.status
			if h.status.State != StateRunning {
				r.mu.Lock()
				if r.inFlight[key] == h.status.RunID {
					delete(r.inFlight, key)
				}
				r.mu.Unlock()
			}
			if h.waiter != nil {
				h.waiter <- h.status
			}
		case fn := <-r.queries:
			fn(statuses)
		}
	}
}

func (r *Runner) inspect(fn func(map[string]Status)) bool {
	finished := make(chan struct{})
	select {
	case r.queries <- func(m map[string]Status) {
		fn(m)
		close(finished)
	}:
		<-finished
		return true
	case <-r.done:
		return false
	}
}

// Status returns the latest status for city.
func (r *Runner) Status(city string) (Status, bool) {
	var (
		st Status
		ok bool
	)
	r.inspect(func(m map[string]Status) {
		st, ok = m[cityKey(city)]
	})
	return st, ok
}

// Statuses returns the latest status of every city that has run, by city name.
func (r *Runner) Statuses() []Status {
	var out []Status
	r.inspect(func(m map[string]Status) {
		out = make([]Status, 0, len(m))
		for _, st := range m {
			out = append(out, st)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].City < out[j].City })
	return out
}

// Close refuses new submissions, waits for running cycles to finish and
// stops the dispatcher.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	close(r.outcomes)
	<-r.done
}

func cityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
