// Package sqlite keeps a ledger of finished pipeline runs in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const opHistory = "history"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	city        TEXT NOT NULL,
	city_key    TEXT NOT NULL,
	state       TEXT NOT NULL,
	stage       TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	raw_rows    INTEGER NOT NULL DEFAULT 0,
	rejected    INTEGER NOT NULL DEFAULT 0,
	clean_rows  INTEGER NOT NULL DEFAULT 0,
	path        TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS runs_city_started ON runs (city_key, started_at DESC);
`

var _ pipeline.HistoryRecorder = (*History)(nil)

// History records finished runs and lists them per city, newest first.
type History struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the history database at path.
// Use ":memory:" for a throwaway ledger.
func Open(ctx context.Context, path string, logger *zap.Logger) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindStorage, Op: opHistory, Path: path, Index: -1, Err: err}
	}
	// A single connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, &domain.Error{Kind: domain.KindStorage, Op: opHistory, Path: path, Index: -1, Msg: "migrate failed", Err: err}
	}
	logger.Info("run history opened", zap.String("path", path))
	return &History{db: db, logger: logger}, nil
}

// Record stores a run. Recording the same run id again replaces the row.
func (h *History) Record(ctx context.Context, st pipeline.Status) error {
	var finished sql.NullString
	if st.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*st.FinishedAt), Valid: true}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, city, city_key, state, stage, kind, message, raw_rows, rejected, clean_rows, path, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RunID, st.City, cityKey(st.City), st.State, st.Stage, st.Kind, st.Message,
		st.RawRows, st.Rejected, st.CleanRows, st.Path, formatTime(st.StartedAt), finished,
	)
	if err != nil {
		return &domain.Error{Kind: domain.KindStorage, Op: opHistory, City: st.City, Index: -1, Msg: "insert failed", Err: err}
	}
	return nil
}

// List returns up to limit runs for city, newest first. A limit of zero or
// less returns every run.
func (h *History) List(ctx context.Context, city string, limit int) ([]pipeline.Status, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, city, state, stage, kind, message, raw_rows, rejected, clean_rows, path, started_at, finished_at
		FROM runs
		WHERE city_key = ?
		ORDER BY started_at DESC, run_id
		LIMIT ?`, cityKey(city), limit)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindStorage, Op: opHistory, City: city, Index: -1, Msg: "query failed", Err: err}
	}
	defer rows.Close()

	var out []pipeline.Status
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, &domain.Error{Kind: domain.KindStorage, Op: opHistory, City: city, Index: -1, Msg: "scan failed", Err: err}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.Error{Kind: domain.KindStorage, Op: opHistory, City: city, Index: -1, Err: err}
	}
	return out, nil
}

func scanStatus(rows *sql.Rows) (pipeline.Status, error) {
	var (
		st       pipeline.Status
		started  string
		finished sql.NullString
	)
	if err := rows.Scan(
		&st.RunID, &st.City, &st.State, &st.Stage, &st.Kind, &st.Message,
		&st.RawRows, &st.Rejected, &st.CleanRows, &st.Path, &started, &finished,
	); err != nil {
		return st, err
	}
	var err error
	if st.StartedAt, err = parseTime(started); err != nil {
		return st, err
	}
	if finished.Valid {
		ts, err := parseTime(finished.String)
		if err != nil {
			return st, err
		}
		st.FinishedAt = &ts
	}
	if st.Kind != "" {
		st.Hint = hintFor(st.Kind)
	}
	return st, nil
}

// Ping checks the database is reachable.
func (h *History) Ping(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return &domain.Error{Kind: domain.KindStorage, Op: opHistory, Index: -1, Err: err}
	}
	return nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.New("bad timestamp " + s)
	}
	return t, nil
}

func hintFor(kind string) string {
	for k := domain.KindUnknown; k <= domain.KindStorage; k++ {
		if k.String() == kind {
			return k.Hint()
		}
	}
	return domain.KindUnknown.Hint()
}

func cityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
