package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/couchcryptid/forecast-etl/internal/config"
	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	"github.com/couchcryptid/forecast-etl/internal/stats"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
)

const defaultRunsLimit = 20

type cityView struct {
	Name   string           `json:"name"`
	Query  string           `json:"query"`
	Status *pipeline.Status `json:"status,omitempty"`
}

func (s *Server) handleCities(w http.ResponseWriter, _ *http.Request) {
	names := s.deps.Cities.CityNames()
	out := make([]cityView, 0, len(names))
	for _, name := range names {
		city, _ := s.deps.Cities.City(name)
		v := cityView{Name: city.Name, Query: city.Query}
		if st, ok := s.deps.Runner.Status(city.Name); ok {
			v.Status = &st
		}
		out = append(out, v)
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	city, ok := s.city(w, r)
	if !ok {
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		st, err := s.deps.Runner.Submit(city.Name)
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		sharedobs.WriteJSON(w, http.StatusAccepted, st)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.WaitTimeout)
	defer cancel()
	st, err := s.deps.Runner.SubmitAndWait(ctx, city.Name)
	switch {
	case err != nil && st.RunID != "":
		// Still running; the caller polls status.
		sharedobs.WriteJSON(w, http.StatusAccepted, st)
	case err != nil:
		writeSubmitError(w, err)
	case st.State == pipeline.StateFailed:
		writeError(w, st.Err, st.RunID)
	default:
		sharedobs.WriteJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	city, ok := s.city(w, r)
	if !ok {
		return
	}
	st, ok := s.deps.Runner.Status(city.Name)
	if !ok {
		writeProblem(w, http.StatusNotFound, "no run recorded for "+city.Name, "not_found", "refresh the city first")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	city, ok := s.city(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Store.ReadCleaned(city.Name)
	if err != nil {
		writeError(w, err, "")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"city": city.Name,
		"rows": domain.CleanedRows(t),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	city, ok := s.city(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Store.ReadCleaned(city.Name)
	if err != nil {
		writeError(w, err, "")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, stats.Describe(city.Name, t))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	city, ok := s.city(w, r)
	if !ok {
		return
	}
	if s.deps.History == nil {
		writeProblem(w, http.StatusNotFound, "run history is disabled", "not_found", "set HISTORY_PATH to record runs")
		return
	}
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, http.StatusBadRequest, "limit must be a positive integer", "bad_request", "")
			return
		}
		limit = n
	}
	runs, err := s.deps.History.List(r.Context(), city.Name, limit)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if runs == nil {
		runs = []pipeline.Status{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		metric = domain.FieldTemperature
	}

	names := q["city"]
	if len(names) == 0 {
		names = s.deps.Cities.CityNames()
	}
	cities := make([]string, 0, len(names))
	for _, name := range names {
		city, ok := s.deps.Cities.City(name)
		if !ok {
			writeError(w, &domain.Error{Kind: domain.KindNotFound, Op: "resolve", City: name, Index: -1, Msg: "city is not configured"}, "")
			return
		}
		cities = append(cities, city.Name)
	}

	comparison, err := stats.Compare(s.deps.Store, cities, metric, s.logger)
	if err != nil {
		if errors.Is(err, stats.ErrUnknownMetric) {
			writeProblem(w, http.StatusBadRequest, err.Error(), "bad_request",
				"use one of "+strings.Join(stats.Fields, ", "))
			return
		}
		writeError(w, err, "")
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, comparison)
}

// city resolves the {city} path parameter, writing a 404 when it is unknown.
func (s *Server) city(w http.ResponseWriter, r *http.Request) (config.City, bool) {
	name := chi.URLParam(r, "city")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	city, ok := s.deps.Cities.City(name)
	if !ok {
		writeError(w, &domain.Error{Kind: domain.KindNotFound, Op: "resolve", City: name, Index: -1, Msg: "city is not configured"}, "")
		return config.City{}, false
	}
	return city, true
}
