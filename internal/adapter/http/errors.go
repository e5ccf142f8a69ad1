package http

import (
	"errors"
	"net/http"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"github.com/couchcryptid/forecast-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

type problem struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Hint  string `json:"hint,omitempty"`
	Stage string `json:"stage,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

// statusFor maps a failure kind to the HTTP status it is served with.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound, domain.KindMissingInput:
		return http.StatusNotFound
	case domain.KindRateLimit:
		return http.StatusTooManyRequests
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindConnection, domain.KindAuth, domain.KindAPI, domain.KindMalformedResponse:
		return http.StatusBadGateway
	case domain.KindMalformedRecord, domain.KindMalformedInput, domain.KindSchema,
		domain.KindEmptyResult, domain.KindDateParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, runID string) {
	kind := domain.KindOf(err)
	p := problem{Error: err.Error(), Kind: kind.String(), Hint: kind.Hint(), RunID: runID}
	if kind != domain.KindUnknown {
		p.Stage = pipeline.StageOf(err)
	}
	sharedobs.WriteJSON(w, statusFor(kind), p)
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeProblem(w, http.StatusConflict, err.Error(), "conflict", "wait for the running refresh to finish")
	case errors.Is(err, pipeline.ErrRunnerClosed):
		writeProblem(w, http.StatusServiceUnavailable, err.Error(), "unavailable", "the service is shutting down")
	default:
		writeError(w, err, "")
	}
}

func writeProblem(w http.ResponseWriter, status int, msg, kind, hint string) {
	sharedobs.WriteJSON(w, status, problem{Error: msg, Kind: kind, Hint: hint})
}
