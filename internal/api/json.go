package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"digipin/internal/digipin"
	"digipin/internal/geocode"
	"digipin/internal/integrations"
	"digipin/internal/jobs"
	"digipin/internal/routing"
	"digipin/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Field    string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeFieldProblem(w, status, title, detail, instance, "")
}

func writeFieldProblem(w http.ResponseWriter, status int, title, detail, instance, field string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
		Field:    field,
	})
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		oob  *digipin.OutOfBoundsError
		ice  *digipin.InvalidCodeError
		ins  *routing.InsufficientStopsError
		bad  *routing.InvalidRequestError
		nos  *routing.NoSolutionError
		pe   *integrations.ParseError
		upst *geocode.UpstreamError
	)
	path := r.URL.Path
	switch {
	case errors.As(err, &oob):
		writeFieldProblem(w, http.StatusBadRequest, "Coordinates out of bounds", err.Error(), path, oob.Field)
	case errors.As(err, &ice):
		writeProblem(w, http.StatusBadRequest, "Invalid DIGIPIN", err.Error(), path)
	case errors.As(err, &ins):
		writeProblem(w, http.StatusBadRequest, "Insufficient stops", err.Error(), path)
	case errors.As(err, &bad):
		writeFieldProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), path, bad.Field)
	case errors.As(err, &pe):
		writeFieldProblem(w, http.StatusBadRequest, "Invalid stop list", err.Error(), path, pe.Field)
	case errors.As(err, &nos), errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusInternalServerError, "No solution found", err.Error(), path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not found", err.Error(), path)
	case errors.Is(err, jobs.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		writeProblem(w, http.StatusServiceUnavailable, "Job queue full", err.Error(), path)
	case errors.Is(err, geocode.ErrNoResult):
		writeProblem(w, http.StatusNotFound, "Address not found", err.Error(), path)
	case errors.As(err, &upst):
		writeProblem(w, http.StatusBadGateway, "Geocoding failed", err.Error(), path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), path)
	}
}
