package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"digipin/internal/events"
	"digipin/internal/routing"
	"digipin/internal/store"
)

type submitJobRequest struct {
	routing.RouteRequest
	PlanDate    string `json:"planDate,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// SubmitJobHandler handles POST /v1/optimize/jobs
func (s *Server) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if s.Jobs == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Jobs disabled", "async optimization is not configured", r.URL.Path)
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.PlanDate != "" {
		if _, err := time.Parse(time.DateOnly, req.PlanDate); err != nil {
			writeFieldProblem(w, http.StatusBadRequest, "Invalid request", "planDate must be YYYY-MM-DD", r.URL.Path, "planDate")
			return
		}
	}
	job, err := s.Jobs.Submit(r.Context(), req.RouteRequest, req.PlanDate, req.CallbackURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/optimize/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// JobHandler handles GET /v1/optimize/jobs/{id}
func (s *Server) JobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.Store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// terminalEvent synthesizes the final event of a finished job so late
// subscribers still see how it ended.
func terminalEvent(job store.Job) (events.Event, bool) {
	switch job.Status {
	case store.JobDone:
		data := map[string]any{}
		if len(job.Result) > 0 {
			data["result"] = job.Result
		}
		return events.Event{Type: events.JobCompleted, JobID: job.ID, TS: job.UpdatedAt, Data: data}, true
	case store.JobFailed:
		return events.Event{Type: events.JobFailed, JobID: job.ID, TS: job.UpdatedAt, Data: map[string]any{"error": job.Error}}, true
	}
	return events.Event{}, false
}

func writeSSE(w http.ResponseWriter, f http.Flusher, evt events.Event) {
	b, _ := json.Marshal(evt)
	fmt.Fprintf(w, "event: %s\n", evt.Type)
	fmt.Fprintf(w, "data: %s\n\n", b)
	f.Flush()
}

func writeHeartbeat(w http.ResponseWriter, f http.Flusher, id string) {
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"jobId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
	f.Flush()
}

// JobEventsHandler streams a job's lifecycle as server-sent events until it
// completes or fails.
func (s *Server) JobEventsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if evt, done := terminalEvent(job); done {
		writeSSE(w, flusher, evt)
		return
	}

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	// The job may have finished between the first read and Subscribe.
	if job, err = s.Store.GetJob(r.Context(), id); err == nil {
		if evt, done := terminalEvent(job); done {
			writeSSE(w, flusher, evt)
			return
		}
	}
	writeHeartbeat(w, flusher, id)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, flusher, evt)
			if evt.Terminal() {
				return
			}
		case <-ticker.C:
			writeHeartbeat(w, flusher, id)
		}
	}
}
