package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"digipin/internal/metrics"
	"digipin/internal/obs"
	"digipin/internal/routing"
)

const maxBodyBytes = 1 << 20

// optimize runs a synchronous solve bounded by the solver budget plus grace.
func (s *Server) optimize(ctx context.Context, req routing.RouteRequest) (_ *routing.RouteAssignment, err error) {
	defer obs.Time(ctx, "optimize")(&err)
	ctx, cancel := context.WithTimeout(ctx, s.solveTimeout())
	defer cancel()

	start := time.Now()
	res, err := s.Optimizer.Optimize(ctx, req)
	metrics.OptimizeDuration.Observe(time.Since(start).Seconds())
	metrics.OptimizeRuns.WithLabelValues(outcome(res, err)).Inc()
	if err == nil {
		metrics.DroppedStops.Add(float64(len(res.Dropped)))
	}
	return res, err
}

func outcome(res *routing.RouteAssignment, err error) string {
	var (
		nos *routing.NoSolutionError
		bad *routing.InvalidRequestError
		ins *routing.InsufficientStopsError
		ice *routing.InvalidCodeError
	)
	switch {
	case err == nil && len(res.Dropped) > 0:
		return "dropped"
	case err == nil:
		return "ok"
	case errors.As(err, &nos):
		return "no_solution"
	case errors.As(err, &bad), errors.As(err, &ins), errors.As(err, &ice):
		return "invalid"
	default:
		return "error"
	}
}

// OptimizeRouteHandler handles POST /api/optimize-route
func (s *Server) OptimizeRouteHandler(w http.ResponseWriter, r *http.Request) {
	var req routing.RouteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	res, err := s.optimize(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OptimizeCSVHandler handles POST /api/optimize-route/csv?depot=&vehicles=
// with the stop list as the request body.
func (s *Server) OptimizeCSVHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	depot := strings.TrimSpace(q.Get("depot"))
	if depot == "" {
		writeFieldProblem(w, http.StatusBadRequest, "Missing parameter", "depot is required", r.URL.Path, "depot")
		return
	}
	vehicles := 1
	if v := q.Get("vehicles"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeFieldProblem(w, http.StatusBadRequest, "Invalid parameter", "vehicles must be an integer", r.URL.Path, "vehicles")
			return
		}
		vehicles = n
	}
	stops, err := s.Stops.Parse(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.optimize(r.Context(), routing.RouteRequest{Depot: depot, VehicleCount: vehicles, Stops: stops})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OptimizerConfigHandler returns the effective optimizer settings.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	o := s.Optimizer.Options()
	writeJSON(w, http.StatusOK, map[string]any{
		"speedMetersPerMinute": o.SpeedMetersPerMinute,
		"serviceMinutes":       o.ServiceMinutes,
		"slackMinutes":         o.SlackMinutes,
		"horizonMinutes":       o.HorizonMinutes,
		"penaltyUnit":          o.PenaltyUnit,
		"depotWindow":          o.DepotWindow,
		"fixStartCumulToZero":  o.FixStartCumulToZero,
		"timeLimit":            o.TimeLimit.String(),
		"iterationsLimit":      o.IterationsLimit,
		"firstSolution":        "PATH_CHEAPEST_ARC",
		"metaheuristic":        o.Metaheuristic,
		"lambda":               o.Lambda,
	})
}
