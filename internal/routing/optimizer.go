// Package routing turns DIGIPIN stop lists into time-windowed vehicle routes.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"digipin/internal/digipin"
	"digipin/internal/opt"
)

// Solver is the constrained routing search used by the Optimizer.
type Solver interface {
	Solve(ctx context.Context, m *opt.Model, p opt.SearchParameters) (*opt.Assignment, error)
}

// Options are the optimizer constants. DefaultOptions returns the production values.
type Options struct {
	SpeedMetersPerMinute int64         `json:"speedMetersPerMinute" yaml:"speed_meters_per_minute"`
	ServiceMinutes       int64         `json:"serviceMinutes" yaml:"service_minutes"`
	SlackMinutes         int64         `json:"slackMinutes" yaml:"slack_minutes"`
	HorizonMinutes       int64         `json:"horizonMinutes" yaml:"horizon_minutes"`
	PenaltyUnit          int64         `json:"penaltyUnit" yaml:"penalty_unit"`
	DepotWindow          TimeWindow    `json:"depotWindow" yaml:"-"`
	FixStartCumulToZero  bool          `json:"fixStartCumulToZero" yaml:"fix_start_cumul_to_zero"`
	TimeLimit            time.Duration `json:"timeLimit" yaml:"time_limit"`
	IterationsLimit      int           `json:"iterationsLimit" yaml:"iterations_limit"`
	Metaheuristic        string        `json:"metaheuristic" yaml:"metaheuristic"`
	Lambda               float64       `json:"lambda" yaml:"lambda"`
	Seed                 int64         `json:"seed" yaml:"seed"`
}

func DefaultOptions() Options {
	return Options{
		SpeedMetersPerMinute: 500,
		ServiceMinutes:       5,
		SlackMinutes:         30,
		HorizonMinutes:       480,
		PenaltyUnit:          1_000_000,
		DepotWindow:          TimeWindow{Start: 0, End: 9999},
		TimeLimit:            30 * time.Second,
		Metaheuristic:        opt.GuidedLocalSearch.String(),
		Lambda:               0.1,
	}
}

// SearchParameters converts o into solver parameters.
func (o Options) SearchParameters() (opt.SearchParameters, error) {
	p := opt.DefaultSearchParameters()
	p.TimeLimit = o.TimeLimit
	p.IterationsLimit = o.IterationsLimit
	p.Seed = o.Seed
	if o.Lambda > 0 {
		p.Lambda = o.Lambda
	}
	if o.Metaheuristic != "" {
		mh, err := opt.ParseMetaheuristic(o.Metaheuristic)
		if err != nil {
			return p, err
		}
		p.Metaheuristic = mh
	}
	return p, nil
}

// Optimizer is stateless and safe for concurrent use.
type Optimizer struct {
	solver Solver
	opts   Options
}

// New returns an Optimizer. A nil solver selects the built-in engine.
func New(solver Solver, opts Options) *Optimizer {
	if solver == nil {
		solver = opt.NewEngine()
	}
	if opts.SpeedMetersPerMinute <= 0 {
		opts.SpeedMetersPerMinute = 500
	}
	return &Optimizer{solver: solver, opts: opts}
}

// Options returns the optimizer's effective settings.
func (o *Optimizer) Options() Options { return o.opts }

// Optimize plans routes for req. Stops whose windows cannot be met are dropped
// at a priority-weighted penalty rather than failing the call.
func (o *Optimizer) Optimize(ctx context.Context, req RouteRequest) (*RouteAssignment, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	points, err := decodeNodes(req)
	if err != nil {
		return nil, err
	}
	params, err := o.opts.SearchParameters()
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	model := o.buildModel(req, points)
	a, err := o.solver.Solve(ctx, model, params)
	if err != nil {
		if errors.Is(err, opt.ErrNoSolution) {
			return nil, &NoSolutionError{}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &NoSolutionError{Reason: ctxErr.Error()}
		}
		return nil, fmt.Errorf("optimize: %w", err)
	}
	return reconstruct(req, model, a), nil
}

// Validate reports the error Optimize would return for req before any
// search starts, without running the solver.
func Validate(req RouteRequest) error {
	if err := validate(req); err != nil {
		return err
	}
	_, err := decodeNodes(req)
	return err
}

func validate(req RouteRequest) error {
	if len(req.Stops) == 0 {
		return &InsufficientStopsError{Points: 1}
	}
	if req.VehicleCount < 1 {
		return &InvalidRequestError{Field: "vehicles", Reason: fmt.Sprintf("must be >= 1, got %d", req.VehicleCount)}
	}
	for i, s := range req.Stops {
		if s.Priority < 1 || s.Priority > 3 {
			return &InvalidRequestError{Field: fmt.Sprintf("locations[%d].priority", i), Reason: fmt.Sprintf("must be 1, 2 or 3, got %d", s.Priority)}
		}
		if s.TimeWindow.Start > s.TimeWindow.End || s.TimeWindow.Start < 0 {
			return &InvalidRequestError{Field: fmt.Sprintf("locations[%d].time_window", i), Reason: "start must be >= 0 and <= end"}
		}
	}
	if w := req.DepotWindow; w != nil && (w.Start > w.End || w.Start < 0) {
		return &InvalidRequestError{Field: "depot_window", Reason: "start must be >= 0 and <= end"}
	}
	return nil
}

// decodeNodes returns depot then stops, decoding each distinct code once.
func decodeNodes(req RouteRequest) ([]digipin.GeoPoint, error) {
	cache := make(map[string]digipin.GeoPoint, len(req.Stops)+1)
	decode := func(field, code string) (digipin.GeoPoint, error) {
		key, err := digipin.Normalize(code)
		if err != nil {
			return digipin.GeoPoint{}, fmt.Errorf("%s: %w", field, err)
		}
		if p, ok := cache[key]; ok {
			return p, nil
		}
		p, err := digipin.Decode(key)
		if err != nil {
			return digipin.GeoPoint{}, fmt.Errorf("%s: %w", field, err)
		}
		cache[key] = p
		return p, nil
	}

	points := make([]digipin.GeoPoint, 0, len(req.Stops)+1)
	p, err := decode("depot", req.Depot)
	if err != nil {
		return nil, err
	}
	points = append(points, p)
	for i, s := range req.Stops {
		p, err := decode(fmt.Sprintf("locations[%d]", i), s.Code)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func (o *Optimizer) buildModel(req RouteRequest, points []digipin.GeoPoint) *opt.Model {
	n := len(points)
	// A vehicle beyond one per stop can never serve anything.
	m := &opt.Model{
		Vehicles: min(req.VehicleCount, len(req.Stops)),
		Depot:    0,
		Cost:     make([][]int64, n),
		Transit:  make([][]int64, n),
		Time: opt.Dimension{
			SlackMax:            o.opts.SlackMinutes,
			Capacity:            o.opts.HorizonMinutes,
			FixStartCumulToZero: o.opts.FixStartCumulToZero,
		},
		Windows: make([]opt.Range, n),
	}
	for i := range m.Cost {
		m.Cost[i] = make([]int64, n)
		m.Transit[i] = make([]int64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := int64(math.Round(digipin.Haversine(points[i], points[j])))
			m.Cost[i][j], m.Cost[j][i] = d, d
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Transit[i][j] = m.Cost[i][j]/o.opts.SpeedMetersPerMinute + o.opts.ServiceMinutes
		}
	}

	depotWindow := o.opts.DepotWindow
	if req.DepotWindow != nil {
		depotWindow = *req.DepotWindow
	}
	m.Windows[0] = opt.Range{Start: int64(depotWindow.Start), End: int64(depotWindow.End)}
	for i, s := range req.Stops {
		m.Windows[i+1] = opt.Range{Start: int64(s.TimeWindow.Start), End: int64(s.TimeWindow.End)}
		m.Disjunctions = append(m.Disjunctions, opt.Disjunction{
			Node:    i + 1,
			Penalty: int64(4-s.Priority) * o.opts.PenaltyUnit,
		})
	}
	return m
}

// reconstruct walks each vehicle's successor chain and maps nodes back to the
// caller's code strings. Only the vehicle's start and end indices become depot
// entries, so a stop sharing the depot's code stays on its route. Vehicles
// without stops are omitted.
func reconstruct(req RouteRequest, m *opt.Model, a *opt.Assignment) *RouteAssignment {
	out := &RouteAssignment{Routes: []VehicleRoute{}, Dropped: []string{}, Cost: a.Cost, Stats: a.Stats}
	for v := 0; v < m.Vehicles; v++ {
		start := a.Start(v)
		route := VehicleRoute{
			VehicleID: v,
			Stops:     []string{req.Depot},
			Arrivals:  []int64{a.Cumul(start)},
		}
		prev := m.Depot
		for idx := a.Next(start); !a.IsEnd(idx); idx = a.Next(idx) {
			node := a.IndexToNode(idx)
			route.DistanceMeters += m.Cost[prev][node]
			prev = node
			route.Stops = append(route.Stops, req.Stops[node-1].Code)
			route.Arrivals = append(route.Arrivals, a.Cumul(idx))
		}
		if len(route.Stops) == 1 {
			continue
		}
		end := a.End(v)
		route.DistanceMeters += m.Cost[prev][m.Depot]
		route.Stops = append(route.Stops, req.Depot)
		route.Arrivals = append(route.Arrivals, a.Cumul(end))
		route.DurationMinutes = a.Cumul(end) - a.Cumul(start)
		out.Routes = append(out.Routes, route)
	}
	for _, node := range a.Dropped {
		if node != m.Depot {
			out.Dropped = append(out.Dropped, req.Stops[node-1].Code)
		}
	}
	return out
}
