package opt

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Engine solves routing models. The zero value is ready to use and safe for
// concurrent Solve calls.
type Engine struct{}

// NewEngine returns an Engine.
func NewEngine() *Engine { return &Engine{} }

type solver struct {
	m        *Model
	params   SearchParameters
	ctx      context.Context
	deadline time.Time
	rng      *rand.Rand

	size    int
	depot   int
	windows []interval
	penalty []int64 // -1 for mandatory nodes

	lambda float64
	pen    []int // GLS arc penalties, size*size

	best     [][]int
	bestCost int64
	stats    Stats
	stop     bool
}

// Solve builds a first solution and improves it until the time limit, the
// iteration limit or ctx ends the search. The best solution found is returned.
func (e *Engine) Solve(ctx context.Context, m *Model, params SearchParameters) (*Assignment, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	s := newSolver(ctx, m, params, started)

	routes, err := s.buildFirstSolution()
	if err != nil {
		return nil, err
	}
	sol := s.newSolution(routes)
	s.stats.FirstSolutionCost = s.trueCost(sol)
	s.record(sol)

	switch {
	case params.TimeLimit <= 0 && params.IterationsLimit <= 0:
		s.localSearch(sol)
	case params.Metaheuristic == GreedyDescent:
		s.localSearch(sol)
	default:
		s.guidedLocalSearch(sol)
	}

	cumuls := make([][]int64, len(s.best))
	for v, r := range s.best {
		c, ok := s.schedule(r)
		if !ok {
			return nil, ErrNoSolution
		}
		cumuls[v] = c
	}
	a := newAssignment(m, s.best, cumuls)
	a.Cost = s.bestCost
	s.stats.BestCost = s.bestCost
	s.stats.Elapsed = time.Since(started)
	a.Stats = s.stats
	return a, nil
}

func newSolver(ctx context.Context, m *Model, params SearchParameters, started time.Time) *solver {
	seed := params.Seed
	if seed == 0 {
		seed = started.UnixNano()
	}
	n := m.Size()
	s := &solver{
		m:       m,
		params:  params,
		ctx:     ctx,
		rng:     rand.New(rand.NewSource(seed)),
		size:    n,
		depot:   m.Depot,
		windows: make([]interval, n),
		penalty: make([]int64, n),
		pen:     make([]int, n*n),
	}
	if params.TimeLimit > 0 {
		s.deadline = started.Add(params.TimeLimit)
	}
	for i := 0; i < n; i++ {
		w := interval{0, m.Time.Capacity}
		if len(m.Windows) == n {
			w = w.intersect(interval{m.Windows[i].Start, m.Windows[i].End})
		}
		s.windows[i] = w
		s.penalty[i] = -1
	}
	for _, d := range m.Disjunctions {
		s.penalty[d.Node] = d.Penalty
	}
	return s
}

func (s *solver) stopped() bool {
	if s.stop {
		return true
	}
	if s.ctx.Err() != nil || (!s.deadline.IsZero() && time.Now().After(s.deadline)) {
		s.stop = true
	}
	return s.stop
}

// buildFirstSolution runs path-cheapest-arc, then tries cheapest insertion for
// any mandatory node the paths left out. Both phases honour the search limits.
func (s *solver) buildFirstSolution() ([][]int, error) {
	if !s.feasible(nil) {
		return nil, ErrNoSolution
	}
	visited := make([]bool, s.size)
	visited[s.depot] = true
	routes := make([][]int, s.m.Vehicles)
	for v := range routes {
		route := []int{}
		// Out of budget: remaining vehicles stay empty and unvisited
		// optional nodes start dropped.
		for !s.stopped() {
			last := s.depot
			if len(route) > 0 {
				last = route[len(route)-1]
			}
			best := -1
			var bestCost int64
			for j := 0; j < s.size; j++ {
				if visited[j] {
					continue
				}
				c := s.m.Cost[last][j]
				if best >= 0 && c >= bestCost {
					continue
				}
				if !s.feasible(append(route[:len(route):len(route)], j)) {
					continue
				}
				best, bestCost = j, c
			}
			if best < 0 {
				break
			}
			route = append(route, best)
			visited[best] = true
		}
		routes[v] = route
	}

	for j := 0; j < s.size; j++ {
		if visited[j] || s.penalty[j] >= 0 {
			continue
		}
		if s.stopped() {
			return nil, ErrNoSolution
		}
		bv, bpos := -1, -1
		bestDelta := int64(math.MaxInt64)
		for v, r := range routes {
			for pos := 0; pos <= len(r); pos++ {
				cand := insertAt(r, pos, j)
				if !s.feasible(cand) {
					continue
				}
				if d := s.routeCost(cand) - s.routeCost(r); d < bestDelta {
					bv, bpos, bestDelta = v, pos, d
				}
			}
		}
		if bv < 0 {
			return nil, ErrNoSolution
		}
		routes[bv] = insertAt(routes[bv], bpos, j)
		visited[j] = true
	}
	return routes, nil
}

// guidedLocalSearch alternates descent on the penalty-augmented objective with
// penalising the highest-utility arc of the current local optimum.
func (s *solver) guidedLocalSearch(sol *solution) {
	s.localSearch(sol)
	arcs := s.arcCount(sol)
	if arcs == 0 {
		return
	}
	s.lambda = s.params.Lambda * float64(s.trueCost(sol)-s.droppedPenalty(sol)) / float64(arcs)
	if s.lambda <= 0 {
		s.lambda = s.params.Lambda
	}

	for !s.stopped() {
		if s.params.IterationsLimit > 0 && s.stats.Iterations >= s.params.IterationsLimit {
			return
		}
		s.stats.Iterations++
		if !s.penalize(sol) {
			return
		}
		s.refresh(sol)
		s.localSearch(sol)
	}
}

// penalize bumps the penalty of the max-utility arc in sol. It reports false
// when every arc has zero cost and penalties cannot steer the search.
func (s *solver) penalize(sol *solution) bool {
	bestUtil := 0.0
	var cands []int
	for _, r := range sol.routes {
		if len(r) == 0 {
			continue
		}
		prev := s.depot
		for _, node := range append(r[:len(r):len(r)], s.depot) {
			arc := prev*s.size + node
			u := float64(s.m.Cost[prev][node]) / float64(1+s.pen[arc])
			switch {
			case u > bestUtil:
				bestUtil = u
				cands = append(cands[:0], arc)
			case u == bestUtil && u > 0:
				cands = append(cands, arc)
			}
			prev = node
		}
	}
	if len(cands) == 0 {
		return false
	}
	s.pen[cands[s.rng.Intn(len(cands))]]++
	s.stats.Penalized++
	return true
}

func (s *solver) arcCount(sol *solution) int {
	n := 0
	for _, r := range sol.routes {
		if len(r) > 0 {
			n += len(r) + 1
		}
	}
	return n
}

// record keeps sol if its true cost beats the best seen so far.
func (s *solver) record(sol *solution) {
	c := s.trueCost(sol)
	if s.best != nil && c >= s.bestCost {
		return
	}
	if s.best != nil {
		s.stats.Improvements++
	}
	s.bestCost = c
	s.best = make([][]int, len(sol.routes))
	for v, r := range sol.routes {
		s.best[v] = append([]int(nil), r...)
	}
}
