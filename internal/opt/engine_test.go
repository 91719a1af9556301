package opt

import (
	"context"
	"errors"
	"testing"
	"time"
)

// lineModel places node i at xs[i] metres on a line; node 0 is the depot.
func lineModel(vehicles int, xs []int64) *Model {
	n := len(xs)
	m := &Model{
		Vehicles: vehicles,
		Cost:     make([][]int64, n),
		Transit:  make([][]int64, n),
		Time:     Dimension{SlackMax: 30, Capacity: 480},
		Windows:  make([]Range, n),
	}
	for i := 0; i < n; i++ {
		m.Cost[i] = make([]int64, n)
		m.Transit[i] = make([]int64, n)
		for j := 0; j < n; j++ {
			d := xs[i] - xs[j]
			if d < 0 {
				d = -d
			}
			m.Cost[i][j] = d
			m.Transit[i][j] = d/500 + 5
		}
		m.Windows[i] = Range{0, 9999}
		if i > 0 {
			m.Disjunctions = append(m.Disjunctions, Disjunction{Node: i, Penalty: 3_000_000})
		}
	}
	return m
}

// shuttleModel has three mandatory stops where each vehicle can serve only one:
// every arc takes 15 minutes and the shift is 40.
func shuttleModel(vehicles int) *Model {
	m := lineModel(vehicles, []int64{0, 5000, 6000, 7000})
	m.Time.Capacity = 40
	m.Disjunctions = nil
	for i := range m.Transit {
		for j := range m.Transit[i] {
			if i != j {
				m.Transit[i][j] = 15
			}
		}
	}
	return m
}

func testParams() SearchParameters {
	p := DefaultSearchParameters()
	p.TimeLimit = 2 * time.Second
	p.IterationsLimit = 50
	p.Seed = 1
	return p
}

func walk(a *Assignment, vehicle int) []int {
	var nodes []int
	idx := a.Start(vehicle)
	for !a.IsEnd(idx) {
		nodes = append(nodes, a.IndexToNode(idx))
		idx = a.Next(idx)
	}
	return append(nodes, a.IndexToNode(idx))
}

func checkCost(t *testing.T, m *Model, a *Assignment) {
	t.Helper()
	var want int64
	for _, r := range a.Routes {
		if len(r) <= 2 {
			continue
		}
		for k := 0; k+1 < len(r); k++ {
			want += m.Cost[r[k]][r[k+1]]
		}
	}
	pen := map[int]int64{}
	for _, d := range m.Disjunctions {
		pen[d.Node] = d.Penalty
	}
	for _, n := range a.Dropped {
		want += pen[n]
	}
	if a.Cost != want {
		t.Fatalf("assignment cost = %d, recomputed %d", a.Cost, want)
	}
}

func TestSolveVisitsAllStops(t *testing.T) {
	m := lineModel(1, []int64{0, 1000, 2500, 4000, 1500})
	a, err := NewEngine().Solve(context.Background(), m, testParams())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(a.Dropped) != 0 {
		t.Fatalf("dropped %v, want none", a.Dropped)
	}
	r := walk(a, 0)
	if r[0] != 0 || r[len(r)-1] != 0 || len(r) != 6 {
		t.Fatalf("route = %v, want depot, 4 stops, depot", r)
	}
	c := a.Cumuls[0]
	if c[len(c)-1] > 480 {
		t.Fatalf("route ends at %d, beyond capacity", c[len(c)-1])
	}
	if a.Cost != 8000 {
		t.Fatalf("cost = %d, want 8000", a.Cost)
	}
	if a.Stats.BestCost > a.Stats.FirstSolutionCost {
		t.Fatalf("best %d worse than first %d", a.Stats.BestCost, a.Stats.FirstSolutionCost)
	}
	checkCost(t, m, a)
}

func TestSolveCumulsRespectTransitAndSlack(t *testing.T) {
	m := lineModel(1, []int64{0, 3000, 6000})
	m.Windows[2] = Range{100, 120}
	a, err := NewEngine().Solve(context.Background(), m, testParams())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	route, cumul := a.Routes[0], a.Cumuls[0]
	for k := 0; k+1 < len(route); k++ {
		gap := cumul[k+1] - cumul[k] - m.Transit[route[k]][route[k+1]]
		if gap < 0 || gap > m.Time.SlackMax {
			t.Fatalf("slack %d between %d and %d outside [0,%d]", gap, route[k], route[k+1], m.Time.SlackMax)
		}
	}
	for k, node := range route {
		w := m.Windows[node]
		if cumul[k] < w.Start || cumul[k] > w.End {
			t.Fatalf("node %d cumul %d outside window %v", node, cumul[k], w)
		}
	}
}

func TestSolveDropsUnreachableWindow(t *testing.T) {
	m := lineModel(1, []int64{0, 1000, 2000})
	m.Windows[2] = Range{600, 700}
	a, err := NewEngine().Solve(context.Background(), m, testParams())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(a.Dropped) != 1 || a.Dropped[0] != 2 {
		t.Fatalf("dropped = %v, want [2]", a.Dropped)
	}
	if a.Next(2) != 2 {
		t.Fatalf("dropped node has successor %d", a.Next(2))
	}
	if got := walk(a, 0); len(got) != 3 || got[1] != 1 {
		t.Fatalf("route = %v, want [0 1 0]", got)
	}
	checkCost(t, m, a)
}

func TestSolveFloatingStart(t *testing.T) {
	// Reaching node 1 inside [100,110] needs a start offset beyond the slack.
	m := lineModel(1, []int64{0, 2500})
	m.Windows[1] = Range{100, 110}

	m.Time.FixStartCumulToZero = true
	a, err := NewEngine().Solve(context.Background(), m, testParams())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(a.Dropped) != 1 {
		t.Fatalf("fixed start: dropped = %v, want [1]", a.Dropped)
	}

	m.Time.FixStartCumulToZero = false
	a, err = NewEngine().Solve(context.Background(), m, testParams())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(a.Dropped) != 0 {
		t.Fatalf("floating start: dropped = %v, want none", a.Dropped)
	}
	if start := a.Cumul(a.Start(0)); start < 60 {
		t.Fatalf("start cumul = %d, want a late start", start)
	}
}

func TestSolveSplitsAcrossVehicles(t *testing.T) {
	m := shuttleModel(3)
	a, err := NewEngine().Solve(context.Background(), m, testParams())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	for v := 0; v < 3; v++ {
		if r := walk(a, v); len(r) != 3 {
			t.Fatalf("vehicle %d route = %v, want exactly one stop", v, r)
		}
	}
	checkCost(t, m, a)
}

func TestSolveMandatoryInfeasible(t *testing.T) {
	m := shuttleModel(2)
	_, err := NewEngine().Solve(context.Background(), m, testParams())
	if !errors.Is(err, ErrNoSolution) {
		t.Fatalf("err = %v, want ErrNoSolution", err)
	}
}

func TestSolveCancelledContextStopsConstruction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := lineModel(2, []int64{0, 100, 200, 300, 400, 500, 600})
	p := DefaultSearchParameters()
	start := time.Now()
	a, err := NewEngine().Solve(ctx, m, p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancelled search kept running")
	}
	// optional stops are left dropped rather than built past the deadline
	if len(a.Dropped) != 6 {
		t.Fatalf("dropped = %v, want all six stops", a.Dropped)
	}
	if a.Stats.Iterations != 0 {
		t.Fatalf("iterations = %d after cancel", a.Stats.Iterations)
	}

	if _, err := NewEngine().Solve(ctx, shuttleModel(3), p); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("mandatory stops after cancel: err = %v, want ErrNoSolution", err)
	}
}

func TestSolveGuidedLocalSearchNeverWorsens(t *testing.T) {
	m := lineModel(2, []int64{0, -3000, 4000, -1000, 2500, 6000, -5500, 800})
	a, err := NewEngine().Solve(context.Background(), m, testParams())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if a.Stats.Iterations == 0 || a.Stats.Penalized == 0 {
		t.Fatalf("stats = %+v, want GLS iterations", a.Stats)
	}
	if a.Cost > a.Stats.FirstSolutionCost {
		t.Fatalf("cost %d worse than first solution %d", a.Cost, a.Stats.FirstSolutionCost)
	}
	// Every stop is reachable within the shift, so the optimum covers both
	// extremes of the line once: 2 * (6000 + 5500).
	if a.Cost < 23000 {
		t.Fatalf("cost %d below the lower bound", a.Cost)
	}
	checkCost(t, m, a)
}

func TestSolveRejectsMalformedModel(t *testing.T) {
	m := lineModel(1, []int64{0, 10})
	m.Transit = m.Transit[:1]
	if _, err := NewEngine().Solve(context.Background(), m, testParams()); err == nil {
		t.Fatal("expected validation error")
	}
	m = lineModel(0, []int64{0, 10})
	if _, err := NewEngine().Solve(context.Background(), m, testParams()); err == nil {
		t.Fatal("expected error for zero vehicles")
	}
}

func TestParseMetaheuristic(t *testing.T) {
	for _, in := range []string{"GUIDED_LOCAL_SEARCH", "gls", " guided_local_search "} {
		if mh, err := ParseMetaheuristic(in); err != nil || mh != GuidedLocalSearch {
			t.Fatalf("ParseMetaheuristic(%q) = %v, %v", in, mh, err)
		}
	}
	if _, err := ParseMetaheuristic("tabu"); err == nil {
		t.Fatal("expected error for unknown metaheuristic")
	}
}
