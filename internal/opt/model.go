package opt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoSolution is returned when no assignment satisfies the hard constraints.
var ErrNoSolution = errors.New("opt: no solution found")

// FirstSolutionStrategy selects how the initial assignment is built.
type FirstSolutionStrategy int

const (
	// PathCheapestArc extends each vehicle's path with the cheapest feasible arc
	// until no unrouted node fits, then moves to the next vehicle.
	PathCheapestArc FirstSolutionStrategy = iota
)

func (s FirstSolutionStrategy) String() string {
	switch s {
	case PathCheapestArc:
		return "PATH_CHEAPEST_ARC"
	}
	return fmt.Sprintf("FirstSolutionStrategy(%d)", int(s))
}

// Metaheuristic selects the improvement phase run after the first solution.
type Metaheuristic int

const (
	GuidedLocalSearch Metaheuristic = iota
	GreedyDescent
)

func (m Metaheuristic) String() string {
	switch m {
	case GuidedLocalSearch:
		return "GUIDED_LOCAL_SEARCH"
	case GreedyDescent:
		return "GREEDY_DESCENT"
	}
	return fmt.Sprintf("Metaheuristic(%d)", int(m))
}

// ParseMetaheuristic accepts the names returned by Metaheuristic.String.
func ParseMetaheuristic(s string) (Metaheuristic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GUIDED_LOCAL_SEARCH", "GLS":
		return GuidedLocalSearch, nil
	case "GREEDY_DESCENT":
		return GreedyDescent, nil
	}
	return 0, fmt.Errorf("opt: unknown metaheuristic %q", s)
}

// Range is an inclusive bound on a cumulative value.
type Range struct{ Start, End int64 }

// Dimension describes the cumulative quantity (time) carried along each route.
// cumul(next) = cumul(prev) + transit(prev, next) + slack, slack in [0, SlackMax].
type Dimension struct {
	SlackMax            int64
	Capacity            int64
	FixStartCumulToZero bool
}

// Disjunction makes Node optional: leaving it unvisited costs Penalty.
type Disjunction struct {
	Node    int
	Penalty int64
}

// Model is a homogeneous-fleet routing problem over a square node set.
// Nodes without a disjunction must be visited.
type Model struct {
	Vehicles     int
	Depot        int
	Cost         [][]int64
	Transit      [][]int64
	Time         Dimension
	Windows      []Range // per node; empty means unconstrained
	Disjunctions []Disjunction
}

// Size is the number of nodes, depot included.
func (m *Model) Size() int { return len(m.Cost) }

func (m *Model) validate() error {
	n := m.Size()
	if n == 0 {
		return errors.New("opt: empty model")
	}
	if m.Vehicles < 1 {
		return fmt.Errorf("opt: vehicles must be >= 1, got %d", m.Vehicles)
	}
	if m.Depot < 0 || m.Depot >= n {
		return fmt.Errorf("opt: depot %d out of range", m.Depot)
	}
	if len(m.Transit) != n {
		return fmt.Errorf("opt: transit matrix has %d rows, want %d", len(m.Transit), n)
	}
	for i := 0; i < n; i++ {
		if len(m.Cost[i]) != n || len(m.Transit[i]) != n {
			return fmt.Errorf("opt: row %d is not %d wide", i, n)
		}
	}
	if len(m.Windows) != 0 && len(m.Windows) != n {
		return fmt.Errorf("opt: %d windows for %d nodes", len(m.Windows), n)
	}
	if m.Time.Capacity < 0 || m.Time.SlackMax < 0 {
		return errors.New("opt: negative dimension bounds")
	}
	for _, d := range m.Disjunctions {
		if d.Node < 0 || d.Node >= n || d.Node == m.Depot {
			return fmt.Errorf("opt: disjunction on invalid node %d", d.Node)
		}
		if d.Penalty < 0 {
			return fmt.Errorf("opt: negative penalty for node %d", d.Node)
		}
	}
	return nil
}

// SearchParameters control the search. A zero TimeLimit and IterationsLimit
// together disable the metaheuristic phase.
type SearchParameters struct {
	FirstSolution   FirstSolutionStrategy
	Metaheuristic   Metaheuristic
	TimeLimit       time.Duration
	IterationsLimit int
	Lambda          float64
	Seed            int64
}

// DefaultSearchParameters mirrors the production optimizer settings.
func DefaultSearchParameters() SearchParameters {
	return SearchParameters{
		FirstSolution: PathCheapestArc,
		Metaheuristic: GuidedLocalSearch,
		TimeLimit:     30 * time.Second,
		Lambda:        0.1,
	}
}

// Stats summarises a search run.
type Stats struct {
	Iterations        int           `json:"iterations"`
	Improvements      int           `json:"improvements"`
	Penalized         int           `json:"penalized"`
	FirstSolutionCost int64         `json:"firstSolutionCost"`
	BestCost          int64         `json:"bestCost"`
	Elapsed           time.Duration `json:"elapsedNs"`
}

// Assignment is a solved model. Indices follow the usual routing convention:
// nodes 0..Size-1, then one start and one end index per vehicle.
type Assignment struct {
	Routes  [][]int   // node sequence per vehicle, depot at both ends
	Cumuls  [][]int64 // time cumul per entry of Routes
	Dropped []int
	Cost    int64
	Stats   Stats

	nodes, vehicles, depot int
	next                   []int
	cumul                  []int64
}

func (a *Assignment) Start(vehicle int) int { return a.nodes + vehicle }
func (a *Assignment) End(vehicle int) int   { return a.nodes + a.vehicles + vehicle }
func (a *Assignment) IsEnd(index int) bool  { return index >= a.nodes+a.vehicles }

// Next returns the successor of index. Unvisited nodes are their own successor.
func (a *Assignment) Next(index int) int { return a.next[index] }

// Cumul returns the time cumul at index.
func (a *Assignment) Cumul(index int) int64 { return a.cumul[index] }

// IndexToNode maps start/end indices back to the depot node.
func (a *Assignment) IndexToNode(index int) int {
	if index >= a.nodes {
		return a.depot
	}
	return index
}

func newAssignment(m *Model, routes [][]int, cumuls [][]int64) *Assignment {
	n, v := m.Size(), m.Vehicles
	a := &Assignment{
		nodes:    n,
		vehicles: v,
		depot:    m.Depot,
		next:     make([]int, n+2*v),
		cumul:    make([]int64, n+2*v),
	}
	for i := range a.next {
		a.next[i] = i
	}
	visited := make([]bool, n)
	visited[m.Depot] = true
	for veh, stops := range routes {
		prev := a.Start(veh)
		c := cumuls[veh]
		a.cumul[prev] = c[0]
		full := make([]int, 0, len(stops)+2)
		full = append(full, m.Depot)
		for k, node := range stops {
			a.next[prev] = node
			a.cumul[node] = c[k+1]
			visited[node] = true
			full = append(full, node)
			prev = node
		}
		a.next[prev] = a.End(veh)
		a.cumul[a.End(veh)] = c[len(c)-1]
		full = append(full, m.Depot)
		a.Routes = append(a.Routes, full)
		a.Cumuls = append(a.Cumuls, c)
	}
	for node, ok := range visited {
		if !ok {
			a.Dropped = append(a.Dropped, node)
		}
	}
	return a
}
