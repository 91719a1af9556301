package opt

const eps = 1e-9

// solution holds the stop sequence of each vehicle (depot excluded) and the
// augmented cost of each route.
type solution struct {
	routes [][]int
	aug    []float64
	active []bool
}

func (s *solver) newSolution(routes [][]int) *solution {
	sol := &solution{routes: routes, aug: make([]float64, len(routes)), active: make([]bool, s.size)}
	for _, r := range routes {
		for _, node := range r {
			sol.active[node] = true
		}
	}
	s.refresh(sol)
	return sol
}

func (s *solver) refresh(sol *solution) {
	for v, r := range sol.routes {
		sol.aug[v] = s.routeAug(r)
	}
}

func (s *solver) routeCost(r []int) int64 {
	if len(r) == 0 {
		return 0
	}
	var c int64
	prev := s.depot
	for _, node := range r {
		c += s.m.Cost[prev][node]
		prev = node
	}
	return c + s.m.Cost[prev][s.depot]
}

func (s *solver) arcAug(a, b int) float64 {
	return float64(s.m.Cost[a][b]) + s.lambda*float64(s.pen[a*s.size+b])
}

func (s *solver) routeAug(r []int) float64 {
	if len(r) == 0 {
		return 0
	}
	c := 0.0
	prev := s.depot
	for _, node := range r {
		c += s.arcAug(prev, node)
		prev = node
	}
	return c + s.arcAug(prev, s.depot)
}

func (s *solver) droppedPenalty(sol *solution) int64 {
	var p int64
	for node, ok := range sol.active {
		if !ok && node != s.depot {
			p += s.penalty[node]
		}
	}
	return p
}

func (s *solver) trueCost(sol *solution) int64 {
	c := s.droppedPenalty(sol)
	for _, r := range sol.routes {
		c += s.routeCost(r)
	}
	return c
}

// localSearch applies first-improvement moves on the augmented objective until
// none improves or the search is stopped.
func (s *solver) localSearch(sol *solution) {
	for !s.stopped() {
		if !(s.relocate(sol) || s.exchange(sol) || s.twoOpt(sol) || s.twoOptStar(sol) ||
			s.makeActive(sol) || s.swapActive(sol) || s.makeInactive(sol)) {
			return
		}
		s.record(sol)
	}
}

func (s *solver) apply(sol *solution, v int, r []int) {
	sol.routes[v] = r
	sol.aug[v] = s.routeAug(r)
}

// relocate moves one node to another position, in the same or another route.
func (s *solver) relocate(sol *solution) bool {
	for a := range sol.routes {
		if s.stopped() {
			return false
		}
		for i := range sol.routes[a] {
			node := sol.routes[a][i]
			without := removeAt(sol.routes[a], i)
			withoutOK := s.feasible(without)
			withoutAug := s.routeAug(without)
			for b := range sol.routes {
				if b == a {
					for j := 0; j <= len(without); j++ {
						if j == i {
							continue
						}
						cand := insertAt(without, j, node)
						if s.routeAug(cand)-sol.aug[a] < -eps && s.feasible(cand) {
							s.apply(sol, a, cand)
							return true
						}
					}
					continue
				}
				if !withoutOK {
					continue
				}
				for j := 0; j <= len(sol.routes[b]); j++ {
					cand := insertAt(sol.routes[b], j, node)
					delta := withoutAug + s.routeAug(cand) - sol.aug[a] - sol.aug[b]
					if delta < -eps && s.feasible(cand) {
						s.apply(sol, a, without)
						s.apply(sol, b, cand)
						return true
					}
				}
			}
		}
	}
	return false
}

// exchange swaps two visited nodes.
func (s *solver) exchange(sol *solution) bool {
	for a := range sol.routes {
		if s.stopped() {
			return false
		}
		for b := a; b < len(sol.routes); b++ {
			for i := range sol.routes[a] {
				j0 := 0
				if a == b {
					j0 = i + 1
				}
				for j := j0; j < len(sol.routes[b]); j++ {
					if a == b {
						cand := append([]int(nil), sol.routes[a]...)
						cand[i], cand[j] = cand[j], cand[i]
						if s.routeAug(cand)-sol.aug[a] < -eps && s.feasible(cand) {
							s.apply(sol, a, cand)
							return true
						}
						continue
					}
					ca := append([]int(nil), sol.routes[a]...)
					cb := append([]int(nil), sol.routes[b]...)
					ca[i], cb[j] = cb[j], ca[i]
					delta := s.routeAug(ca) + s.routeAug(cb) - sol.aug[a] - sol.aug[b]
					if delta < -eps && s.feasible(ca) && s.feasible(cb) {
						s.apply(sol, a, ca)
						s.apply(sol, b, cb)
						return true
					}
				}
			}
		}
	}
	return false
}

// twoOpt reverses a segment within a route.
func (s *solver) twoOpt(sol *solution) bool {
	for a, r := range sol.routes {
		if s.stopped() {
			return false
		}
		for i := 0; i < len(r)-1; i++ {
			for k := i + 1; k < len(r); k++ {
				cand := append([]int(nil), r...)
				for x, y := i, k; x < y; x, y = x+1, y-1 {
					cand[x], cand[y] = cand[y], cand[x]
				}
				if s.routeAug(cand)-sol.aug[a] < -eps && s.feasible(cand) {
					s.apply(sol, a, cand)
					return true
				}
			}
		}
	}
	return false
}

// twoOptStar exchanges the tails of two routes.
func (s *solver) twoOptStar(sol *solution) bool {
	for a := range sol.routes {
		if s.stopped() {
			return false
		}
		for b := a + 1; b < len(sol.routes); b++ {
			ra, rb := sol.routes[a], sol.routes[b]
			for i := 0; i <= len(ra); i++ {
				for j := 0; j <= len(rb); j++ {
					if (i == 0 && j == 0) || (i == len(ra) && j == len(rb)) {
						continue
					}
					ca := append(append([]int(nil), ra[:i]...), rb[j:]...)
					cb := append(append([]int(nil), rb[:j]...), ra[i:]...)
					delta := s.routeAug(ca) + s.routeAug(cb) - sol.aug[a] - sol.aug[b]
					if delta < -eps && s.feasible(ca) && s.feasible(cb) {
						s.apply(sol, a, ca)
						s.apply(sol, b, cb)
						return true
					}
				}
			}
		}
	}
	return false
}

// makeActive inserts an unvisited optional node.
func (s *solver) makeActive(sol *solution) bool {
	for node := 0; node < s.size; node++ {
		if sol.active[node] || node == s.depot {
			continue
		}
		if s.stopped() {
			return false
		}
		gain := float64(s.penalty[node])
		for b, r := range sol.routes {
			for j := 0; j <= len(r); j++ {
				cand := insertAt(r, j, node)
				if s.routeAug(cand)-sol.aug[b]-gain < -eps && s.feasible(cand) {
					s.apply(sol, b, cand)
					sol.active[node] = true
					return true
				}
			}
		}
	}
	return false
}

// makeInactive drops an optional node.
func (s *solver) makeInactive(sol *solution) bool {
	for a, r := range sol.routes {
		if s.stopped() {
			return false
		}
		for i, node := range r {
			if s.penalty[node] < 0 {
				continue
			}
			cand := removeAt(r, i)
			if s.routeAug(cand)-sol.aug[a]+float64(s.penalty[node]) < -eps && s.feasible(cand) {
				s.apply(sol, a, cand)
				sol.active[node] = false
				return true
			}
		}
	}
	return false
}

// swapActive replaces a visited optional node with an unvisited one.
func (s *solver) swapActive(sol *solution) bool {
	for a, r := range sol.routes {
		if s.stopped() {
			return false
		}
		for i, out := range r {
			if s.penalty[out] < 0 {
				continue
			}
			for in := 0; in < s.size; in++ {
				if sol.active[in] || in == s.depot {
					continue
				}
				cand := append([]int(nil), r...)
				cand[i] = in
				delta := s.routeAug(cand) - sol.aug[a] + float64(s.penalty[out]) - float64(s.penalty[in])
				if delta < -eps && s.feasible(cand) {
					s.apply(sol, a, cand)
					sol.active[out] = false
					sol.active[in] = true
					return true
				}
			}
		}
	}
	return false
}

func insertAt(r []int, pos, node int) []int {
	out := make([]int, 0, len(r)+1)
	out = append(out, r[:pos]...)
	out = append(out, node)
	return append(out, r[pos:]...)
}

func removeAt(r []int, pos int) []int {
	out := make([]int, 0, len(r)-1)
	out = append(out, r[:pos]...)
	return append(out, r[pos+1:]...)
}
