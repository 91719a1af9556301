package opt

type interval struct{ lo, hi int64 }

func (iv interval) intersect(o interval) interval {
	if o.lo > iv.lo {
		iv.lo = o.lo
	}
	if o.hi < iv.hi {
		iv.hi = o.hi
	}
	return iv
}

func (iv interval) empty() bool { return iv.lo > iv.hi }

// windowOf returns the node's time window clipped to the dimension capacity.
func (s *solver) windowOf(node int) interval {
	return s.windows[node]
}

func (s *solver) startInterval() interval {
	w := s.windowOf(s.depot)
	if s.m.Time.FixStartCumulToZero {
		w = w.intersect(interval{0, 0})
	}
	return w
}

// step propagates the reachable cumul interval across the arc from -> to.
func (s *solver) step(iv interval, from, to int) interval {
	t := s.m.Transit[from][to]
	next := interval{iv.lo + t, iv.hi + t + s.m.Time.SlackMax}
	return next.intersect(s.windowOf(to))
}

// feasible reports whether depot -> route... -> depot admits a cumul assignment.
// The reachable set at every position is an interval, so forward propagation is exact.
func (s *solver) feasible(route []int) bool {
	iv := s.startInterval()
	if iv.empty() {
		return false
	}
	prev := s.depot
	for _, node := range route {
		iv = s.step(iv, prev, node)
		if iv.empty() {
			return false
		}
		prev = node
	}
	return !s.step(iv, prev, s.depot).empty()
}

// schedule returns cumul values for depot, route..., depot that finish the
// route as early as possible and start it as late as that allows.
func (s *solver) schedule(route []int) ([]int64, bool) {
	ivs := make([]interval, 0, len(route)+2)
	iv := s.startInterval()
	if iv.empty() {
		return nil, false
	}
	ivs = append(ivs, iv)
	prev := s.depot
	path := make([]int, 0, len(route)+2)
	path = append(path, s.depot)
	path = append(path, route...)
	path = append(path, s.depot)
	for _, node := range path[1:] {
		iv = s.step(iv, prev, node)
		if iv.empty() {
			return nil, false
		}
		ivs = append(ivs, iv)
		prev = node
	}

	cumul := make([]int64, len(ivs))
	last := len(ivs) - 1
	cumul[last] = ivs[last].lo
	for k := last - 1; k >= 0; k-- {
		t := s.m.Transit[path[k]][path[k+1]]
		c := cumul[k+1] - t - s.m.Time.SlackMax
		if c < ivs[k].lo {
			c = ivs[k].lo
		}
		cumul[k] = c
	}
	return cumul, true
}
