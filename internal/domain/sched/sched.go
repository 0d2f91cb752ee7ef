// Package sched picks the next environment to run. Scheduling is
// cooperative: an environment keeps the CPU until it yields, blocks or
// exits, and the kernel then asks the RoundRobin for a successor.
package sched

// RoundRobin cycles through slots starting after the one that ran last.
// The slot that just yielded is chosen again only if nothing else is
// runnable.
type RoundRobin struct {
	last     int
	switches uint64
	idle     uint64
}

// New returns a scheduler whose first search begins at slot 0.
func New() *RoundRobin {
	return &RoundRobin{last: -1}
}

// Pick scans n slots and returns the first one runnable reports true for.
// ok is false when no slot is runnable.
func (r *RoundRobin) Pick(n int, runnable func(i int) bool) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	start := r.last + 1
	for k := 0; k < n; k++ {
		i := (start + k) % n
		if i < 0 {
			i += n
		}
		if runnable(i) {
			if i != r.last {
				r.switches++
			}
			r.last = i
			return i, true
		}
	}
	r.idle++
	return 0, false
}

// Stats reports scheduling counters.
type Stats struct {
	Switches uint64 `json:"switches"`
	Idle     uint64 `json:"idle"`
	Last     int    `json:"last"`
}

// Stats returns the current counters.
func (r *RoundRobin) Stats() Stats {
	return Stats{Switches: r.switches, Idle: r.idle, Last: r.last}
}
