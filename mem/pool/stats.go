package pool

import "github.com/joshuapare/haven/mem/puddle"

// Stats aggregates the counters of every puddle in a pool.
type Stats struct {
	Puddles     int
	Capacity    int
	Live        int
	Allocated   uint64
	Deallocated uint64
	Commits     uint64
	Loans       uint64
	PerPuddle   []puddle.Stats
}

// Stats returns a snapshot. Puddles are sampled one at a time, so the totals
// are not atomic across the pool.
func (p *Pool[T]) Stats() Stats {
	puddles := p.snapshot()
	st := Stats{
		Puddles:   len(puddles),
		PerPuddle: make([]puddle.Stats, 0, len(puddles)),
	}
	for _, pd := range puddles {
		ps := pd.Stats()
		st.Capacity += ps.Capacity
		st.Live += ps.Live
		st.Allocated += ps.Allocated
		st.Deallocated += ps.Deallocated
		st.Commits += ps.Commits
		st.Loans += ps.Loans
		st.PerPuddle = append(st.PerPuddle, ps)
	}
	return st
}
