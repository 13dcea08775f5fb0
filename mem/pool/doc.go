// Package pool provides a growable, thread-safe object pool built from
// puddles.
//
// # Overview
//
// A Pool[T] owns an append-only list of puddle.Puddle[T]. Allocate routes each
// request to a puddle believed to have room and appends a fresh puddle when
// none does; it only fails when the OS refuses memory or a constructor fails.
// Deallocate probes puddles in order until one owns the pointer.
//
// Puddles are never removed while the pool lives, so object addresses stay
// stable. An idle puddle still hands its page back to the OS on its own (see
// package puddle); Close releases every page at once.
//
// # Puddle Selection
//
// The pool keeps one status byte per puddle. A puddle is marked full when an
// allocation finds no slot, or takes the last one, and is marked free again by
// any successful deallocation from it. The byte is always recomputed from the
// puddle's own count of empty slots, so it tracks real occupancy rather than
// which puddle was picked last.
//
// After every allocation round, each puddle other than the one that served
// the request is told UnusedInAllocation, which drives page loaning.
//
// # Usage
//
//	p, err := pool.New[conn](page.New())
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	c, err := p.AllocateValue(conn{id: 7})
//	// ...
//	p.Deallocate(c)
//
// # Configuration
//
// LoadConfig reads HAVEN_* environment variables (see Config) and turns them
// into page and puddle options.
package pool
