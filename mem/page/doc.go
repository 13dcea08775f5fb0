// Package page manages OS virtual memory at page granularity.
//
// # Page States
//
// A range of address space is always in exactly one of three states, each a
// distinct handle type:
//
//   - Reserved: address space claimed, not backed, not accessible
//   - Committed: backed by physical memory, read/write
//   - Loaned: committed memory advisorily handed back; the OS may discard it
//
// Page is a closed union over these three types. Handles are values with an
// immutable base address and size; a transition returns a new handle of a
// different type and the old handle must no longer be used.
//
//	Reserve ──► Reserved ──Commit──► Committed ──Loan──► Loaned
//	               ▲                    │  ▲                │
//	               └─────Decommit───────┘  └─────Commit─────┘
//
// Allocate is Reserve+Commit in one call and Deallocate releases a page in any
// state.
//
// # Loaning
//
// Loan is advisory. It either returns a Loaned handle or hands back the page
// unchanged; it never fails. Backends that cannot offer memory (see
// WithoutLoan) never produce Loaned handles, so committing one there is a
// contract violation.
//
// # Usage
//
//	alloc := page.New()
//	res, err := alloc.Reserve(alloc.PageSize())
//	if err != nil {
//	    return err
//	}
//	c, err := alloc.Commit(res)
//	if err != nil {
//	    return err
//	}
//	buf := c.Bytes()
//	// ...
//	p := alloc.Loan(c) // Loaned or the same Committed page
//	err = alloc.Deallocate(p)
//
// # Thread Safety
//
// OS is safe for concurrent use. Handles are plain values; callers serialize
// transitions on the same range.
package page
