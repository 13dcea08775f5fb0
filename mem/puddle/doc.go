// Package puddle implements a fixed-capacity slab of typed slots over one OS
// page.
//
// # Overview
//
// A Puddle[T] owns exactly one page from a page.Allocator and treats it as
// PageSize()/sizeof(T) contiguous slots. A control vector with one byte per
// slot records which slots hold live objects; the bytes of the page never
// carry bookkeeping.
//
//	ctrl:  [U][U][E][U][E][E] ...        U = used (0x00), E = empty (0xFF)
//	page:  [T][T][ ][T][ ][ ] ... tail
//
// # Page Lifetime
//
// The page starts Reserved. A saturating Usage counter tracks allocation
// interest: the first TryAllocate after the counter was zero commits the
// page, and UnusedInAllocation calls that bring it back to zero loan the page
// to the OS, but only when no slot is in use. Slots are only touched while
// the page is Committed.
//
// # Slot Search
//
// TryAllocate finds the first empty slot with a word-at-a-time scan of the
// control vector (see internal/buf) and marks it used under the puddle lock.
// The object is initialized after the lock is dropped, so slow constructors
// never block other callers. A failed constructor gives the slot back.
//
// # Slot Types
//
// T must not contain Go pointers (including strings, slices, maps and
// interfaces): the garbage collector does not scan OS-mapped memory. New
// rejects such types with ErrPointerType.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Two callers never receive the same
// slot. Deallocating a pointer twice, or one not obtained from the puddle, is
// a contract violation.
package puddle
