//go:build !unix && !windows

package vmem

import "os"

// Without an mmap-like primitive, ranges live on the Go heap. Reserve and
// commit collapse into one allocation and offering is not possible.

// PageSize returns the OS page granularity.
func PageSize() int { return os.Getpagesize() }

// Reserve allocates size bytes from the Go heap.
func Reserve(size int) ([]byte, error) { return make([]byte, size), nil }

// MapCommitted allocates size bytes from the Go heap.
func MapCommitted(size int) ([]byte, error) { return make([]byte, size), nil }

// Commit is a no-op; heap memory is always backed.
func Commit(mem []byte) error { return nil }

// Decommit zeroes mem so stale content is not observed after recommit.
func Decommit(mem []byte) error {
	clear(mem)
	return nil
}

// Release leaves mem to the garbage collector.
func Release(mem []byte) error { return nil }

// CanOffer reports whether Offer can succeed on this backend.
func CanOffer() bool { return false }

// Offer is unsupported here.
func Offer(mem []byte) error { return ErrOfferUnsupported }

// Reclaim is unsupported here.
func Reclaim(mem []byte) error { return ErrOfferUnsupported }
