// Package vmem wraps the operating system's virtual-memory primitives.
//
// Memory ranges are handed around as byte slices whose backing array is the
// mapped range itself. A range moves between three OS-visible conditions:
//
//	Reserve   address space claimed, no physical backing, not accessible
//	Commit    backed and read/write
//	Offer     committed memory the OS may discard under pressure
//
// Release returns the whole range to the OS. Every call is synchronous.
// Callers pass the exact slice returned by Reserve or MapCommitted.
package vmem

import (
	"errors"
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

var (
	// ErrOutOfMemory indicates the OS declined to reserve or back memory.
	ErrOutOfMemory = errors.New("vmem: out of memory")

	// ErrOfferUnsupported indicates the backend cannot offer memory back.
	ErrOfferUnsupported = errors.New("vmem: offer not supported")
)

// defaultCacheLine is used when the CPU does not report its L1 line size.
const defaultCacheLine = 64

// CacheLineSize returns the L1 data cache line size, or an approximation.
func CacheLineSize() int {
	if n := cpuid.CPU.CacheLine; n > 0 {
		return n
	}
	return defaultCacheLine
}

func outOfMemory(op string, size int, err error) error {
	return fmt.Errorf("%w: %s %d bytes: %w", ErrOutOfMemory, op, size, err)
}
