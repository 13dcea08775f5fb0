//go:build linux || darwin || freebsd

package vmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CanOffer reports whether Offer can succeed on this backend.
func CanOffer() bool { return true }

// Offer lets the kernel reclaim the pages of a committed range lazily.
// Kernels without MADV_FREE answer EINVAL, which callers treat as a refusal.
func Offer(mem []byte) error {
	if err := unix.Madvise(mem, unix.MADV_FREE); err != nil {
		return fmt.Errorf("vmem: offer: %w", err)
	}
	return nil
}
