//go:build unix

package vmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// PageSize returns the OS page granularity.
func PageSize() int {
	return unix.Getpagesize()
}

// Reserve claims size bytes of inaccessible address space.
func Reserve(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, outOfMemory("reserve", size, err)
	}
	return mem, nil
}

// MapCommitted reserves and commits size bytes in one call.
func MapCommitted(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, outOfMemory("map", size, err)
	}
	return mem, nil
}

// Commit makes a reserved range readable and writable.
func Commit(mem []byte) error {
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return outOfMemory("commit", len(mem), err)
	}
	return nil
}

// Decommit drops the physical backing of mem and makes it inaccessible again.
func Decommit(mem []byte) error {
	if err := unix.Madvise(mem, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("vmem: decommit: %w", err)
	}
	if err := unix.Mprotect(mem, unix.PROT_NONE); err != nil {
		return fmt.Errorf("vmem: decommit protect: %w", err)
	}
	return nil
}

// Reclaim takes back offered memory. Pages freed with MADV_FREE become
// ordinary pages again on the next write, so there is nothing to undo; the
// content may have been replaced by zeroes.
func Reclaim(mem []byte) error {
	return nil
}

// Release unmaps mem entirely.
func Release(mem []byte) error {
	err := unix.Munmap(mem)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	if err != nil {
		return fmt.Errorf("vmem: release: %w", err)
	}
	return nil
}
