//go:build windows

package vmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// VmOfferPriorityLow from the OfferVirtualMemory API.
const vmOfferPriorityLow = 2

var (
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procOfferVirtualMemory   = kernel32.NewProc("OfferVirtualMemory")
	procReclaimVirtualMemory = kernel32.NewProc("ReclaimVirtualMemory")
	procGetSystemInfo        = kernel32.NewProc("GetSystemInfo")
	errorBusy                = uintptr(windows.ERROR_BUSY)
)

type systemInfo struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

// PageSize returns the OS page granularity.
func PageSize() int {
	var si systemInfo
	_, _, _ = procGetSystemInfo.Call(uintptr(unsafe.Pointer(&si)))
	if si.PageSize == 0 {
		return 4096
	}
	return int(si.PageSize)
}

func asBytes(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func base(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
}

// Reserve claims size bytes of inaccessible address space.
func Reserve(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, outOfMemory("reserve", size, err)
	}
	return asBytes(addr, size), nil
}

// MapCommitted reserves and commits size bytes in one call.
func MapCommitted(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, outOfMemory("map", size, err)
	}
	return asBytes(addr, size), nil
}

// Commit backs a reserved range with physical memory.
func Commit(mem []byte) error {
	if _, err := windows.VirtualAlloc(base(mem), uintptr(len(mem)), windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
		return outOfMemory("commit", len(mem), err)
	}
	return nil
}

// Decommit drops the physical backing of mem and keeps the reservation.
func Decommit(mem []byte) error {
	if err := windows.VirtualFree(base(mem), uintptr(len(mem)), windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("vmem: decommit: %w", err)
	}
	return nil
}

// Release frees the whole reservation. MEM_RELEASE requires a zero size.
func Release(mem []byte) error {
	if err := windows.VirtualFree(base(mem), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("vmem: release: %w", err)
	}
	return nil
}

// CanOffer reports whether kernel32 exports the offer/reclaim pair.
// MinGW-era systems lack them.
func CanOffer() bool {
	return procOfferVirtualMemory.Find() == nil && procReclaimVirtualMemory.Find() == nil
}

// Offer hands committed memory back to the OS at low priority.
func Offer(mem []byte) error {
	if !CanOffer() {
		return ErrOfferUnsupported
	}
	r, _, _ := procOfferVirtualMemory.Call(base(mem), uintptr(len(mem)), vmOfferPriorityLow)
	if r != 0 {
		return fmt.Errorf("vmem: offer: %w", windows.Errno(r))
	}
	return nil
}

// Reclaim takes back offered memory. ERROR_BUSY means the content was
// discarded, which is fine as callers never rely on it.
func Reclaim(mem []byte) error {
	if !CanOffer() {
		return ErrOfferUnsupported
	}
	r, _, _ := procReclaimVirtualMemory.Call(base(mem), uintptr(len(mem)))
	if r != 0 && r != errorBusy {
		return outOfMemory("reclaim", len(mem), windows.Errno(r))
	}
	return nil
}
