package page

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/haven/internal/vmem"
)

// ErrOutOfMemory indicates the OS declined to reserve or commit memory.
var ErrOutOfMemory = vmem.ErrOutOfMemory

// State identifies the variant of a Page.
type State uint8

const (
	StateReserved State = iota
	StateCommitted
	StateLoaned
)

func (s State) String() string {
	switch s {
	case StateReserved:
		return "reserved"
	case StateCommitted:
		return "committed"
	case StateLoaned:
		return "loaned"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Page is one of Reserved, Committed or Loaned. The set is closed.
type Page interface {
	State() State
	Base() uintptr
	Size() int
	span() []byte
}

type region struct {
	mem []byte
}

// Base returns the first address of the range.
func (r region) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
}

// Size returns the length of the range in bytes.
func (r region) Size() int { return len(r.mem) }

// Contains reports whether addr lies in [Base, Base+Size).
func (r region) Contains(addr uintptr) bool {
	base := r.Base()
	return addr >= base && addr-base < uintptr(len(r.mem))
}

func (r region) span() []byte { return r.mem }

func (r region) format(s State) string {
	return fmt.Sprintf("%s page@%#x width %d", s, r.Base(), len(r.mem))
}

// Reserved is claimed address space without physical backing.
type Reserved struct{ region }

func (Reserved) State() State     { return StateReserved }
func (p Reserved) String() string { return p.format(StateReserved) }

// Committed is backed, accessible memory.
type Committed struct{ region }

func (Committed) State() State     { return StateCommitted }
func (p Committed) String() string { return p.format(StateCommitted) }

// Bytes exposes the committed range. The slice is invalid once the page
// leaves the Committed state.
func (p Committed) Bytes() []byte { return p.mem }

// Pointer returns the base address as a pointer for in-place typed access.
func (p Committed) Pointer() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(p.mem))
}

// Loaned is committed memory offered back to the OS. Its content is not
// preserved.
type Loaned struct{ region }

func (Loaned) State() State     { return StateLoaned }
func (p Loaned) String() string { return p.format(StateLoaned) }

var (
	_ Page = Reserved{}
	_ Page = Committed{}
	_ Page = Loaned{}
)
