package puddle

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/haven/internal/buf"
	"github.com/joshuapare/haven/internal/check"
	"github.com/joshuapare/haven/mem/page"
)

// Slot states in the control vector.
const (
	slotUsed  byte = 0x00
	slotEmpty byte = 0xFF
)

// Puddle is a fixed set of Capacity() slots of type T over one page.
type Puddle[T any] struct {
	alloc    page.Allocator
	base     uintptr
	size     int
	slot     int
	capacity int
	settings

	mu     sync.Mutex
	state  page.Page
	ctrl   []byte
	use    Usage
	live   int
	closed bool
	stats  counters

	// free mirrors capacity-live for lock-free peeks; written under mu.
	free atomic.Int64
}

type counters struct {
	allocated   uint64
	deallocated uint64
	commits     uint64
	loans       uint64
}

// Stats is a point-in-time view of a puddle.
type Stats struct {
	Capacity    int
	Live        int
	Allocated   uint64
	Deallocated uint64
	Commits     uint64
	Loans       uint64
	State       page.State
	Usage       Usage
}

// New reserves one page from alloc and carves it into slots of T. The page is
// committed lazily by the first allocation.
func New[T any](alloc page.Allocator, opts ...Option) (*Puddle[T], error) {
	s := defaults()
	for _, opt := range opts {
		opt(&s)
	}

	typ := reflect.TypeFor[T]()
	if typ.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroSize, typ)
	}
	if hasPointers(typ) {
		return nil, fmt.Errorf("%w: %s", ErrPointerType, typ)
	}
	if s.destroyType != nil && s.destroyType != typ {
		return nil, fmt.Errorf("%w: %s for %s", ErrDestructorType, s.destroyType, typ)
	}
	pageSize := alloc.PageSize()
	slot := int(typ.Size())
	if slot > pageSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, page is %d", ErrSlotTooLarge, typ, slot, pageSize)
	}

	res, err := alloc.Reserve(pageSize)
	if err != nil {
		return nil, fmt.Errorf("puddle: reserve: %w", err)
	}

	p := &Puddle[T]{
		alloc:    alloc,
		base:     res.Base(),
		size:     res.Size(),
		slot:     slot,
		capacity: pageSize / slot,
		settings: s,
		state:    res,
		ctrl:     make([]byte, pageSize/slot),
	}
	buf.Fill(p.ctrl, slotEmpty)
	p.free.Store(int64(p.capacity))

	check.Post1(p.capacity > 0, "puddle without slots", p.capacity)
	check.Post1(!p.committed(), "fresh puddle must not be committed", res.State())
	return p, nil
}

// Capacity returns the fixed number of slots.
func (p *Puddle[T]) Capacity() int { return p.capacity }

// TryAllocate claims an empty slot and initializes it with ctor. The slot is
// zeroed before ctor runs; a nil ctor leaves the zero value. It returns
// (nil, nil) when every slot is in use.
//
// Only the claim is serialized: ctor runs outside the puddle lock. If ctor
// returns an error or panics, the slot is released before the error or panic
// propagates.
func (p *Puddle[T]) TryAllocate(ctor func(*T) error) (*T, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.use.Inc() {
		if err := p.retake(); err != nil {
			p.use.Dec()
			p.mu.Unlock()
			return nil, err
		}
	}
	idx := buf.IndexByte(p.ctrl, slotEmpty)

	check.Post1(p.committed(), "slots served from uncommitted memory", p.state.State())
	check.Post1(p.use > 0, "usage must be positive while allocating", p.use)

	if idx < 0 {
		p.mu.Unlock()
		return nil, nil
	}
	p.ctrl[idx] = slotUsed
	p.live++
	p.stats.allocated++
	p.free.Store(int64(p.capacity - p.live))
	obj := (*T)(unsafe.Add(p.state.(page.Committed).Pointer(), idx*p.slot))
	p.mu.Unlock()

	constructed := false
	defer func() {
		if !constructed {
			p.release(idx, false)
		}
	}()
	var zero T
	*obj = zero
	if ctor != nil {
		if err := ctor(obj); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConstruct, err)
		}
	}
	constructed = true

	check.Post2(p.owns(uintptr(unsafe.Pointer(obj))), "slot outside the page", uintptr(unsafe.Pointer(obj)), p.base)
	return obj, nil
}

// TryAllocateValue claims an empty slot and copies v into it.
func (p *Puddle[T]) TryAllocateValue(v T) (*T, error) {
	return p.TryAllocate(func(obj *T) error {
		*obj = v
		return nil
	})
}

// UnusedInAllocation tells the puddle an allocation round went elsewhere.
// When interest drops to zero and no slot is in use, the page is loaned back
// to the OS.
func (p *Puddle[T]) UnusedInAllocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.use.Dec() {
		p.giveUp()
	}
	check.Post1(p.use < MaxUsage, "usage must drop below saturation", p.use)
}

// Deallocate destroys obj and frees its slot. It reports false, touching
// nothing, when obj does not point into this puddle's page.
func (p *Puddle[T]) Deallocate(obj *T) bool {
	if obj == nil {
		return true
	}
	addr := uintptr(unsafe.Pointer(obj))
	if !p.owns(addr) {
		return false
	}
	off := int(addr - p.base)
	check.Pre2(off%p.slot == 0, "pointer not at a slot boundary", off, p.slot)
	idx := off / p.slot
	check.Pre2(idx < p.capacity, "pointer past the last slot", idx, p.capacity)

	if check.Enabled(check.Precondition) {
		p.mu.Lock()
		committed, used := !p.closed && p.committed(), p.ctrl[idx] == slotUsed
		p.mu.Unlock()
		check.Pre1(committed, "deallocate from uncommitted memory", addr)
		check.Pre1(used, "slot is not in use (double free?)", addr)
	}

	if p.destroy != nil {
		p.destroy(unsafe.Pointer(obj))
	}
	if p.poison {
		buf.Fill(unsafe.Slice((*byte)(unsafe.Pointer(obj)), p.slot), PoisonByte)
	}
	p.release(idx, true)
	return true
}

// Contains reports whether obj points into this puddle's page.
func (p *Puddle[T]) Contains(obj *T) bool {
	return obj != nil && p.owns(uintptr(unsafe.Pointer(obj)))
}

// Len returns the number of slots in use.
func (p *Puddle[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Available returns the number of empty slots without taking the lock. The
// value may be stale by the time the caller acts on it.
func (p *Puddle[T]) Available() int {
	return int(p.free.Load())
}

// State returns the current page state.
func (p *Puddle[T]) State() page.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.State()
}

// Stats returns a snapshot of the puddle's counters.
func (p *Puddle[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity:    p.capacity,
		Live:        p.live,
		Allocated:   p.stats.allocated,
		Deallocated: p.stats.deallocated,
		Commits:     p.stats.commits,
		Loans:       p.stats.loans,
		State:       p.state.State(),
		Usage:       p.use,
	}
}

// Decommit returns the page to the Reserved state. Every slot must be empty.
// The next allocation commits it again.
func (p *Puddle[T]) Decommit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.live > 0 {
		return fmt.Errorf("%w: %d live", ErrInUse, p.live)
	}

	var c page.Committed
	switch st := p.state.(type) {
	case page.Reserved:
		p.use = 0
		return nil
	case page.Committed:
		c = st
	case page.Loaned:
		committed, err := p.alloc.Commit(st)
		if err != nil {
			return fmt.Errorf("puddle: decommit: %w", err)
		}
		c = committed
	}
	res, err := p.alloc.Decommit(c)
	if err != nil {
		p.state = c
		return fmt.Errorf("puddle: decommit: %w", err)
	}
	p.state = res
	p.use = 0
	p.logger.Debug("puddle decommitted", "base", p.base)
	return nil
}

// Close releases the page. Objects still in the puddle become invalid; with
// tracing on, their addresses are logged.
func (p *Puddle[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.trace {
		p.logger.Info("puddle closed",
			"base", p.base,
			"allocated", p.stats.allocated,
			"deallocated", p.stats.deallocated)
	}
	if p.live > 0 {
		if p.trace {
			for i, c := range p.ctrl {
				if c == slotUsed {
					p.logger.Warn("slot not deallocated", "addr", p.base+uintptr(i*p.slot))
				}
			}
		}
		p.logger.Warn("puddle closed with live objects", "base", p.base, "live", p.live)
	}

	err := p.alloc.Deallocate(p.state)
	p.free.Store(0)
	if err != nil {
		return fmt.Errorf("puddle: close: %w", err)
	}
	return nil
}

// retake commits the page ahead of slot use. Called with mu held.
func (p *Puddle[T]) retake() error {
	from := p.state.State()
	c, err := p.alloc.Commit(p.state)
	if err != nil {
		return fmt.Errorf("puddle: commit: %w", err)
	}
	p.state = c
	if from != page.StateCommitted {
		p.stats.commits++
		p.logger.Debug("puddle page committed", "base", p.base, "from", from)
	}

	check.Post1(p.committed(), "commit left the page uncommitted", p.state.State())
	return nil
}

// giveUp loans the page back unless a slot is in use. Called with mu held.
func (p *Puddle[T]) giveUp() {
	check.Pre1(p.committed(), "idle puddle must hold committed memory", p.state.State())

	if buf.Contains(p.ctrl, slotUsed) {
		return
	}
	p.state = p.alloc.Loan(p.state)
	if p.state.State() == page.StateLoaned {
		p.stats.loans++
		p.logger.Debug("puddle page loaned", "base", p.base)
	}
}

func (p *Puddle[T]) release(idx int, destroyed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctrl[idx] = slotEmpty
	p.live--
	if destroyed {
		p.stats.deallocated++
	} else {
		p.stats.allocated--
	}
	p.free.Store(int64(p.capacity - p.live))

	check.Post1(p.ctrl[idx] == slotEmpty, "slot must be empty after release", idx)
}

func (p *Puddle[T]) owns(addr uintptr) bool {
	return addr >= p.base && addr-p.base < uintptr(p.size)
}

func (p *Puddle[T]) committed() bool {
	return p.state != nil && p.state.State() == page.StateCommitted
}

// hasPointers reports whether values of t hold anything the garbage
// collector would need to trace.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Interface, reflect.Slice, reflect.String:
		return true
	default:
		return false
	}
}
