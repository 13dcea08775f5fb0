package puddle

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"testing"
	"unsafe"

	"github.com/joshuapare/haven/internal/check"
	"github.com/joshuapare/haven/internal/testutil"
	"github.com/joshuapare/haven/mem/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type uint128 struct {
	upper uint64
	lower uint64
}

type uint256 struct {
	upper uint128
	lower uint128
}

type blob24 [24]byte

func newPuddle[T any](t *testing.T, alloc page.Allocator, opts ...Option) *Puddle[T] {
	t.Helper()
	p, err := New[T](alloc, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

func TestCapacity(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	smaller := newPuddle[uint128](t, alloc)
	bigger := newPuddle[uint256](t, alloc)

	assert.Equal(t, alloc.PageSize()/16, smaller.Capacity())
	assert.Positive(t, smaller.Capacity())
	assert.Equal(t, smaller.Capacity(), bigger.Capacity()*2)
}

func TestNewRejectsUnsupportedTypes(t *testing.T) {
	alloc := testutil.NewAllocator(t)

	_, err := New[struct{}](alloc)
	assert.ErrorIs(t, err, ErrZeroSize)

	_, err = New[struct{ next *int }](alloc)
	assert.ErrorIs(t, err, ErrPointerType)

	_, err = New[struct {
		id   uint32
		name string
	}](alloc)
	assert.ErrorIs(t, err, ErrPointerType)

	_, err = New[[4]any](alloc)
	assert.ErrorIs(t, err, ErrPointerType)

	_, err = New[[1 << 20]byte](alloc)
	assert.ErrorIs(t, err, ErrSlotTooLarge)

	_, err = New[uint128](alloc, WithDestructor(func(*uint256) {}))
	assert.ErrorIs(t, err, ErrDestructorType)
}

func TestFreshPuddleIsReserved(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	assert.Equal(t, page.StateReserved, p.State())
	assert.Equal(t, p.Capacity(), p.Available())
	assert.Zero(t, p.Len())
}

func TestEmptyPuddle(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, uint128{}, *obj)
	assert.Equal(t, page.StateCommitted, p.State())
	assert.True(t, p.Contains(obj))
	assert.True(t, p.Deallocate(obj))

	obj, err = p.TryAllocateValue(uint128{upper: 42, lower: 69})
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, uint64(42), obj.upper)
	assert.Equal(t, uint64(69), obj.lower)
	assert.True(t, p.Deallocate(obj))

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Allocated)
	assert.Equal(t, uint64(2), st.Deallocated)
	assert.Zero(t, st.Live)
}

func TestFullPuddle(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	seen := make(map[*uint128]bool, p.Capacity())
	objs := make([]*uint128, 0, p.Capacity())
	for i := range p.Capacity() {
		obj, err := p.TryAllocateValue(uint128{upper: uint64(i), lower: ^uint64(i)})
		require.NoError(t, err)
		require.NotNil(t, obj, "slot %d", i)
		require.False(t, seen[obj], "slot %d handed out twice", i)
		seen[obj] = true
		objs = append(objs, obj)
	}
	assert.Zero(t, p.Available())

	obj, err := p.TryAllocate(func(*uint128) error {
		t.Fatal("constructor must not run on a full puddle")
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, obj)

	for i, obj := range objs {
		require.Equal(t, uint64(i), obj.upper)
		require.Equal(t, ^uint64(i), obj.lower)
		require.True(t, p.Deallocate(obj))
	}
	assert.Zero(t, p.Len())
	assert.Equal(t, p.Capacity(), p.Available())
}

func TestSlotsAreReusedInIndexOrder(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	a, _ := p.TryAllocate(nil)
	b, _ := p.TryAllocate(nil)
	c, _ := p.TryAllocate(nil)
	require.True(t, p.Deallocate(b))

	again, err := p.TryAllocate(nil)
	require.NoError(t, err)
	assert.Same(t, b, again, "first empty slot wins")

	for _, obj := range []*uint128{a, again, c} {
		require.True(t, p.Deallocate(obj))
	}
}

func TestDeallocateForeignPointer(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)
	other := newPuddle[uint128](t, alloc)

	mine, err := p.TryAllocate(nil)
	require.NoError(t, err)
	theirs, err := other.TryAllocate(nil)
	require.NoError(t, err)
	before := p.Stats()

	assert.False(t, p.Deallocate(theirs))
	heap := new(uint128)
	assert.False(t, p.Deallocate(heap))
	assert.False(t, p.Contains(heap))
	assert.True(t, p.Deallocate(nil))
	assert.Equal(t, before, p.Stats(), "foreign pointers must not change state")

	require.True(t, p.Deallocate(mine))
	require.True(t, other.Deallocate(theirs))
}

var errBoom = errors.New("boom")

func TestConstructorErrorReleasesSlot(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocate(func(o *uint128) error {
		o.upper = 1
		return errBoom
	})
	assert.Nil(t, obj)
	assert.ErrorIs(t, err, ErrConstruct)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, p.Len())
	assert.Zero(t, p.Stats().Allocated)

	first, err := p.TryAllocate(nil)
	require.NoError(t, err)
	assert.Equal(t, uint128{}, *first, "released slot is reused and zeroed")
	require.True(t, p.Deallocate(first))
}

func TestConstructorPanicReleasesSlot(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	assert.PanicsWithValue(t, "ctor", func() {
		_, _ = p.TryAllocate(func(*uint128) error { panic("ctor") })
	})
	assert.Zero(t, p.Len())
	assert.Equal(t, p.Capacity(), p.Available())
}

// loanedPuddle returns a puddle whose page was committed, emptied and then
// loaned back to the OS.
func loanedPuddle(t *testing.T, alloc *page.OS) *Puddle[uint128] {
	t.Helper()
	testutil.RequireLoan(t, alloc)
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	require.True(t, p.Deallocate(obj))
	p.UnusedInAllocation()
	return p
}

func TestIdlePuddleIsLoaned(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := loanedPuddle(t, alloc)

	st := p.Stats()
	assert.Equal(t, page.StateLoaned, st.State)
	assert.Equal(t, uint64(1), st.Loans)
	assert.Equal(t, uint64(1), st.Commits)
	assert.Equal(t, Usage(0), st.Usage)
	assert.Equal(t, p.Capacity(), p.Available())
}

func TestLoanedPuddleIsRecommitted(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := loanedPuddle(t, alloc)
	require.Equal(t, page.StateLoaned, p.State())

	obj, err := p.TryAllocateValue(uint128{upper: 3})
	require.NoError(t, err)
	require.NotNil(t, obj)

	st := p.Stats()
	assert.Equal(t, page.StateCommitted, st.State)
	assert.Equal(t, uint64(2), st.Commits)
	assert.Equal(t, uint64(1), st.Loans)
	assert.Equal(t, Usage(1), st.Usage)
	assert.Equal(t, uint64(3), obj.upper)
	require.True(t, p.Deallocate(obj))
}

func TestIdlePuddleWithoutLoanStaysCommitted(t *testing.T) {
	alloc := testutil.NewAllocator(t, page.WithoutLoan())
	require.False(t, alloc.CanLoan())
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	require.True(t, p.Deallocate(obj))
	p.UnusedInAllocation()

	st := p.Stats()
	assert.Equal(t, page.StateCommitted, st.State)
	assert.Zero(t, st.Loans)
	assert.Equal(t, Usage(0), st.Usage)

	obj, err = p.TryAllocateValue(uint128{lower: 4})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Stats().Commits, "page never left the committed state")
	require.True(t, p.Deallocate(obj))
}

// refusingAllocator fails Commit while commits is positive.
type refusingAllocator struct {
	*page.OS
	commits int
}

func (r *refusingAllocator) Commit(p page.Page) (page.Committed, error) {
	if r.commits > 0 {
		r.commits--
		return page.Committed{}, fmt.Errorf("%w: commit refused", page.ErrOutOfMemory)
	}
	return r.OS.Commit(p)
}

func TestCommitFailureRollsBackUsage(t *testing.T) {
	alloc := &refusingAllocator{OS: testutil.NewAllocator(t), commits: 1}
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocate(nil)
	assert.Nil(t, obj)
	require.ErrorIs(t, err, page.ErrOutOfMemory)

	st := p.Stats()
	assert.Equal(t, Usage(0), st.Usage)
	assert.Equal(t, page.StateReserved, st.State)
	assert.Zero(t, st.Commits)
	assert.Zero(t, st.Live)
	assert.Zero(t, st.Allocated)

	obj, err = p.TryAllocateValue(uint128{upper: 11})
	require.NoError(t, err)
	require.NotNil(t, obj)
	st = p.Stats()
	assert.Equal(t, page.StateCommitted, st.State)
	assert.Equal(t, Usage(1), st.Usage)
	assert.Equal(t, uint64(1), st.Commits)
	assert.Equal(t, uint64(11), obj.upper)
	require.True(t, p.Deallocate(obj))
}

func TestReclaimFailureKeepsPageLoaned(t *testing.T) {
	base := testutil.NewAllocator(t)
	testutil.RequireLoan(t, base)
	alloc := &refusingAllocator{OS: base}
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	require.True(t, p.Deallocate(obj))
	p.UnusedInAllocation()
	require.Equal(t, page.StateLoaned, p.State())

	alloc.commits = 1
	_, err = p.TryAllocate(nil)
	require.ErrorIs(t, err, page.ErrOutOfMemory)
	assert.Equal(t, page.StateLoaned, p.State())
	assert.Equal(t, Usage(0), p.Stats().Usage)

	obj, err = p.TryAllocate(nil)
	require.NoError(t, err)
	assert.Equal(t, page.StateCommitted, p.State())
	require.True(t, p.Deallocate(obj))
}

func TestPuddleWithLiveObjectsIsNotLoaned(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocateValue(uint128{upper: 9})
	require.NoError(t, err)
	p.UnusedInAllocation()

	assert.Equal(t, page.StateCommitted, p.State())
	assert.Zero(t, p.Stats().Loans)
	assert.Equal(t, uint64(9), obj.upper)
	require.True(t, p.Deallocate(obj))
}

func TestUsageTracksAllocationRounds(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	var objs []*uint128
	for range 10 {
		obj, err := p.TryAllocate(nil)
		require.NoError(t, err)
		objs = append(objs, obj)
	}
	assert.Equal(t, MaxUsage, p.Stats().Usage)

	for range 3 {
		p.UnusedInAllocation()
	}
	assert.Equal(t, MaxUsage-3, p.Stats().Usage)

	for _, obj := range objs {
		require.True(t, p.Deallocate(obj))
	}
}

func TestDecommit(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Decommit(), ErrInUse)

	require.True(t, p.Deallocate(obj))
	require.NoError(t, p.Decommit())
	assert.Equal(t, page.StateReserved, p.State())
	assert.Equal(t, Usage(0), p.Stats().Usage)

	obj, err = p.TryAllocateValue(uint128{lower: 5})
	require.NoError(t, err)
	assert.Equal(t, page.StateCommitted, p.State())
	assert.Equal(t, uint64(5), obj.lower)
	require.True(t, p.Deallocate(obj))
}

func TestDestructorAndPoison(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	var destroyed []uint64
	p := newPuddle[uint128](t, alloc,
		WithPoison(),
		WithDestructor(func(o *uint128) { destroyed = append(destroyed, o.upper) }))

	obj, err := p.TryAllocateValue(uint128{upper: 11, lower: 12})
	require.NoError(t, err)
	require.True(t, p.Deallocate(obj))

	assert.Equal(t, []uint64{11}, destroyed)
	// The page is still committed, so the stale slot is readable.
	raw := unsafe.Slice((*byte)(unsafe.Pointer(obj)), unsafe.Sizeof(*obj))
	for i, b := range raw {
		assert.Equal(t, byte(PoisonByte), b, "byte %d", i)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p, err := New[uint128](alloc, WithTrace(), WithLogger(testutil.Logger(t)))
	require.NoError(t, err)

	_, err = p.TryAllocate(nil)
	require.NoError(t, err)

	require.NoError(t, p.Close(), "leaked objects are reported, not fatal")
	require.NoError(t, p.Close())

	_, err = p.TryAllocate(nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Decommit(), ErrClosed)
	assert.Zero(t, p.Available())
}

func TestDoubleFreeViolates(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)
	keep, err := p.TryAllocate(nil)
	require.NoError(t, err)
	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	require.True(t, p.Deallocate(obj))

	v := testutil.ExpectViolation(t, check.Precondition, func() {
		p.Deallocate(obj)
	})
	assert.Contains(t, v.Message, "not in use")
	require.True(t, p.Deallocate(keep))
}

func TestInteriorPointerViolates(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[blob24](t, alloc)
	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	defer p.Deallocate(obj)

	interior := (*blob24)(unsafe.Add(unsafe.Pointer(obj), 1))
	v := testutil.ExpectViolation(t, check.Precondition, func() {
		p.Deallocate(interior)
	})
	assert.Contains(t, v.Message, "slot boundary")
}

func TestTailPointerViolates(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[blob24](t, alloc)
	if alloc.PageSize()%24 == 0 {
		t.Skip("page has no tail for 24-byte slots")
	}
	obj, err := p.TryAllocate(nil)
	require.NoError(t, err)
	defer p.Deallocate(obj)

	tail := (*blob24)(unsafe.Add(unsafe.Pointer(obj), p.Capacity()*24))
	v := testutil.ExpectViolation(t, check.Precondition, func() {
		p.Deallocate(tail)
	})
	assert.Contains(t, v.Message, "past the last slot")
}

func TestConcurrentAllocationsAreDisjoint(t *testing.T) {
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	workers := min(p.Capacity(), 4*runtime.GOMAXPROCS(0))
	got := make([]*uint128, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			obj, err := p.TryAllocateValue(uint128{upper: uint64(i)})
			if err != nil {
				return err
			}
			if obj == nil {
				return errors.New("puddle unexpectedly full")
			}
			got[i] = obj
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[*uint128]int, workers)
	for i, obj := range got {
		prev, dup := seen[obj]
		require.False(t, dup, "workers %d and %d got the same slot", prev, i)
		seen[obj] = i
		assert.Equal(t, uint64(i), obj.upper)
	}
	for _, obj := range got {
		require.True(t, p.Deallocate(obj))
	}
}

func TestConcurrentChurn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping churn in short mode")
	}
	alloc := testutil.NewAllocator(t)
	p := newPuddle[uint128](t, alloc)

	var g errgroup.Group
	for w := range runtime.GOMAXPROCS(0) {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), 7))
			var held []*uint128
			for range 2048 {
				if rng.IntN(2) == 0 && len(held) > 0 {
					obj := held[len(held)-1]
					held = held[:len(held)-1]
					if obj.upper == 0 || obj.lower != obj.upper*3 {
						return errors.New("object changed while held")
					}
					if !p.Deallocate(obj) {
						return errors.New("puddle disowned its object")
					}
					continue
				}
				v := rng.Uint64N(8192) + 1
				obj, err := p.TryAllocateValue(uint128{upper: v, lower: v * 3})
				if err != nil {
					return err
				}
				if obj != nil {
					held = append(held, obj)
				}
			}
			for _, obj := range held {
				p.Deallocate(obj)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Zero(t, p.Len())
}

func BenchmarkTryAllocateDeallocate(b *testing.B) {
	alloc := page.New()
	p, err := New[uint128](alloc)
	require.NoError(b, err)
	defer p.Close()

	for b.Loop() {
		obj, _ := p.TryAllocate(nil)
		p.Deallocate(obj)
	}
}
