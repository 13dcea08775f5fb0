package page

import (
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/joshuapare/haven/internal/check"
	"github.com/joshuapare/haven/internal/vmem"
)

// Allocator moves page ranges between Reserved, Committed and Loaned.
type Allocator interface {
	// PageSize is the OS page granularity; sizes must be multiples of it.
	PageSize() int
	// CacheLineSize approximates the L1 data cache line.
	CacheLineSize() int

	Reserve(size int) (Reserved, error)
	// Commit accepts any state. Committing a Committed page is a no-op and
	// committing a Loaned page reclaims it without preserving content.
	Commit(p Page) (Committed, error)
	Decommit(p Committed) (Reserved, error)
	Allocate(size int) (Committed, error)
	Deallocate(p Page) error
	// Loan returns either a Loaned page or p unchanged.
	Loan(p Page) Page
}

// OS is the Allocator backed by the operating system.
type OS struct {
	pageSize  int
	cacheLine int
	loan      bool
	trace     bool
	logger    *slog.Logger

	mu    sync.Mutex
	count int
	live  map[uintptr]struct{}
}

var _ Allocator = (*OS)(nil)

// Option configures an OS allocator.
type Option func(*OS)

// WithoutLoan disables loaning. Loan becomes an identity and committing a
// Loaned page is a contract violation.
func WithoutLoan() Option {
	return func(o *OS) { o.loan = false }
}

// WithTrace tracks every reservation until it is deallocated.
func WithTrace() Option {
	return func(o *OS) { o.trace = true }
}

// WithLogger sets the logger for state transitions. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(o *OS) {
		if l != nil {
			o.logger = l
		}
	}
}

// New returns an allocator over the host OS.
func New(opts ...Option) *OS {
	o := &OS{
		pageSize:  vmem.PageSize(),
		cacheLine: vmem.CacheLineSize(),
		loan:      vmem.CanOffer(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.loan = o.loan && vmem.CanOffer()
	if o.trace {
		o.live = make(map[uintptr]struct{})
	}
	check.Post1(o.pageSize > 0, "page size is zero", o.pageSize)
	return o
}

// PageSize implements Allocator.
func (o *OS) PageSize() int { return o.pageSize }

// CacheLineSize implements Allocator.
func (o *OS) CacheLineSize() int { return o.cacheLine }

// CanLoan reports whether Loan can ever return a Loaned page.
func (o *OS) CanLoan() bool { return o.loan }

// Reserve implements Allocator.
func (o *OS) Reserve(size int) (Reserved, error) {
	check.Pre2(size > 0 && size%o.pageSize == 0, "size must be a positive multiple of the page size", size, o.pageSize)

	mem, err := vmem.Reserve(size)
	if err != nil {
		return Reserved{}, err
	}
	p := Reserved{region{mem}}
	o.track(p.Base())
	o.logger.Debug("page reserved", "base", p.Base(), "size", size)

	check.Post1(p.Base() != 0, "reserved page has no address", p)
	return p, nil
}

// Allocate implements Allocator.
func (o *OS) Allocate(size int) (Committed, error) {
	check.Pre2(size > 0 && size%o.pageSize == 0, "size must be a positive multiple of the page size", size, o.pageSize)

	mem, err := vmem.MapCommitted(size)
	if err != nil {
		return Committed{}, err
	}
	p := Committed{region{mem}}
	o.track(p.Base())
	o.logger.Debug("page allocated", "base", p.Base(), "size", size)
	return p, nil
}

// Commit implements Allocator.
func (o *OS) Commit(p Page) (Committed, error) {
	check.Pre1(p != nil && p.Base() != 0, "commit of an empty page", p)
	check.Pre2(p.Size()%o.pageSize == 0, "page size mismatch", p.Size(), o.pageSize)

	var out Committed
	switch p := p.(type) {
	case Committed:
		return p, nil
	case Reserved:
		if err := vmem.Commit(p.mem); err != nil {
			return Committed{}, err
		}
		out = Committed{p.region}
	case Loaned:
		check.Pre1(o.loan, "commit of a loaned page on an allocator that cannot loan", p)
		if err := vmem.Reclaim(p.mem); err != nil {
			return Committed{}, err
		}
		out = Committed{p.region}
	default:
		check.Pre1(false, "unknown page variant", p)
		return Committed{}, nil
	}
	o.logger.Debug("page committed", "base", out.Base(), "from", p.State())

	check.Post2(out.Base() == p.Base(), "commit moved the page", out.Base(), p.Base())
	return out, nil
}

// Decommit implements Allocator.
func (o *OS) Decommit(p Committed) (Reserved, error) {
	check.Pre1(p.Base() != 0, "decommit of an empty page", p)
	check.Pre1(p.Size() > 0, "decommit of a zero-sized page", p)

	if err := vmem.Decommit(p.mem); err != nil {
		return Reserved{}, err
	}
	o.logger.Debug("page decommitted", "base", p.Base())
	return Reserved{p.region}, nil
}

// Loan implements Allocator.
func (o *OS) Loan(p Page) Page {
	c, ok := p.(Committed)
	if !ok || !o.loan {
		// Reserved memory has nothing to give back; Loaned already is.
		return p
	}
	if err := vmem.Offer(c.mem); err != nil {
		o.logger.Debug("page loan refused", "base", c.Base(), "err", err)
		return p
	}
	o.logger.Debug("page loaned", "base", c.Base())
	return Loaned{c.region}
}

// Deallocate implements Allocator.
func (o *OS) Deallocate(p Page) error {
	check.Pre1(p != nil && p.Base() != 0, "deallocate of an empty page", p)

	if l, ok := p.(Loaned); ok {
		if _, err := o.Commit(l); err != nil {
			return err
		}
	}
	o.untrack(p.Base())
	if err := vmem.Release(p.span()); err != nil {
		return err
	}
	o.logger.Debug("page released", "base", p.Base(), "state", p.State())
	return nil
}

func (o *OS) track(base uintptr) {
	if !o.trace {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.count++
	o.live[base] = struct{}{}
}

func (o *OS) untrack(base uintptr) {
	if !o.trace {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, known := o.live[base]
	check.Pre1(known, "deallocate of a page this allocator does not own", base)
	delete(o.live, base)

	check.Post1(!o.isLive(base), "page still tracked after release", base)
}

func (o *OS) isLive(base uintptr) bool {
	_, ok := o.live[base]
	return ok
}

// Count returns how many pages were ever reserved or allocated. Zero unless
// tracing.
func (o *OS) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// Outstanding lists base addresses of pages not yet deallocated, in ascending
// order. Nil unless tracing.
func (o *OS) Outstanding() []uintptr {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.live == nil {
		return nil
	}
	out := make([]uintptr, 0, len(o.live))
	for base := range o.live {
		out = append(out, base)
	}
	slices.Sort(out)
	return out
}

// Report logs the reservation count and any page never deallocated.
func (o *OS) Report() {
	if !o.trace {
		return
	}
	leaked := o.Outstanding()
	if len(leaked) == 0 {
		o.logger.Info("page allocator clean", "pages", o.Count())
		return
	}
	for _, base := range leaked {
		o.logger.Warn("page not deallocated", "base", base)
	}
	o.logger.Warn("page allocator leaked pages", "pages", o.Count(), "leaked", len(leaked))
}
