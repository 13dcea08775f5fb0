package pool

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/joshuapare/haven/internal/buf"
	"github.com/joshuapare/haven/mem/page"
	"github.com/joshuapare/haven/mem/puddle"
)

// ErrClosed indicates use of a pool after Close.
var ErrClosed = errors.New("pool: closed")

const (
	puddleFull byte = 0x00
	puddleFree byte = 0xFF
)

// Pool is a growable set of puddles for one object type.
type Pool[T any] struct {
	alloc   page.Allocator
	options []puddle.Option
	logger  *slog.Logger

	mu      sync.Mutex
	puddles []*puddle.Puddle[T]
	status  []byte
	closed  bool
}

// Option configures a Pool.
type Option func(*settings)

type settings struct {
	puddle []puddle.Option
	logger *slog.Logger
}

// WithPuddleOptions applies opts to every puddle the pool creates.
func WithPuddleOptions(opts ...puddle.Option) Option {
	return func(s *settings) { s.puddle = append(s.puddle, opts...) }
}

// WithLogger sets the logger for the pool and, unless overridden through
// WithPuddleOptions, its puddles.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a pool with one puddle.
func New[T any](alloc page.Allocator, opts ...Option) (*Pool[T], error) {
	s := settings{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&s)
	}
	p := &Pool[T]{
		alloc:   alloc,
		options: append([]puddle.Option{puddle.WithLogger(s.logger)}, s.puddle...),
		logger:  s.logger,
	}
	first, err := puddle.New[T](alloc, p.options...)
	if err != nil {
		return nil, err
	}
	p.puddles = append(p.puddles, first)
	p.status = append(p.status, puddleFree)
	return p, nil
}

// Allocate returns a new object initialized by ctor (nil leaves the zero
// value). It grows the pool as needed and only fails on OS memory exhaustion
// or a constructor error.
func (p *Pool[T]) Allocate(ctor func(*T) error) (*T, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		idx := buf.IndexByte(p.status, puddleFree)
		if idx < 0 {
			var err error
			if idx, err = p.grow(); err != nil {
				p.mu.Unlock()
				return nil, err
			}
		}
		target := p.puddles[idx]
		p.mu.Unlock()

		obj, err := target.TryAllocate(ctor)
		if err != nil {
			p.finishRound(idx)
			return nil, err
		}
		if obj == nil || target.Available() == 0 {
			p.refresh(idx)
		}
		if obj != nil {
			p.finishRound(idx)
			return obj, nil
		}
	}
}

// AllocateValue returns a new object holding a copy of v.
func (p *Pool[T]) AllocateValue(v T) (*T, error) {
	return p.Allocate(func(obj *T) error {
		*obj = v
		return nil
	})
}

// Deallocate destroys obj and returns its slot to the owning puddle. Pointers
// not owned by the pool are ignored.
func (p *Pool[T]) Deallocate(obj *T) {
	if obj == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	for i, pd := range p.snapshot() {
		if pd.Deallocate(obj) {
			p.refresh(i)
			return
		}
	}
}

// Len returns the number of puddles.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.puddles)
}

// Close releases every puddle. Objects still allocated become invalid.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var result *multierror.Error
	for i, pd := range p.puddles {
		if err := pd.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("puddle %d: %w", i, err))
		}
	}
	p.logger.Debug("pool closed", "puddles", len(p.puddles))
	return result.ErrorOrNil()
}

// grow appends a puddle and returns its index. Called with mu held.
func (p *Pool[T]) grow() (int, error) {
	pd, err := puddle.New[T](p.alloc, p.options...)
	if err != nil {
		return -1, fmt.Errorf("pool: grow: %w", err)
	}
	p.puddles = append(p.puddles, pd)
	p.status = append(p.status, puddleFree)
	p.logger.Debug("pool grew", "puddles", len(p.puddles))
	return len(p.puddles) - 1, nil
}

// refresh recomputes the status byte of puddle i from its empty-slot count.
func (p *Pool[T]) refresh(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.puddles[i].Available() > 0 {
		p.status[i] = puddleFree
	} else {
		p.status[i] = puddleFull
	}
}

// finishRound tells every puddle except the chosen one that it went unused.
func (p *Pool[T]) finishRound(chosen int) {
	for i, pd := range p.snapshot() {
		if i != chosen {
			pd.UnusedInAllocation()
		}
	}
}

// snapshot returns the current puddle list. Entries are never replaced, so
// the slice may be read without the lock.
func (p *Pool[T]) snapshot() []*puddle.Puddle[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.puddles
}
