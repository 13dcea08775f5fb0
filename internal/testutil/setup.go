// Package testutil holds helpers shared by haven's package tests.
package testutil

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/joshuapare/haven/internal/check"
	"github.com/joshuapare/haven/mem/page"
)

// NewAllocator returns a tracing OS allocator and registers a cleanup that
// fails the test when any page is still outstanding.
//
// Example:
//
//	alloc := testutil.NewAllocator(t)
//	p, err := puddle.New[item](alloc)
func NewAllocator(t testing.TB, opts ...page.Option) *page.OS {
	t.Helper()
	opts = append([]page.Option{page.WithTrace(), page.WithLogger(Logger(t))}, opts...)
	alloc := page.New(opts...)
	t.Cleanup(func() {
		if leaked := alloc.Outstanding(); len(leaked) > 0 {
			t.Errorf("%d page(s) not deallocated: %#x", len(leaked), leaked)
		}
	})
	return alloc
}

// Logger returns a debug-level slog.Logger writing through t.Log.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(tbWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type tbWriter struct{ t testing.TB }

func (w tbWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// RequireLoan skips the test unless alloc can hand a committed page back to
// the OS. It tries one loan on a scratch page, so a kernel that rejects the
// advice also skips.
func RequireLoan(t testing.TB, alloc *page.OS) {
	t.Helper()
	if !alloc.CanLoan() {
		t.Skip("allocator cannot loan pages")
	}
	c, err := alloc.Allocate(alloc.PageSize())
	if err != nil {
		t.Fatalf("scratch page: %v", err)
	}
	loaned := alloc.Loan(c)
	if err := alloc.Deallocate(loaned); err != nil {
		t.Fatalf("scratch page release: %v", err)
	}
	if loaned.State() != page.StateLoaned {
		t.Skip("OS refused to take the page back")
	}
}

type violationPanic struct{ v check.Violation }

// ExpectViolation runs fn with a check handler that unwinds on the first
// violation and returns it. The test fails if fn completes without one.
// The test is skipped when checks of that kind are compiled out.
func ExpectViolation(t testing.TB, kind check.Kind, fn func()) (v check.Violation) {
	t.Helper()
	if !check.Enabled(kind) {
		t.Skipf("%s checks compiled out", kind)
	}
	restore := check.SetHandler(func(v check.Violation) { panic(violationPanic{v}) })
	defer restore()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected %s violation, none raised", kind)
			return
		}
		vp, ok := r.(violationPanic)
		if !ok {
			panic(r)
		}
		if vp.v.Kind != kind {
			t.Fatalf("expected %s violation, got %s", kind, fmt.Sprint(vp.v))
		}
		v = vp.v
	}()
	fn()
	return v
}
