// Package check implements the contract checks used throughout haven.
//
// A check states a precondition or postcondition of an operation. A passing
// check returns without side effects and without allocating. A failing check
// is a programming error: the violation is reported through log/slog and the
// process terminates. Checks are never used for control flow.
//
// Which categories are active is fixed at build time:
//
//	-tags haven_nopre     drop precondition checks
//	-tags haven_nopost    drop postcondition checks
//	-tags haven_noparams  do not capture argument values on failure
//
// The argument-carrying variants (Pre1, Pre2, Post1, Post2) are generic so that
// the values are only boxed on the failure path.
package check

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
)

// Kind tells which side of an operation a check guards.
type Kind uint8

const (
	Precondition Kind = iota
	Postcondition
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "precondition"
	case Postcondition:
		return "postcondition"
	default:
		return "unknown"
	}
}

// Violation describes a failed check.
type Violation struct {
	Kind     Kind
	Message  string
	File     string
	Line     int
	Function string
	// Params holds the values handed to the check, empty when built with
	// haven_noparams.
	Params []any
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d in function %s: %s failed: %s", v.File, v.Line, v.Function, v.Kind, v.Message)
}

// Handler receives violations. The default handler logs and exits with
// status 134; a replacement must not return into the failing operation unless
// it panics.
type Handler func(Violation)

// ExitCode is the status the default handler terminates with (SIGABRT style).
const ExitCode = 134

var (
	logger  = slog.New(slog.NewTextHandler(os.Stderr, nil))
	handler atomic.Pointer[Handler]
)

func init() {
	h := Handler(abort)
	handler.Store(&h)
}

// SetHandler installs h and returns a function restoring the previous one.
func SetHandler(h Handler) (restore func()) {
	prev := handler.Swap(&h)
	return func() { handler.Store(prev) }
}

// Enabled reports whether checks of kind k are compiled in.
func Enabled(k Kind) bool {
	if k == Precondition {
		return preChecks
	}
	return postChecks
}

// Pre checks a precondition.
func Pre(ok bool, msg string) {
	if preChecks && !ok {
		fail(Precondition, msg)
	}
}

// Pre1 checks a precondition and reports a on failure.
func Pre1[A any](ok bool, msg string, a A) {
	if preChecks && !ok {
		fail(Precondition, msg, a)
	}
}

// Pre2 checks a precondition and reports a and b on failure.
func Pre2[A, B any](ok bool, msg string, a A, b B) {
	if preChecks && !ok {
		fail(Precondition, msg, a, b)
	}
}

// Post checks a postcondition.
func Post(ok bool, msg string) {
	if postChecks && !ok {
		fail(Postcondition, msg)
	}
}

// Post1 checks a postcondition and reports a on failure.
func Post1[A any](ok bool, msg string, a A) {
	if postChecks && !ok {
		fail(Postcondition, msg, a)
	}
}

// Post2 checks a postcondition and reports a and b on failure.
func Post2[A, B any](ok bool, msg string, a A, b B) {
	if postChecks && !ok {
		fail(Postcondition, msg, a, b)
	}
}

//go:noinline
func fail(kind Kind, msg string, params ...any) {
	v := Violation{Kind: kind, Message: msg, Function: "unknown"}
	// 0 is fail, 1 the check helper, 2 the checked operation.
	if pc, file, line, ok := runtime.Caller(2); ok {
		v.File, v.Line = file, line
		if fn := runtime.FuncForPC(pc); fn != nil {
			v.Function = fn.Name()
		}
	}
	if printParams && len(params) > 0 {
		v.Params = params
	}
	(*handler.Load())(v)
}

func abort(v Violation) {
	attrs := []any{
		slog.String("kind", v.Kind.String()),
		slog.String("condition", v.Message),
		slog.String("at", fmt.Sprintf("%s:%d", v.File, v.Line)),
		slog.String("func", v.Function),
	}
	for i, p := range v.Params {
		attrs = append(attrs, slog.Any(fmt.Sprintf("param%d", i), p))
	}
	logger.Error("ABORT", attrs...)
	os.Exit(ExitCode)
}
