package puddle

import (
	"io"
	"log/slog"
	"reflect"
	"unsafe"
)

// PoisonByte fills destroyed slots when poisoning is on.
const PoisonByte = 0xDD

type settings struct {
	poison      bool
	trace       bool
	logger      *slog.Logger
	destroy     func(unsafe.Pointer)
	destroyType reflect.Type
}

func defaults() settings {
	return settings{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Option configures a Puddle.
type Option func(*settings)

// WithPoison overwrites every destroyed slot with PoisonByte so stale
// pointers read recognizable garbage.
func WithPoison() Option {
	return func(s *settings) { s.poison = true }
}

// WithTrace logs lifetime counters and the address of every slot still in
// use when the puddle is closed.
func WithTrace() Option {
	return func(s *settings) { s.trace = true }
}

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDestructor runs fn on every object before its slot is freed. fn must be
// for the puddle's slot type.
func WithDestructor[T any](fn func(*T)) Option {
	return func(s *settings) {
		s.destroyType = reflect.TypeFor[T]()
		s.destroy = func(p unsafe.Pointer) { fn((*T)(p)) }
	}
}
