package pool

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/joshuapare/haven/mem/page"
	"github.com/joshuapare/haven/mem/puddle"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the default environment prefix for LoadConfig.
const EnvPrefix = "HAVEN"

// Config holds the environment-driven knobs of a pool and its allocator.
//
//	HAVEN_POISON=true     fill destroyed slots with puddle.PoisonByte
//	HAVEN_TRACE=true      track pages and report leaked slots on close
//	HAVEN_NO_LOAN=true    never loan idle pages back to the OS
//	HAVEN_LOG_LEVEL=debug slog level (debug, info, warn, error)
type Config struct {
	Poison   bool   `envconfig:"POISON"`
	Trace    bool   `envconfig:"TRACE"`
	NoLoan   bool   `envconfig:"NO_LOAN"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
}

// LoadConfig reads Config from the environment under prefix (EnvPrefix when
// empty).
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	var c Config
	if err := envconfig.Process(prefix, &c); err != nil {
		return Config{}, fmt.Errorf("pool: load config: %w", err)
	}
	if _, err := c.level(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("pool: log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	l, err := c.level()
	if err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// PageOptions converts c into allocator options.
func (c Config) PageOptions(logger *slog.Logger) []page.Option {
	opts := []page.Option{page.WithLogger(logger)}
	if c.Trace {
		opts = append(opts, page.WithTrace())
	}
	if c.NoLoan {
		opts = append(opts, page.WithoutLoan())
	}
	return opts
}

// Options converts c into pool options.
func (c Config) Options(logger *slog.Logger) []Option {
	var po []puddle.Option
	if c.Poison {
		po = append(po, puddle.WithPoison())
	}
	if c.Trace {
		po = append(po, puddle.WithTrace())
	}
	return []Option{WithLogger(logger), WithPuddleOptions(po...)}
}
