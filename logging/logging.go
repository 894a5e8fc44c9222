// Package logging provides a JSON structured implementation of
// [types.Logger] on top of zerolog.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/msam-go/msam/types"
	"github.com/rs/zerolog"
)

// Config controls the logger output.
type Config struct {
	Level      string `yaml:"level"`
	Debug      bool   `yaml:"debug"`
	Output     string `yaml:"output"`
	TimeFormat string `yaml:"time_format"`
}

// DefaultConfig logs at info level to stdout.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: "stdout",
	}
}

type logger struct {
	zl zerolog.Logger
}

// New creates a logger writing JSON lines to the output named in cfg
// ("stdout" or "stderr").
//
//nolint:ireturn
func New(cfg Config) (types.Logger, error) {
	var output io.Writer = os.Stdout

	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	return NewWithWriter(cfg, output)
}

// NewWithWriter is like [New] but writes to w.
//
//nolint:ireturn
func NewWithWriter(cfg Config, w io.Writer) (types.Logger, error) {
	level := zerolog.InfoLevel

	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	// TimeFieldFormat is process-global in zerolog.
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()

	return &logger{zl: zl}, nil
}

// Wrap adapts an existing zerolog logger.
//
//nolint:ireturn
func Wrap(zl zerolog.Logger) types.Logger {
	return &logger{zl: zl}
}

//nolint:ireturn
func (l *logger) WithField(key string, value any) types.Logger {
	return &logger{zl: l.zl.With().Interface(key, value).Logger()}
}

//nolint:ireturn
func (l *logger) WithFields(fields map[string]any) types.Logger {
	ctx := l.zl.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}

	return &logger{zl: ctx.Logger()}
}

func (l *logger) Debug(msg string)                  { l.zl.Debug().Msg(msg) }
func (l *logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *logger) Info(msg string)                   { l.zl.Info().Msg(msg) }
func (l *logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *logger) Warn(msg string)                   { l.zl.Warn().Msg(msg) }
func (l *logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *logger) Error(msg string)                  { l.zl.Error().Msg(msg) }
func (l *logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Nop returns a logger that discards everything.
//
//nolint:ireturn
func Nop() types.Logger {
	return &logger{zl: zerolog.Nop()}
}
