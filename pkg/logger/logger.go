// Package logger holds the process-wide zerolog logger and helpers to
// carry a request-scoped logger through a context.Context.
package logger

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

var global zerolog.Logger

func init() {
	hostname, _ := os.Hostname()

	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	global = log.With().
		Str("hostname", hostname).
		Caller().
		Logger().
		Level(level)

	log.Logger = global
}

// Ctx returns the logger stored in ctx, or the global logger when none is set.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &global
	}
	if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
		return l
	}
	return &global
}

// WithLogger returns a child context carrying the given logger.
func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// SetLevel updates the global log level.
func SetLevel(level zerolog.Level) {
	global = global.Level(level)
	log.Logger = global
}

func Fatal() *zerolog.Event { return global.Fatal() }
func Error() *zerolog.Event { return global.Error() }
func Warn() *zerolog.Event  { return global.Warn() }
func Info() *zerolog.Event  { return global.Info() }
func Debug() *zerolog.Event { return global.Debug() }
func Trace() *zerolog.Event { return global.Trace() }
