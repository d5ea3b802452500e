// Package logger holds the process-wide zap logger of the unred command and
// carries per-run loggers through context.Context.
package logger

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DevelopmentEnvironment selects a human-readable console logger.
	DevelopmentEnvironment = "development"
	// ProductionEnvironment selects a JSON logger.
	ProductionEnvironment = "production"
)

var defaultLogger atomic.Pointer[zap.Logger] //nolint: gochecknoglobals

// Setup builds the default logger for environment. An empty level keeps
// the environment default (debug for development, info for production).
func Setup(environment, level string) error {
	cfg := zap.NewDevelopmentConfig()
	if environment == ProductionEnvironment {
		cfg = zap.NewProductionConfig()
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}

		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	// Progress goes to stderr so stdout stays clean for spectra.
	cfg.OutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	defaultLogger.Store(l)

	return nil
}

type key struct{}

// Get returns the logger stored in ctx, the default logger, or a no-op
// logger when Setup was never called.
func Get(ctx context.Context) *zap.Logger {
	if l, _ := ctx.Value(key{}).(*zap.Logger); l != nil {
		return l
	}

	if l := defaultLogger.Load(); l != nil {
		return l
	}

	return zap.NewNop()
}

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, key{}, l)
}

// WithFields returns a context whose logger adds fields to every entry.
func WithFields(ctx context.Context, fields ...zapcore.Field) context.Context {
	return WithLogger(ctx, Get(ctx).With(fields...))
}

// IsDebug reports whether the context logger emits debug entries.
func IsDebug(ctx context.Context) bool {
	return Get(ctx).Core().Enabled(zap.DebugLevel)
}

func Debug(ctx context.Context, msg string, fields ...zapcore.Field) {
	Get(ctx).Debug(msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zapcore.Field) {
	Get(ctx).Info(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zapcore.Field) {
	Get(ctx).Warn(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zapcore.Field) {
	Get(ctx).Error(msg, fields...)
}

// Sync flushes the default logger.
func Sync() {
	if l := defaultLogger.Load(); l != nil {
		_ = l.Sync()
	}
}
