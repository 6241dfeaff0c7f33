// Package logger provides the process-wide structured logger used by every
// other meshmcp package. It wraps a single swappable *zap.SugaredLogger so
// that packages can call package-level functions (logger.Info, logger.Errorf,
// ...) without threading a logger through every constructor.
package logger

import (
	"os"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(newDefault())
}

func newDefault() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if unstructuredLogs() {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		// Should not happen with the built-in configs; fall back to a
		// no-op logger rather than panicking at package init.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// unstructuredLogs mirrors the MESHMCP_UNSTRUCTURED_LOGS environment toggle:
// unset or invalid means "true" (human-readable console output), matching
// the teacher's own UNSTRUCTURED_LOGS default.
func unstructuredLogs() bool {
	v := os.Getenv("MESHMCP_UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// Initialize (re)configures the global logger from the environment. It is
// safe to call more than once; each call replaces the previous singleton.
func Initialize() {
	singleton.Store(newDefault())
}

// Get returns the current global logger.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

// Debug logs at debug level.
func Debug(args ...any) { Get().Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(template string, args ...any) { Get().Debugf(template, args...) }

// Debugw logs a message with key-value pairs at debug level.
func Debugw(msg string, keysAndValues ...any) { Get().Debugw(msg, keysAndValues...) }

// Info logs at info level.
func Info(args ...any) { Get().Info(args...) }

// Infof logs a formatted message at info level.
func Infof(template string, args ...any) { Get().Infof(template, args...) }

// Infow logs a message with key-value pairs at info level.
func Infow(msg string, keysAndValues ...any) { Get().Infow(msg, keysAndValues...) }

// Warn logs at warn level.
func Warn(args ...any) { Get().Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(template string, args ...any) { Get().Warnf(template, args...) }

// Warnw logs a message with key-value pairs at warn level.
func Warnw(msg string, keysAndValues ...any) { Get().Warnw(msg, keysAndValues...) }

// Error logs at error level.
func Error(args ...any) { Get().Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(template string, args ...any) { Get().Errorf(template, args...) }

// Errorw logs a message with key-value pairs at error level.
func Errorw(msg string, keysAndValues ...any) { Get().Errorw(msg, keysAndValues...) }

// DPanic logs at dpanic level (panics in development builds only).
func DPanic(args ...any) { Get().DPanic(args...) }

// DPanicf logs a formatted message at dpanic level.
func DPanicf(template string, args ...any) { Get().DPanicf(template, args...) }

// DPanicw logs a message with key-value pairs at dpanic level.
func DPanicw(msg string, keysAndValues ...any) { Get().DPanicw(msg, keysAndValues...) }

// Panic logs at error level and then panics.
func Panic(args ...any) { Get().Panic(args...) }

// Panicf logs a formatted message and then panics.
func Panicf(template string, args ...any) { Get().Panicf(template, args...) }

// Panicw logs a message with key-value pairs and then panics.
func Panicw(msg string, keysAndValues ...any) { Get().Panicw(msg, keysAndValues...) }
