// Package logx is the process-wide logger. It keeps a small leveled API and delegates
// encoding and output to zap.
package logx

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

// Fields are structured key/value pairs attached to a log entry.
type Fields map[string]any

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger = newLogger(false)
)

func newLogger(production bool) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	var enc zapcore.Encoder
	if production {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// Configure switches between the console encoder and the JSON encoder.
func Configure(production bool) {
	mu.Lock()
	defer mu.Unlock()
	_ = logger.Sync()
	logger = newLogger(production)
}

// SetLevel changes the minimum level for all loggers.
func SetLevel(l Level) {
	level.SetLevel(zapcore.Level(l))
}

// ParseLevel maps "debug", "warn" and "error" to levels; anything else is info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Sync flushes buffered entries.
func Sync() {
	_ = current().Sync()
}

func Debug(args ...any)                 { current().Debug(args...) }
func Debugf(format string, args ...any) { current().Debugf(format, args...) }
func Info(args ...any)                  { current().Info(args...) }
func Infof(format string, args ...any)  { current().Infof(format, args...) }
func Warn(args ...any)                  { current().Warn(args...) }
func Warnf(format string, args ...any)  { current().Warnf(format, args...) }
func Error(args ...any)                 { current().Error(args...) }
func Errorf(format string, args ...any) { current().Errorf(format, args...) }
func Fatalf(format string, args ...any) { current().Fatalf(format, args...) }

// Entry is a logger with fields attached.
type Entry struct {
	l *zap.SugaredLogger
}

// WithFields returns an entry that logs fields with every message.
func WithFields(fields Fields) *Entry {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Entry{l: current().With(kv...)}
}

// WithField is WithFields for a single pair.
func WithField(key string, value any) *Entry {
	return &Entry{l: current().With(key, value)}
}

func (e *Entry) WithField(key string, value any) *Entry {
	return &Entry{l: e.l.With(key, value)}
}

func (e *Entry) Debug(args ...any)                 { e.l.Debug(args...) }
func (e *Entry) Debugf(format string, args ...any) { e.l.Debugf(format, args...) }
func (e *Entry) Info(args ...any)                  { e.l.Info(args...) }
func (e *Entry) Infof(format string, args ...any)  { e.l.Infof(format, args...) }
func (e *Entry) Warn(args ...any)                  { e.l.Warn(args...) }
func (e *Entry) Warnf(format string, args ...any)  { e.l.Warnf(format, args...) }
func (e *Entry) Error(args ...any)                 { e.l.Error(args...) }
func (e *Entry) Errorf(format string, args ...any) { e.l.Errorf(format, args...) }
