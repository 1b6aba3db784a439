package observ

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu  sync.RWMutex
	logger = mustDefaultLogger()
)

func mustDefaultLogger() *zap.Logger {
	l, err := NewLogger("info", "json")
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// NewLogger builds a zap logger. format is "json" (production encoder) or
// "console" (development encoder with colored levels).
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	// stdout carries records; logs go to stderr
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil

	return cfg.Build()
}

// Init replaces the process logger
func Init(level, format string) error {
	l, err := NewLogger(level, format)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger installs l (tests use zap.NewNop or an observer core)
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logMu.Lock()
	defer logMu.Unlock()
	logger = l
}

// Logger returns the process logger
func Logger() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Sync flushes buffered log entries
func Sync() {
	_ = Logger().Sync()
}

// Log emits an info-level event with key/value context
func Log(event string, kv map[string]any) {
	Logger().Info(event, fields(event, kv)...)
}

// Warn emits a warn-level event
func Warn(event string, kv map[string]any) {
	Logger().Warn(event, fields(event, kv)...)
}

// Debug emits a debug-level event
func Debug(event string, kv map[string]any) {
	if ce := Logger().Check(zapcore.DebugLevel, event); ce != nil {
		ce.Write(fields(event, kv)...)
	}
}

// fields converts kv into zap fields with stable key order
func fields(event string, kv map[string]any) []zap.Field {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(kv)+1)
	out = append(out, zap.String("event", event))
	for _, k := range keys {
		switch v := kv[k].(type) {
		case error:
			if v == nil {
				continue
			}
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
