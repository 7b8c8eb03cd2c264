package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level aliases keep call sites terse (logger.SetLevel(logger.DEBUG)).
type Level = zapcore.Level

const (
	DEBUG = zapcore.DebugLevel
	INFO  = zapcore.InfoLevel
	WARN  = zapcore.WarnLevel
	ERROR = zapcore.ErrorLevel
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(INFO)
	log   = newLogger()
)

func newLogger() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

// SetLevel changes the global logging threshold.
func SetLevel(l Level) {
	level.SetLevel(l)
}

// SetLogger replaces the backing zap logger (tests).
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l != nil {
		log = l
	}
}

func fieldsOf(component string, fields map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// InfoC logs an info message tagged with a component.
func InfoC(component, msg string) {
	current().Info(msg, zap.String("component", component))
}

// InfoCF logs an info message with a component and structured fields.
func InfoCF(component, msg string, fields map[string]any) {
	current().Info(msg, fieldsOf(component, fields)...)
}

func DebugC(component, msg string) {
	current().Debug(msg, zap.String("component", component))
}

func DebugCF(component, msg string, fields map[string]any) {
	current().Debug(msg, fieldsOf(component, fields)...)
}

func WarnC(component, msg string) {
	current().Warn(msg, zap.String("component", component))
}

func WarnCF(component, msg string, fields map[string]any) {
	current().Warn(msg, fieldsOf(component, fields)...)
}

func ErrorC(component, msg string) {
	current().Error(msg, zap.String("component", component))
}

func ErrorCF(component, msg string, fields map[string]any) {
	current().Error(msg, fieldsOf(component, fields)...)
}
