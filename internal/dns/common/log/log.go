// Package log is the structured logging facade used across dohdec. It wraps
// zap behind a small interface so transports and the client facade can be
// handed a logger (or a no-op one in tests) without importing zap directly.
package log

import (
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global Logger = newZapLogger(false, zapcore.WarnLevel)

// Logger is the dohdec logging interface. Every method takes a set of
// structured fields and a message.
type Logger interface {
	Info(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
	Debug(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Panic(fields map[string]any, msg string)
	Fatal(fields map[string]any, msg string)
}

// SetLogger replaces the global logger instance.
func SetLogger(l Logger) {
	global = l
}

// GetLogger returns the current global logger instance.
func GetLogger() Logger {
	return global
}

// Configure sets up the global logger. Any env other than "prod" selects the
// human readable development encoder.
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	global = newZapLogger(env != "prod", lvl)
	return nil
}

// With returns a Logger that adds fields to every entry written through it.
// Fields passed at the call site win over the bound ones.
func With(l Logger, fields map[string]any) Logger {
	if l == nil {
		l = global
	}
	if len(fields) == 0 {
		return l
	}
	if fl, ok := l.(*fieldLogger); ok {
		merged := maps.Clone(fl.bound)
		maps.Copy(merged, fields)
		return &fieldLogger{next: fl.next, bound: merged}
	}
	return &fieldLogger{next: l, bound: maps.Clone(fields)}
}

func Info(fields map[string]any, msg string)  { global.Info(fields, msg) }
func Error(fields map[string]any, msg string) { global.Error(fields, msg) }
func Debug(fields map[string]any, msg string) { global.Debug(fields, msg) }
func Warn(fields map[string]any, msg string)  { global.Warn(fields, msg) }
func Panic(fields map[string]any, msg string) { global.Panic(fields, msg) }
func Fatal(fields map[string]any, msg string) { global.Fatal(fields, msg) }

// zapLogger implements Logger using Uber's zap.
type zapLogger struct {
	base *zap.Logger
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	var config zap.Config
	if dev {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.MessageKey = "msg"
	config.EncoderConfig.LevelKey = "level"
	// lookups print results on stdout, keep diagnostics on stderr
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &zapLogger{base: logger}
}

func (l *zapLogger) Info(fields map[string]any, msg string) {
	l.base.Info(msg, zapFields(fields)...)
}

func (l *zapLogger) Error(fields map[string]any, msg string) {
	l.base.Error(msg, zapFields(fields)...)
}

func (l *zapLogger) Debug(fields map[string]any, msg string) {
	l.base.Debug(msg, zapFields(fields)...)
}

func (l *zapLogger) Warn(fields map[string]any, msg string) {
	l.base.Warn(msg, zapFields(fields)...)
}

func (l *zapLogger) Panic(fields map[string]any, msg string) {
	l.base.Panic(msg, zapFields(fields)...)
}

func (l *zapLogger) Fatal(fields map[string]any, msg string) {
	l.base.Fatal(msg, zapFields(fields)...)
}

func zapFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		if err, ok := v.(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

// fieldLogger binds a fixed set of fields to another Logger.
type fieldLogger struct {
	next  Logger
	bound map[string]any
}

func (f *fieldLogger) merge(fields map[string]any) map[string]any {
	out := maps.Clone(f.bound)
	maps.Copy(out, fields)
	return out
}

func (f *fieldLogger) Info(fields map[string]any, msg string)  { f.next.Info(f.merge(fields), msg) }
func (f *fieldLogger) Error(fields map[string]any, msg string) { f.next.Error(f.merge(fields), msg) }
func (f *fieldLogger) Debug(fields map[string]any, msg string) { f.next.Debug(f.merge(fields), msg) }
func (f *fieldLogger) Warn(fields map[string]any, msg string)  { f.next.Warn(f.merge(fields), msg) }
func (f *fieldLogger) Panic(fields map[string]any, msg string) { f.next.Panic(f.merge(fields), msg) }
func (f *fieldLogger) Fatal(fields map[string]any, msg string) { f.next.Fatal(f.merge(fields), msg) }

// noopLogger discards everything.
type noopLogger struct{}

func (n *noopLogger) Info(map[string]any, string)  {}
func (n *noopLogger) Error(map[string]any, string) {}
func (n *noopLogger) Debug(map[string]any, string) {}
func (n *noopLogger) Warn(map[string]any, string)  {}
func (n *noopLogger) Panic(map[string]any, string) {}
func (n *noopLogger) Fatal(map[string]any, string) {}

// NewNoopLogger returns a Logger that discards all log messages.
func NewNoopLogger() Logger {
	return &noopLogger{}
}
