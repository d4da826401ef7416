// Package log provides a global logger with configurable logging level. Output is produced by zap;
// the package keeps a small printf-style surface so call sites stay terse.

package log

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var zapLevels = map[Level]zapcore.Level{
	LevelNone:    zapcore.FatalLevel + 1,
	LevelError:   zapcore.ErrorLevel,
	LevelWarning: zapcore.WarnLevel,
	LevelInfo:    zapcore.InfoLevel,
	LevelDebug:   zapcore.DebugLevel,
}

var levelNames = map[string]Level{
	"none":    LevelNone,
	"error":   LevelError,
	"warn":    LevelWarning,
	"warning": LevelWarning,
	"info":    LevelInfo,
	"debug":   LevelDebug,
}

// Options controls how log lines are encoded and where they are written.
type Options struct {
	// Format is either "console" (default) or "json".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	logMutex    sync.Mutex
	globalLevel = LevelNone
	atomicLevel = zap.NewAtomicLevelAt(zapLevels[LevelNone])
	base        = newBase(Options{})
)

func newBase(opts Options) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	var encoder zapcore.Encoder
	if opts.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), atomicLevel))
}

// Init replaces the encoder and output of every logger, including ones already returned by Named.
func Init(opts Options) {
	logMutex.Lock()
	defer logMutex.Unlock()
	base = newBase(opts)
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLevel = level
	atomicLevel.SetLevel(zapLevels[level])
}

// ParseLevel maps names such as "debug" or "warn" to a Level.
func ParseLevel(name string) (Level, bool) {
	level, ok := levelNames[name]
	return level, ok
}

func logLevel() Level {
	logMutex.Lock()
	defer logMutex.Unlock()
	return globalLevel
}

func current() *zap.Logger {
	logMutex.Lock()
	defer logMutex.Unlock()
	return base
}

// Logger scopes log lines under a dotted name. The zero value logs unscoped.
type Logger struct {
	name string
}

var std = &Logger{}

// Named returns a logger whose lines are tagged with name.
func Named(name string) *Logger {
	return std.Named(name)
}

func (l *Logger) Named(name string) *Logger {
	if l.name == "" {
		return &Logger{name: name}
	}
	if name == "" {
		return l
	}
	return &Logger{name: l.name + "." + name}
}

func (l *Logger) sugar() *zap.SugaredLogger {
	return current().Named(l.name).Sugar()
}

func (l *Logger) Enabled(level Level) bool {
	return level != LevelNone && level <= logLevel()
}

func (l *Logger) Debug(format string, a ...interface{}) {
	l.sugar().Debugf(format, a...)
}

func (l *Logger) Info(format string, a ...interface{}) {
	l.sugar().Infof(format, a...)
}

func (l *Logger) Warning(format string, a ...interface{}) {
	l.sugar().Warnf(format, a...)
}

func (l *Logger) Error(format string, a ...interface{}) {
	l.sugar().Errorf(format, a...)
}

func Debug(format string, a ...interface{}) {
	std.Debug(format, a...)
}
func Info(format string, a ...interface{}) {
	std.Info(format, a...)
}
func Warning(format string, a ...interface{}) {
	std.Warning(format, a...)
}
func Error(format string, a ...interface{}) {
	std.Error(format, a...)
}
