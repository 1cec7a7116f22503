// Package logger provides the leveled logging facade used throughout the batch engine.
// Messages are routed to a process-wide zap logger whose level can be changed at runtime.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newZapLogger("console")
	sugar = base.Sugar()
)

func newZapLogger(format string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// An unknown value falls back to INFO and is reported as a warning.
func SetLogLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "DEBUG", "TRACE":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
		Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", lvl)
	}
}

// SetFormat switches the encoder between "console" (default) and "json".
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	base = newZapLogger(format)
	sugar = base.Sugar()
}

// ReplaceLogger installs l as the process-wide logger. It is intended for tests
// that capture output with zaptest/observer.
func ReplaceLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l.WithOptions(zap.AddCallerSkip(1))
	sugar = base.Sugar()
}

// L returns the underlying zap logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Enabled reports whether messages at lvl are currently emitted.
func Enabled(lvl LogLevel) bool {
	return level.Enabled(toZapLevel(lvl))
}

func toZapLevel(lvl LogLevel) zapcore.Level {
	switch lvl {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatalf formats and outputs a FATAL level log message, then terminates the program.
func Fatalf(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}
