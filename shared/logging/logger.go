// Package logging provides the shared structured logger for fhirwatch services.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.Mutex
	log = newConsoleLogger(zapcore.InfoLevel)
)

// Options configures the shared logger.
type Options struct {
	Level string // debug, info, warn, error
	Path  string // log file; empty means stderr only
}

// Init replaces the default console logger. Safe to call once at startup;
// before Init the package falls back to an info-level stderr logger.
func Init(opts Options) {
	level := parseLevel(opts.Level)

	var sink zapcore.WriteSyncer
	if opts.Path != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zap.NewAtomicLevelAt(level))

	mu.Lock()
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()
}

func newConsoleLogger(level zapcore.Level) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stderr), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCallerSkip(1)).Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() { _ = log.Sync() }

func Debugf(format string, args ...any) { log.Debugf(format, args...) }
func Infof(format string, args ...any)  { log.Infof(format, args...) }
func Warnf(format string, args ...any)  { log.Warnf(format, args...) }
func Errorf(format string, args ...any) { log.Errorf(format, args...) }
