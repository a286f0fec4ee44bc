// Package logging provides component-scoped structured logging backed by zap.
package logging

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls the process-wide logger built by Setup.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	File   string // optional extra sink
}

var (
	baseMu sync.RWMutex
	base   = zap.NewNop()
)

// Setup builds the process-wide logger. The returned func flushes and
// closes any file sink.
func Setup(opts Options) (func() error, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(defaultString(opts.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	var file *os.File
	if opts.File != "" {
		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(file))
	}

	core := zapcore.NewCore(newEncoder(opts.Format), zapcore.NewMultiWriteSyncer(sinks...), level)
	SetBase(zap.New(core))

	return func() error {
		err := base.Sync()
		if err != nil && isStdoutSyncError(err) {
			err = nil
		}
		if file != nil {
			return errors.Join(err, file.Close())
		}
		return err
	}, nil
}

// SetBase replaces the process-wide logger. Loggers created earlier keep
// the core they were built with.
func SetBase(z *zap.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = z
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// Logger is a component-scoped zap logger.
type Logger struct {
	zap       *zap.Logger
	component string
	worker    string
}

// New creates a logger for a component using the process-wide core.
func New(component string) *Logger {
	baseMu.RLock()
	z := base
	baseMu.RUnlock()
	return FromZap(z, component)
}

// FromZap wraps an existing zap logger, mainly for tests.
func FromZap(z *zap.Logger, component string) *Logger {
	return &Logger{
		zap:       z.With(zap.String("component", component)),
		component: component,
	}
}

// WithWorker returns a logger that tags every entry with the worker name.
func (l *Logger) WithWorker(worker string) *Logger {
	return &Logger{
		zap:       l.zap.With(zap.String("worker", worker)),
		component: l.component,
		worker:    worker,
	}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:       l.zap.With(fields...),
		component: l.component,
		worker:    l.worker,
	}
}

func (l *Logger) Component() string { return l.component }
func (l *Logger) Worker() string    { return l.worker }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger { return l.zap }

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// isStdoutSyncError reports the EINVAL/ENOTTY returned when syncing a terminal.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
