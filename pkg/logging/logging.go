// Package logging defines the framework-facing logger contract that the core
// accepts from user-supplied logging services, plus a slog-backed default
// used by the core itself before any ILog-providing service has started.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
)

// Level mirrors the severities the logger contract accepts.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Logger is the contract spec.md §6 requires every logging service to
// satisfy: each level takes the call site (filename, line, function) plus a
// format string and its arguments, exactly as the original's trace/debug/
// info/warn/error macros captured __FILE__/__LINE__/__func__.
type Logger interface {
	Trace(file string, line int, funcname, format string, args ...any)
	Debug(file string, line int, funcname, format string, args ...any)
	Info(file string, line int, funcname, format string, args ...any)
	Warn(file string, line int, funcname, format string, args ...any)
	Error(file string, line int, funcname, format string, args ...any)
	SetLevel(Level)
	GetLevel() Level
}

// SlogLogger is the default bundled implementation, backed by log/slog, used
// by the core before any user ILog-providing service has reached active.
type SlogLogger struct {
	mu     sync.Mutex
	level  atomic.Int32
	logger *slog.Logger
}

// NewSlogLogger builds a Logger writing structured text to w at the given
// starting level.
func NewSlogLogger(w *os.File, level Level) *SlogLogger {
	l := &SlogLogger{}
	l.level.Store(int32(level))
	l.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()}))
	return l
}

func (l *SlogLogger) log(level Level, file string, line int, funcname, format string, args ...any) {
	if Level(l.level.Load()) > level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.LogAttrs(context.Background(), level.slogLevel(), msg,
		slog.String("file", file),
		slog.Int("line", line),
		slog.String("func", funcname),
	)
}

func (l *SlogLogger) Trace(file string, line int, funcname, format string, args ...any) {
	l.log(LevelTrace, file, line, funcname, format, args...)
}
func (l *SlogLogger) Debug(file string, line int, funcname, format string, args ...any) {
	l.log(LevelDebug, file, line, funcname, format, args...)
}
func (l *SlogLogger) Info(file string, line int, funcname, format string, args ...any) {
	l.log(LevelInfo, file, line, funcname, format, args...)
}
func (l *SlogLogger) Warn(file string, line int, funcname, format string, args ...any) {
	l.log(LevelWarn, file, line, funcname, format, args...)
}
func (l *SlogLogger) Error(file string, line int, funcname, format string, args ...any) {
	l.log(LevelError, file, line, funcname, format, args...)
}
func (l *SlogLogger) SetLevel(level Level) { l.level.Store(int32(level)) }
func (l *SlogLogger) GetLevel() Level      { return Level(l.level.Load()) }

var defaultLogger atomic.Value // Logger

func init() {
	defaultLogger.Store(Logger(NewSlogLogger(os.Stderr, LevelInfo)))
}

// SetDefault replaces the framework-internal logger, e.g. once a real
// logging service has been injected into the runtime.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(l)
}

// Default returns the currently active framework-internal logger.
func Default() Logger {
	return defaultLogger.Load().(Logger)
}

// caller resolves the (file, line, func) triple for the frame `skip` levels
// above its own caller, matching what the original's macros captured at
// compile time via __FILE__/__LINE__/__func__.
func caller(skip int) (file string, line int, funcname string) {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown", 0, "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return file, line, "unknown"
	}
	return file, line, fn.Name()
}

// Tracef/Debugf/Infof/Warnf/Errorf are call-site sugar over Default() that
// capture the caller automatically instead of requiring it be passed by hand.
func Tracef(format string, args ...any) {
	f, l, fn := caller(1)
	Default().Trace(f, l, fn, format, args...)
}

func Debugf(format string, args ...any) {
	f, l, fn := caller(1)
	Default().Debug(f, l, fn, format, args...)
}

func Infof(format string, args ...any) {
	f, l, fn := caller(1)
	Default().Info(f, l, fn, format, args...)
}

func Warnf(format string, args ...any) {
	f, l, fn := caller(1)
	Default().Warn(f, l, fn, format, args...)
}

func Errorf(format string, args ...any) {
	f, l, fn := caller(1)
	Default().Error(f, l, fn, format, args...)
}
