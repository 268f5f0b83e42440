// Package zlog is an alternate bundled ILog provider backed by
// github.com/rs/zerolog instead of log/slog, grounded on the source's
// SpdlogLogger.h (a swappable high-performance logger backend) and the
// zerolog usage pattern in the cuemby-warren example repo. It satisfies
// the same logging.Logger contract as consolelog so either can be
// installed as the interface's provider without touching dependent code.
package zlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// ILog is the logger interface bundled services depend on.
type ILog = logging.Logger

// InterfaceHash is the stable hash dependents register against.
var InterfaceHash = ids.InterfaceOf[ILog]()

// Logger adapts a zerolog.Logger to synapse's Logger contract (spec.md §6
// "Logger contract": trace/debug/info/warn/error each take
// filename, line, funcname, format_str, format_args).
type Logger struct {
	mu    sync.Mutex
	zl    zerolog.Logger
	level atomic.Int32
}

// New constructs a zerolog-backed Logger writing to w (os.Stdout if nil)
// at the given level.
func New(w io.Writer, level logging.Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	l := &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
	l.level.Store(int32(level))
	return l
}

func (l *Logger) event(level logging.Level) *zerolog.Event {
	switch level {
	case logging.LevelTrace:
		return l.zl.Trace()
	case logging.LevelDebug:
		return l.zl.Debug()
	case logging.LevelWarn:
		return l.zl.Warn()
	case logging.LevelError:
		return l.zl.Error()
	default:
		return l.zl.Info()
	}
}

func (l *Logger) log(level logging.Level, file string, line int, funcname, format string, args ...any) {
	if logging.Level(l.level.Load()) > level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.event(level).
		Str("file", file).
		Int("line", line).
		Str("func", funcname).
		Msg(msg)
}

// Trace logs at trace level.
func (l *Logger) Trace(file string, line int, funcname, format string, args ...any) {
	l.log(logging.LevelTrace, file, line, funcname, format, args...)
}

// Debug logs at debug level.
func (l *Logger) Debug(file string, line int, funcname, format string, args ...any) {
	l.log(logging.LevelDebug, file, line, funcname, format, args...)
}

// Info logs at info level.
func (l *Logger) Info(file string, line int, funcname, format string, args ...any) {
	l.log(logging.LevelInfo, file, line, funcname, format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(file string, line int, funcname, format string, args ...any) {
	l.log(logging.LevelWarn, file, line, funcname, format, args...)
}

// Error logs at error level.
func (l *Logger) Error(file string, line int, funcname, format string, args ...any) {
	l.log(logging.LevelError, file, line, funcname, format, args...)
}

// SetLevel changes the minimum level that is logged.
func (l *Logger) SetLevel(level logging.Level) { l.level.Store(int32(level)) }

// GetLevel returns the current minimum logged level.
func (l *Logger) GetLevel() logging.Level { return logging.Level(l.level.Load()) }

// Service installs a zlog Logger as a synapse service providing ILog.
type Service struct {
	logger *Logger
}

// NewService constructs a zlog service.
func NewService(w io.Writer, level logging.Level) *Service {
	return &Service{logger: New(w, level)}
}

// Logger returns the underlying ILog implementation.
func (s *Service) Logger() ILog { return s.logger }
