// Package consolelog is a bundled ILog provider writing structured,
// levelled log lines to stdout via log/slog,
// grounded on the source's CoutLogger.h and the teacher's pkg/logging
// package. It is the runtime's out-of-the-box logger: no external process
// or network dependency, suitable as the default tracker-constructed
// logger every other service depends on.
package consolelog

import (
	"os"

	"synapse/pkg/ids"
	"synapse/pkg/logging"
)

// ILog is the logger interface bundled services depend on (spec.md §6
// "Logger contract").
type ILog = logging.Logger

// InterfaceHash is the stable hash dependents register against to request
// an ILog.
var InterfaceHash = ids.InterfaceOf[ILog]()

// Service wraps a logging.Logger as an installable synapse service: its
// only job is to exist at StateActive and hand out the shared logger
// instance to dependents via the DM's add-callback (spec.md §4.4).
type Service struct {
	logger logging.Logger
}

// New constructs a console logger service at the given level, writing
// to stdout.
func New(level logging.Level) *Service {
	return &Service{logger: logging.NewSlogLogger(os.Stdout, level)}
}

// Logger returns the underlying ILog implementation.
func (s *Service) Logger() ILog { return s.logger }
