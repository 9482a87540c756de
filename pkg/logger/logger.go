// Package logger is the logging facade used across partnerlink.
//
// It keeps a printf-style Tracef/Debugf/... surface while routing everything
// through a single zerolog logger, so embedders can redirect or silence the
// library's output with one call.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level is the verbosity threshold used by the logger.
type Level = zerolog.Level

const (
	// LevelTrace enables extremely verbose logs (wire events, queue ops).
	LevelTrace = zerolog.TraceLevel
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug = zerolog.DebugLevel
	// LevelInfo enables informational logs (default).
	LevelInfo = zerolog.InfoLevel
	// LevelWarn enables only warnings and errors.
	LevelWarn = zerolog.WarnLevel
	// LevelError enables only error logs.
	LevelError = zerolog.ErrorLevel
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
)

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	return zerolog.ParseLevel(raw)
}

// SetOutput replaces the writer used by the logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Output(w)
}

// SetLevel sets the log level threshold.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(level)
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= log.GetLevel()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) {
	l := current()
	l.Trace().Msgf(format, args...)
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) {
	l := current()
	l.Debug().Msgf(format, args...)
}

// Infof logs at INFO level.
func Infof(format string, args ...any) {
	l := current()
	l.Info().Msgf(format, args...)
}

// Warnf logs at WARN level.
func Warnf(format string, args ...any) {
	l := current()
	l.Warn().Msgf(format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) {
	l := current()
	l.Error().Msgf(format, args...)
}
