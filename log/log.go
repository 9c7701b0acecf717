// Package log provides the package-level structured logger used throughout
// the routing core. It is a thin wrapper over zerolog so call sites read
// log.Info().Msg("...") the same way whether they log a routing decision
// or a transport error.
package log

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// SetLogger replaces the global logger, e.g. to redirect output to a file
// or to switch to JSON output in production.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// Debug starts a debug-level log event.
func Debug() *zerolog.Event { return current().Debug() }

// Info starts an info-level log event.
func Info() *zerolog.Event { return current().Info() }

// Warn starts a warn-level log event.
func Warn() *zerolog.Event { return current().Warn() }

// Error starts an error-level log event.
func Error() *zerolog.Event { return current().Error() }

// Fatal starts a fatal-level log event. Emitting the event terminates the
// process, matching zerolog's default behavior.
func Fatal() *zerolog.Event { return current().Fatal() }
