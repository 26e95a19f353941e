package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ComponentLogger provides structured logging for explorer workers
type ComponentLogger struct {
	logger    zerolog.Logger
	component string
	version   string
}

// NewComponentLogger creates a component-specific logger with consistent context
func NewComponentLogger(component, version string) *ComponentLogger {
	// Pretty console logging for development
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Str("component", component).
		Str("version", version).
		Logger()

	return &ComponentLogger{
		logger:    logger,
		component: component,
		version:   version,
	}
}

// SetLevel applies the configured global log level
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// Sub returns a logger for a sub-component sharing this logger's version
func (cl *ComponentLogger) Sub(component string) *ComponentLogger {
	logger := cl.logger.With().Str("component", component).Logger()
	return &ComponentLogger{
		logger:    logger,
		component: component,
		version:   cl.version,
	}
}

// Info returns an info level event
func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

// Debug returns a debug level event
func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

// Warn returns a warn level event
func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

// Error returns an error level event
func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

// Fatal returns a fatal level event
func (cl *ComponentLogger) Fatal() *zerolog.Event {
	return cl.logger.Fatal()
}

// LogWorkerCycle logs the outcome of one worker cycle
func (cl *ComponentLogger) LogWorkerCycle(worker string, duration time.Duration, err error) {
	if err != nil {
		cl.Warn().
			Str("worker", worker).
			Dur("cycle_time", duration).
			Err(err).
			Msg("Worker cycle failed")
		return
	}
	cl.Debug().
		Str("worker", worker).
		Dur("cycle_time", duration).
		Msg("Worker cycle completed")
}
