package log

// Logger defines a common interface shared by logging engines. Messages are printf-style format
// strings, conventionally of the form "component: message: key=value key=value".
type Logger interface {
	// Debug logs a debug message.
	Debug(format string, v ...any)

	// Info logs an informational message.
	Info(format string, v ...any)

	// Warn logs a warning message.
	Warn(format string, v ...any)

	// Error logs an error message.
	Error(format string, v ...any)

	// Level returns the currently configured logging level.
	Level() Level
}

// NopLogger discards all messages. It is useful for tests and for components constructed without
// an explicit logger.
type NopLogger struct{}

// NewNopLogger creates a logger that discards everything.
func NewNopLogger() Logger {
	return NopLogger{}
}

// Debug noops.
func (NopLogger) Debug(format string, v ...any) {}

// Info noops.
func (NopLogger) Info(format string, v ...any) {}

// Warn noops.
func (NopLogger) Warn(format string, v ...any) {}

// Error noops.
func (NopLogger) Error(format string, v ...any) {}

// Level reports Error, the least verbose level.
func (NopLogger) Level() Level {
	return Error
}
