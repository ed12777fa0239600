package network

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"ouilookup/internal/log"
)

// leveledLogger adapts a log.Logger to the structured logger interface of go-retryablehttp.
type leveledLogger struct {
	logger log.Logger
}

// NewLeveledLogger wraps logger for use by the retrying HTTP client.
func NewLeveledLogger(logger log.Logger) retryablehttp.LeveledLogger {
	return &leveledLogger{logger}
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error("%s", formatKeysAndValues(msg, keysAndValues))
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info("%s", formatKeysAndValues(msg, keysAndValues))
}

// Debug lines of the client include every request attempt.
func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("%s", formatKeysAndValues(msg, keysAndValues))
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn("%s", formatKeysAndValues(msg, keysAndValues))
}

// formatKeysAndValues renders a message in the "component: message: k=v" log style.
func formatKeysAndValues(msg string, keysAndValues []interface{}) string {
	var b strings.Builder

	b.WriteString("client: ")
	b.WriteString(strings.TrimSpace(msg))

	for i := 0; i < len(keysAndValues); i += 2 {
		if i == 0 {
			b.WriteString(":")
		}

		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, " %v", keysAndValues[i])
		}
	}

	return b.String()
}
