//go:generate go run golang.org/x/tools/cmd/stringer -type=Level -linecomment=true

package log

import (
	"strings"
)

// Level parametrizes supported log verbosity levels.
type Level int

const (
	// Debug messages trace registry loads, dispatch decisions and individual requests.
	Debug Level = iota // DEBUG
	// Info messages convey lifecycle events such as refresh completion.
	Info // INFO
	// Warn messages describe non-erroring divergences, e.g. skipped upstream rows.
	Warn // WARN
	// Error messages indicate failed refreshes or server errors.
	Error // ERROR
)

// ParseLevel looks up a Level constant by its stringified (case-insensitive) representation. The
// alias "warning" is accepted for Warn. Unknown inputs resolve to Info.
func ParseLevel(level string) (Level, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(level))
	if normalized == "WARNING" {
		return Warn, true
	}

	for _, knownLevel := range []Level{Debug, Info, Warn, Error} {
		if normalized == knownLevel.String() {
			return knownLevel, true
		}
	}

	return Info, false
}

// Enables reports whether a logger configured at l emits messages at other. Levels are ordered
// Debug < Info < Warn < Error.
func (l Level) Enables(other Level) bool {
	return l <= other
}
