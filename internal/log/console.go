package log

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// levelColors maps each level to the attribute used for its tag on a terminal.
var levelColors = map[Level]*color.Color{
	Debug: color.New(color.FgCyan),
	Info:  color.New(color.FgGreen),
	Warn:  color.New(color.FgYellow),
	Error: color.New(color.FgRed, color.Bold),
}

// ConsoleLogger is a simple, leveled, line-oriented logging engine.
type ConsoleLogger struct {
	level    Level
	out      io.Writer
	colorize bool
	mutex    sync.Mutex
}

// NewConsoleLogger creates a logger limited to the specified level that writes to standard output.
// Level tags are colorized unless standard output is not a terminal. Only log messages that are at
// least as severe as the specified level are logged.
func NewConsoleLogger(level Level) Logger {
	return &ConsoleLogger{
		level:    level,
		out:      color.Output,
		colorize: !color.NoColor,
	}
}

// NewWriterLogger creates an uncolored logger limited to the specified level that writes to out.
func NewWriterLogger(level Level, out io.Writer) Logger {
	return &ConsoleLogger{level: level, out: out}
}

// Debug logs a debug message, if permitted by the current level.
func (l *ConsoleLogger) Debug(format string, v ...any) {
	l.log(Debug, format, v...)
}

// Info logs an informational message, if permitted by the current level.
func (l *ConsoleLogger) Info(format string, v ...any) {
	l.log(Info, format, v...)
}

// Warn logs a warning message, if permitted by the current level.
func (l *ConsoleLogger) Warn(format string, v ...any) {
	l.log(Warn, format, v...)
}

// Error logs an error message, if permitted by the current level.
func (l *ConsoleLogger) Error(format string, v ...any) {
	l.log(Error, format, v...)
}

// Level reads the current logging level.
func (l *ConsoleLogger) Level() Level {
	return l.level
}

// log writes a single line with a timestamp and level indicator, if permitted by the current
// level. Lines from concurrent goroutines are never interleaved.
func (l *ConsoleLogger) log(level Level, format string, v ...any) {
	if !l.level.Enables(level) {
		return
	}

	tag := level.String()
	if c, ok := levelColors[level]; ok && l.colorize {
		tag = c.Sprint(tag)
	}

	line := fmt.Sprintf(
		"%s %s\t%s\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		tag,
		fmt.Sprintf(format, v...),
	)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	io.WriteString(l.out, line)
}
