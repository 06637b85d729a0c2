package relayq

import (
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"
)

// Logger receives structured debug/diagnostic output. Implementations must
// be safe for concurrent use. keysAndValues are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes leveled lines to stderr via the standard log package.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a console logger suitable for development.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{logger: log.New(os.Stderr, "relayq ", log.LstdFlags|log.Lmicroseconds)}
}

func (l *SimpleLogger) log(level, msg string, keysAndValues ...any) {
	line := level + " " + msg
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		line += fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.logger.Println(line)
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) {
	l.log("DEBUG", msg, keysAndValues...)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...any) {
	l.log("INFO", msg, keysAndValues...)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...any) {
	l.log("WARN", msg, keysAndValues...)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...any) {
	l.log("ERROR", msg, keysAndValues...)
}

// zerologLogger adapts a zerolog.Logger to the Logger interface so services
// already using zerolog plug straight in.
type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger wraps a zerolog.Logger as a relayq Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{l: l}
}

func kvFields(keysAndValues []any) map[string]any {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

func (z *zerologLogger) Debug(msg string, keysAndValues ...any) {
	z.l.Debug().Fields(kvFields(keysAndValues)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, keysAndValues ...any) {
	z.l.Info().Fields(kvFields(keysAndValues)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, keysAndValues ...any) {
	z.l.Warn().Fields(kvFields(keysAndValues)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, keysAndValues ...any) {
	z.l.Error().Fields(kvFields(keysAndValues)).Msg(msg)
}
