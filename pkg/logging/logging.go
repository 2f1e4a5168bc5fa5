// Package logging defines the logging interfaces used throughout the SDK and
// adapters for log/slog and go.uber.org/zap.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Logger is a minimal printf-style logging interface, compatible with
// *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// StructuredLogger provides leveled, key-value logging.
//
//	client, _ := agentreplay.New(
//	    agentreplay.WithLogger(logging.NewSlogAdapter(slog.Default())),
//	)
type StructuredLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// printfLoggerWrapper adapts a Logger to StructuredLogger.
type printfLoggerWrapper struct {
	logger Logger
}

// WrapPrintfLogger wraps a printf-style Logger (like *log.Logger). All levels
// go to the same sink with the level as a prefix and key-value pairs appended.
func WrapPrintfLogger(l Logger) StructuredLogger {
	if l == nil {
		return NopLogger{}
	}
	return &printfLoggerWrapper{logger: l}
}

func (w *printfLoggerWrapper) Debug(msg string, args ...any) {
	w.logger.Printf("%s", "[DEBUG] "+msg+FormatArgs(args))
}

func (w *printfLoggerWrapper) Info(msg string, args ...any) {
	w.logger.Printf("%s", "[INFO] "+msg+FormatArgs(args))
}

func (w *printfLoggerWrapper) Warn(msg string, args ...any) {
	w.logger.Printf("%s", "[WARN] "+msg+FormatArgs(args))
}

func (w *printfLoggerWrapper) Error(msg string, args ...any) {
	w.logger.Printf("%s", "[ERROR] "+msg+FormatArgs(args))
}

// FormatArgs renders key-value pairs as " | k=v k=v".
func FormatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(" |")
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	return b.String()
}

// NopLogger discards all messages.
type NopLogger struct{}

func (NopLogger) Printf(format string, v ...any) {}
func (NopLogger) Debug(msg string, args ...any)  {}
func (NopLogger) Info(msg string, args ...any)   {}
func (NopLogger) Warn(msg string, args ...any)   {}
func (NopLogger) Error(msg string, args ...any)  {}

var (
	_ Logger           = NopLogger{}
	_ StructuredLogger = NopLogger{}
)

// SlogAdapter adapts a *slog.Logger to StructuredLogger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger. A nil logger uses slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }

// With returns an adapter with the given attributes added.
func (a *SlogAdapter) With(args ...any) *SlogAdapter {
	return &SlogAdapter{logger: a.logger.With(args...)}
}

// Printf adapts a StructuredLogger back to a printf-style Logger at debug level.
// Packages that only need Printf accept this.
func Printf(l StructuredLogger) Logger {
	if l == nil {
		return nil
	}
	return printfFunc(func(format string, v ...any) {
		l.Debug(fmt.Sprintf(format, v...))
	})
}

type printfFunc func(format string, v ...any)

func (f printfFunc) Printf(format string, v ...any) { f(format, v...) }
