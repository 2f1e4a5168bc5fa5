package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter adapts a *zap.Logger to StructuredLogger. Key-value pairs are
// passed to the sugared logger's *w methods.
type ZapAdapter struct {
	logger *zap.SugaredLogger
}

// NewZapAdapter wraps logger. A nil logger discards everything.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger.Sugar()}
}

func (a *ZapAdapter) Debug(msg string, args ...any) { a.logger.Debugw(msg, args...) }
func (a *ZapAdapter) Info(msg string, args ...any)  { a.logger.Infow(msg, args...) }
func (a *ZapAdapter) Warn(msg string, args ...any)  { a.logger.Warnw(msg, args...) }
func (a *ZapAdapter) Error(msg string, args ...any) { a.logger.Errorw(msg, args...) }

// Sync flushes buffered log entries.
func (a *ZapAdapter) Sync() error {
	return a.logger.Sync()
}

// NewDebugLogger builds the logger used when debug output is requested
// without a caller-supplied logger: a console encoder on stderr at debug
// level, named "agentreplay".
func NewDebugLogger() *ZapAdapter {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapcore.DebugLevel),
		Development: true,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     true,
		DisableStacktrace: true,
	}

	logger, err := cfg.Build()
	if err != nil {
		return NewZapAdapter(zap.NewNop())
	}
	return NewZapAdapter(logger.Named("agentreplay"))
}
