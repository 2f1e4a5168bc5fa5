package instrument

import (
	"context"
	"fmt"

	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// CallOption customizes Call.
type CallOption func(*callConfig)

type callConfig struct {
	start         []span.StartOption
	captureOutput bool
	output        func(any) any
	logger        logging.StructuredLogger
}

// WithInput records v as the span input.
func WithInput(v any) CallOption {
	return func(c *callConfig) { c.start = append(c.start, span.WithInput(v)) }
}

// WithAttributes sets attributes on the span when it starts.
func WithAttributes(attrs map[string]any) CallOption {
	return func(c *callConfig) { c.start = append(c.start, span.WithAttributes(attrs)) }
}

// WithModel records the model name.
func WithModel(model string) CallOption {
	return func(c *callConfig) { c.start = append(c.start, span.WithModel(model)) }
}

// WithoutOutput skips recording the result as span output.
func WithoutOutput() CallOption {
	return func(c *callConfig) { c.captureOutput = false }
}

// WithOutputFunc maps the result before it is recorded as output.
func WithOutputFunc(fn func(any) any) CallOption {
	return func(c *callConfig) { c.output = fn }
}

// WithLogger sets the logger for instrumentation failures.
func WithLogger(l logging.StructuredLogger) CallOption {
	return func(c *callConfig) { c.logger = l }
}

// Call runs fn inside a span of the given kind. The span is the in-flight
// span on the context passed to fn, so spans started by fn nest under it.
//
// The result and error of fn are returned unchanged. A non-nil error marks
// the span failed. If fn panics the span is ended with an error status and
// the panic continues.
func Call[T any](ctx context.Context, tracer *span.Tracer, kind span.Kind, name string, fn func(context.Context) (T, error), opts ...CallOption) (T, error) {
	cfg := callConfig{captureOutput: true, logger: logging.NopLogger{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, s := tracer.Start(ctx, kind, name, cfg.start...)

	ended := false
	defer func() {
		if ended {
			return
		}
		if r := recover(); r != nil {
			s.SetError(&PanicError{Value: r})
			s.End()
			panic(r)
		}
	}()

	res, err := fn(ctx)
	ended = true

	Guard(cfg.logger, name, func() error {
		if err != nil {
			s.SetError(err)
		} else if cfg.captureOutput {
			var out any = res
			if cfg.output != nil {
				out = cfg.output(out)
			}
			s.SetOutput(out)
		}
		return nil
	})
	s.End()
	return res, err
}

// PanicError records a panic that escaped an instrumented call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
