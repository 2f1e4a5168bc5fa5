package instrument

import (
	"sync/atomic"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	"github.com/agentreplay/agentreplay-go/pkg/logging"
)

var failures atomic.Int64

// Failures returns the number of instrumentation failures recovered by Guard
// since process start.
func Failures() int64 {
	return failures.Load()
}

// Guard runs fn and converts a returned error or a panic into an
// *errors.InstrumentationError. The failure is logged and counted; it is
// returned for inspection but callers normally ignore it. Guard never panics.
func Guard(logger logging.StructuredLogger, op string, fn func() error) (ierr *pkgerrors.InstrumentationError) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	defer func() {
		if r := recover(); r != nil {
			ierr = &pkgerrors.InstrumentationError{Op: op, Recovered: r}
		}
		if ierr != nil {
			failures.Add(1)
			logger.Warn("instrumentation failure", "op", op, "error", ierr.Error())
		}
	}()
	if err := fn(); err != nil {
		return &pkgerrors.InstrumentationError{Op: op, Err: err}
	}
	return nil
}
