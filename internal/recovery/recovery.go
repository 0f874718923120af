// internal/recovery/recovery.go
// Package recovery turns panics in main or worker goroutines into a logged,
// orderly exit.
package recovery

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	loggerPtr atomic.Pointer[zap.Logger]

	// replaced in tests
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// SetLogger installs the logger panics are reported through.
// A nil logger restores plain stderr reporting.
func SetLogger(logger *zap.Logger) {
	loggerPtr.Store(logger)
}

// HandlePanic should be deferred at the top of main() or goroutines.
// It logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		report(r, debug.Stack())
		exit(1)
	}
}

// HandlePanicFunc logs panic details, calls cleanup and exits with code 1.
//
//	go func() {
//		defer recovery.HandlePanicFunc(func() { close(done) })
//		pipeline.Run(ctx)
//	}()
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		report(r, debug.Stack())
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}

// Guard wraps an errgroup task with HandlePanic. Errors returned by fn pass
// through unchanged.
func Guard(fn func() error) func() error {
	return func() error {
		defer HandlePanic()
		return fn()
	}
}

func report(r any, stack []byte) {
	if logger := loggerPtr.Load(); logger != nil {
		logger.Error("panic recovered",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		_ = logger.Sync()
	}
	_, _ = fmt.Fprintf(stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, stack)
}
