package gpucompute

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// Devices of live engines that accept a logger.
var (
	loggedMu      sync.Mutex
	loggedDevices []loggerSetter
)

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpucompute and its backends.
// By default, gpucompute produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by gpucompute:
//   - [slog.LevelDebug]: per-dispatch diagnostics (passes, buffer sizes, padding)
//   - [slog.LevelInfo]: lifecycle events (engine created, pipeline ready)
//   - [slog.LevelWarn]: dropped passes and requeued jobs
//   - [slog.LevelError]: abandoned jobs and failed pipelines
//
// Example:
//
//	gpucompute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	loggedMu.Lock()
	devices := append([]loggerSetter(nil), loggedDevices...)
	loggedMu.Unlock()
	for _, d := range devices {
		d.SetLogger(l)
	}
}

// Logger returns the current logger used by gpucompute.
// Backend packages call this through their own accessor to share the
// same configuration.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// trackLogger hands the current logger to dev if it accepts one, and keeps
// it updated by later SetLogger calls until untrackLogger.
func trackLogger(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	ls.SetLogger(Logger())

	loggedMu.Lock()
	loggedDevices = append(loggedDevices, ls)
	loggedMu.Unlock()
}

func untrackLogger(dev any) {
	ls, ok := dev.(loggerSetter)
	if !ok {
		return
	}
	loggedMu.Lock()
	defer loggedMu.Unlock()
	for i, d := range loggedDevices {
		if d == ls {
			loggedDevices = append(loggedDevices[:i], loggedDevices[i+1:]...)
			return
		}
	}
}
