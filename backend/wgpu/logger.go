package wgpu

import (
	"log/slog"
	"sync/atomic"
)

// discard is the logger of a device nobody attached a logger to.
var discard = slog.New(slog.DiscardHandler)

// deviceLog is the logger a Device writes to. The zero value discards.
type deviceLog struct {
	p atomic.Pointer[slog.Logger]
}

func (l *deviceLog) get() *slog.Logger {
	if lg := l.p.Load(); lg != nil {
		return lg
	}
	return discard
}

// set attaches lg tagged with the backend name; nil detaches.
func (l *deviceLog) set(lg *slog.Logger) {
	if lg == nil {
		l.p.Store(nil)
		return
	}
	l.p.Store(lg.With("backend", "wgpu"))
}
