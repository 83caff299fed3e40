package ingest

import (
	"context"
	"log/slog"
	"time"

	"crashguard/internal/model"
)

// Sink accepts normalized crash events. The engine's queue implements it;
// AddEvent reports whether the event was enqueued, evicting an older pending
// event if it had to.
type Sink interface {
	AddEvent(ev model.CrashEvent) bool
}

func Submit(sink Sink, ev model.CrashEvent, logger *slog.Logger) bool {
	if sink.AddEvent(ev) {
		return true
	}
	if logger != nil {
		logger.Warn("event queue full, dropping event", "device_id", ev.DeviceID, "crash_type", ev.CrashType)
	}
	return false
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
