package engine

import (
	"time"

	"crashguard/internal/model"
)

// EventBuffer is a bounded, arrival-ordered ring of recent events. When full,
// the oldest entry is overwritten.
type EventBuffer struct {
	buf   []model.CrashEvent
	start int
	size  int
}

func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &EventBuffer{buf: make([]model.CrashEvent, capacity)}
}

func (b *EventBuffer) Append(ev model.CrashEvent) {
	if b.size == len(b.buf) {
		b.buf[b.start] = ev
		b.start = (b.start + 1) % len(b.buf)
		return
	}
	b.buf[(b.start+b.size)%len(b.buf)] = ev
	b.size++
}

func (b *EventBuffer) Len() int {
	return b.size
}

func (b *EventBuffer) at(i int) model.CrashEvent {
	return b.buf[(b.start+i)%len(b.buf)]
}

// Window returns the events at or after since, oldest first. It scans newest
// first and stops at the first entry outside the window, relying on arrival
// order being roughly time order.
func (b *EventBuffer) Window(since time.Time) []model.CrashEvent {
	var out []model.CrashEvent
	for i := b.size - 1; i >= 0; i-- {
		ev := b.at(i)
		if ev.Timestamp.Before(since) {
			break
		}
		out = append(out, ev)
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CountSince counts buffered events at or after since.
func (b *EventBuffer) CountSince(since time.Time) int {
	count := 0
	for i := b.size - 1; i >= 0; i-- {
		if b.at(i).Timestamp.Before(since) {
			break
		}
		count++
	}
	return count
}

// Rolling computes crash counts for the fixed lookback windows by filtering
// the buffer, not by keeping separate counters.
func (b *EventBuffer) Rolling(now time.Time) model.RollingCounts {
	return model.RollingCounts{
		LastMinute: b.CountSince(now.Add(-1 * time.Minute)),
		Last5Min:   b.CountSince(now.Add(-5 * time.Minute)),
		LastHour:   b.CountSince(now.Add(-1 * time.Hour)),
	}
}

func (b *EventBuffer) Clear() {
	b.start = 0
	b.size = 0
}
