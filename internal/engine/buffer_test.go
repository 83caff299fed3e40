package engine

import (
	"testing"
	"time"

	"crashguard/internal/model"
)

func eventAt(ts time.Time, device string) model.CrashEvent {
	return model.CrashEvent{Timestamp: ts, DeviceID: device, CrashType: "java"}
}

func TestBufferOverwritesOldest(t *testing.T) {
	b := NewEventBuffer(3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		b.Append(eventAt(base.Add(time.Duration(i)*time.Second), "device"))
	}
	if b.Len() != 3 {
		t.Fatalf("expected len 3, got %d", b.Len())
	}
	window := b.Window(base)
	if len(window) != 3 {
		t.Fatalf("expected 3 events, got %d", len(window))
	}
	if !window[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("oldest surviving event should be the third appended")
	}
	if !window[2].Timestamp.Equal(base.Add(4 * time.Second)) {
		t.Fatalf("newest event should be last")
	}
}

func TestBufferWindowChronological(t *testing.T) {
	b := NewEventBuffer(10)
	base := time.Now().UTC()
	for i := 0; i < 6; i++ {
		b.Append(eventAt(base.Add(time.Duration(i)*time.Minute), "device"))
	}
	window := b.Window(base.Add(3 * time.Minute))
	if len(window) != 3 {
		t.Fatalf("expected 3 events in window, got %d", len(window))
	}
	for i := 1; i < len(window); i++ {
		if window[i].Timestamp.Before(window[i-1].Timestamp) {
			t.Fatalf("window must be chronological")
		}
	}
}

func TestBufferRollingCounts(t *testing.T) {
	b := NewEventBuffer(100)
	now := time.Now().UTC()
	b.Append(eventAt(now.Add(-30*time.Minute), "device"))
	b.Append(eventAt(now.Add(-3*time.Minute), "device"))
	b.Append(eventAt(now.Add(-30*time.Second), "device"))

	counts := b.Rolling(now)
	if counts.LastMinute != 1 {
		t.Fatalf("expected 1 in last minute, got %d", counts.LastMinute)
	}
	if counts.Last5Min != 2 {
		t.Fatalf("expected 2 in last 5 minutes, got %d", counts.Last5Min)
	}
	if counts.LastHour != 3 {
		t.Fatalf("expected 3 in last hour, got %d", counts.LastHour)
	}
}

func TestBufferClear(t *testing.T) {
	b := NewEventBuffer(4)
	b.Append(eventAt(time.Now(), "device"))
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after clear")
	}
	if got := b.Window(time.Time{}); len(got) != 0 {
		t.Fatalf("expected empty window after clear, got %d", len(got))
	}
}
