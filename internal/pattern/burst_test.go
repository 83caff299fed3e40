package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashguard/internal/model"
)

func burstEvents(minute time.Time, count int) []model.CrashEvent {
	events := make([]model.CrashEvent, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, model.CrashEvent{
			Timestamp: minute.Add(time.Duration(i) * time.Second),
			CrashType: "java",
			DeviceID:  "device-01",
		})
	}
	return events
}

func TestBurstThresholdBoundary(t *testing.T) {
	det := NewBurstDetector(5, 20)
	minute := time.Now().UTC().Truncate(time.Minute).Add(-time.Minute)

	_, ok := det.Detect(burstEvents(minute, 4), time.Now().UTC())
	assert.False(t, ok, "threshold-1 events in a minute is not a burst")

	m, ok := det.Detect(burstEvents(minute, 5), time.Now().UTC())
	require.True(t, ok, "exactly threshold events in a minute is a burst")
	assert.Equal(t, BurstID, m.PatternID)
	assert.Equal(t, model.MatchKindBurst, m.Kind)
	assert.Equal(t, 5, m.Frequency)
	assert.Equal(t, model.SeverityHigh, m.Severity)
	assert.Equal(t, 7, m.Urgency)
}

func TestBurstCriticalEscalation(t *testing.T) {
	det := NewBurstDetector(5, 20)
	minute := time.Now().UTC().Truncate(time.Minute).Add(-time.Minute)

	m, ok := det.Detect(burstEvents(minute, 20), time.Now().UTC())
	require.True(t, ok)
	assert.Equal(t, model.SeverityCritical, m.Severity)
	assert.Equal(t, 9, m.Urgency)
}

func TestBurstConfidenceCapped(t *testing.T) {
	det := NewBurstDetector(5, 50)
	minute := time.Now().UTC().Truncate(time.Minute).Add(-time.Minute)

	// Whole window bursting: raw 2*ratio would be 2.0, cap at 0.9.
	m, ok := det.Detect(burstEvents(minute, 10), time.Now().UTC())
	require.True(t, ok)
	assert.Equal(t, 0.9, m.Confidence)
}

func TestBurstSpreadEventsNoMatch(t *testing.T) {
	det := NewBurstDetector(5, 20)
	base := time.Now().UTC().Add(-30 * time.Minute)
	events := make([]model.CrashEvent, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, model.CrashEvent{
			Timestamp: base.Add(time.Duration(i) * 2 * time.Minute),
			DeviceID:  "device-01",
		})
	}
	_, ok := det.Detect(events, time.Now().UTC())
	assert.False(t, ok, "events spread one per minute bucket never burst")
}
