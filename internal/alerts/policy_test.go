package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashguard/internal/model"
)

type capture struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (c *capture) handle(a model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *capture) list() []model.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func newTestPolicy(opts PolicyOptions) (*Policy, *capture, *Dispatcher) {
	cap := &capture{}
	dispatcher := NewDispatcher(nil, nil, "", nil)
	dispatcher.Register(cap.handle)
	return NewPolicy(opts, dispatcher, nil), cap, dispatcher
}

func highMatch(device string, confidence float64, frequency int) model.PatternMatch {
	matched := make([]model.CrashEvent, 0, frequency)
	for i := 0; i < frequency; i++ {
		matched = append(matched, model.CrashEvent{
			Timestamp: time.Now().UTC(),
			CrashType: "oom",
			AppID:     "com.example.app",
			DeviceID:  device,
		})
	}
	return model.PatternMatch{
		PatternID:  "memory_exhaustion",
		Kind:       model.MatchKindPattern,
		Title:      "Memory exhaustion",
		Frequency:  frequency,
		Confidence: confidence,
		Severity:   model.SeverityHigh,
		Urgency:    8,
		Matched:    matched,
	}
}

func lowMatch(device string, confidence float64, frequency int) model.PatternMatch {
	m := highMatch(device, confidence, frequency)
	m.PatternID = "network_blips"
	m.Title = "Network blips"
	m.Severity = model.SeverityLow
	return m
}

func TestRateLimiterSuppressesRepeat(t *testing.T) {
	policy, cap, dispatcher := newTestPolicy(PolicyOptions{})
	now := time.Now().UTC()

	policy.Submit(highMatch("device-01", 0.8, 4), now)
	policy.Submit(highMatch("device-01", 0.8, 4), now.Add(time.Minute))

	alerts := cap.list()
	require.Len(t, alerts, 1, "second candidate within the rate limit must be dropped")
	assert.Equal(t, model.LevelError, alerts[0].Level)

	var stats model.EngineStats
	dispatcher.StatsInto(&stats)
	assert.Equal(t, uint64(1), stats.AlertsTotal)
	assert.Equal(t, uint64(1), stats.RateLimited)
}

func TestRateLimiterExpiry(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{})
	now := time.Now().UTC()

	policy.Submit(highMatch("device-01", 0.8, 4), now)
	// Default high-severity rate limit is 15 minutes.
	policy.Submit(highMatch("device-01", 0.8, 4), now.Add(16*time.Minute))

	assert.Len(t, cap.list(), 2)
}

func TestRateLimiterKeySeparatesDevices(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{})
	now := time.Now().UTC()

	policy.Submit(highMatch("device-01", 0.8, 4), now)
	policy.Submit(highMatch("device-02", 0.8, 4), now)

	assert.Len(t, cap.list(), 2, "different devices never share a rate bucket")
}

func TestRuleGatesDropWeakCandidates(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{})
	now := time.Now().UTC()

	// High severity defaults: min confidence 0.5, min frequency 3.
	policy.Submit(highMatch("device-01", 0.49, 4), now)
	policy.Submit(highMatch("device-01", 0.8, 2), now)

	assert.Empty(t, cap.list())
}

func TestAggregationEscalates(t *testing.T) {
	policy, cap, dispatcher := newTestPolicy(PolicyOptions{
		AggregationWindow: 5 * time.Minute,
		AggregationMax:    5,
	})
	now := time.Now().UTC()

	// Low severity maps to info level, which is buffered, not dispatched.
	for i := 0; i < 5; i++ {
		policy.Submit(lowMatch("device-01", 0.8, 5), now.Add(time.Duration(i)*time.Second))
	}

	alerts := cap.list()
	require.Len(t, alerts, 1, "five same-key candidates collapse into one alert")
	merged := alerts[0]
	assert.Equal(t, model.LevelWarning, merged.Level, "aggregation escalates info to warning")
	assert.Equal(t, 5, merged.CrashCount)
	assert.Equal(t, "true", merged.Metadata["aggregated"])

	var stats model.EngineStats
	dispatcher.StatsInto(&stats)
	assert.Equal(t, uint64(5), stats.Aggregated)
}

func TestAggregationWindowFlushSingle(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{
		AggregationWindow: 5 * time.Minute,
		AggregationMax:    5,
	})
	now := time.Now().UTC()

	policy.Submit(lowMatch("device-01", 0.8, 5), now)
	assert.Empty(t, cap.list(), "single buffered candidate waits for the window")

	policy.FlushDue(now.Add(6 * time.Minute))
	alerts := cap.list()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.LevelInfo, alerts[0].Level, "a lone candidate is not escalated")
	assert.Equal(t, 5, alerts[0].CrashCount)
}

func TestAggregatedFlushArmsRateLimit(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{
		AggregationWindow: 5 * time.Minute,
		AggregationMax:    2,
	})
	now := time.Now().UTC()

	policy.Submit(lowMatch("device-01", 0.8, 5), now)
	policy.Submit(lowMatch("device-01", 0.8, 5), now.Add(time.Second))
	require.Len(t, cap.list(), 1)

	// Default low-severity rate limit is 60 minutes; the flush recorded it.
	policy.Submit(lowMatch("device-01", 0.8, 5), now.Add(time.Minute))
	assert.Len(t, cap.list(), 1, "post-flush candidates inside the rate limit are dropped")
}

func TestCascadeBypassesRateLimitAndAggregation(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{})
	now := time.Now().UTC()

	cascade := highMatch("device-01", 0.9, 6)
	cascade.Kind = model.MatchKindCascade
	cascade.PatternID = "cascade_memory_exhaustion_native_crash"
	cascade.Urgency = 10

	policy.Submit(cascade, now)

	alerts := cap.list()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.LevelCritical, alerts[0].Level)
	assert.Equal(t, string(model.MatchKindCascade), alerts[0].Type)
}

func TestGCDropsStaleRateEntries(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{RateLimiterTTL: time.Hour})
	now := time.Now().UTC()

	policy.Submit(highMatch("device-01", 0.8, 4), now)
	policy.GC(now.Add(2 * time.Hour))
	policy.Submit(highMatch("device-01", 0.8, 4), now.Add(2*time.Hour+time.Second))

	assert.Len(t, cap.list(), 2)
}

func TestBuildAlertContext(t *testing.T) {
	policy, cap, _ := newTestPolicy(PolicyOptions{AnalysisWindowMin: 10})
	now := time.Now().UTC()

	policy.Submit(highMatch("device-01", 0.8, 4), now)
	alerts := cap.list()
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.NotEmpty(t, a.AlertID)
	assert.Equal(t, "device-01", a.DeviceID)
	assert.Equal(t, "com.example.app", a.AppID)
	assert.Equal(t, "oom", a.CrashType)
	assert.Equal(t, 10, a.WindowMinutes)
	assert.Equal(t, "memory_exhaustion", a.Metadata["pattern_id"])
	assert.Contains(t, a.Message, "Memory exhaustion")
}
