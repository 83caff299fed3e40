package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashguard/internal/model"
)

func oomEvents(base time.Time, count int, gap time.Duration) []model.CrashEvent {
	events := make([]model.CrashEvent, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, model.CrashEvent{
			Timestamp:   base.Add(time.Duration(i) * gap),
			CrashType:   "oom",
			AppID:       "com.example.app",
			DeviceID:    "device-01",
			Description: "java.lang.OutOfMemoryError: failed allocation",
		})
	}
	return events
}

func mustGet(t *testing.T, id string) Definition {
	t.Helper()
	catalog, err := BuildCatalog(nil)
	require.NoError(t, err)
	def, ok := catalog.Get(id)
	require.True(t, ok, "builtin pattern %s missing", id)
	return def
}

func TestEvaluateMemoryExhaustion(t *testing.T) {
	def := mustGet(t, "memory_exhaustion")
	scorer := NewScorer(3, 0.5)
	base := time.Now().UTC().Add(-time.Minute)
	window := oomEvents(base, 5, 5*time.Second)

	m, ok := scorer.Evaluate(def, window, time.Now().UTC())
	require.True(t, ok)
	assert.Equal(t, "memory_exhaustion", m.PatternID)
	assert.Equal(t, model.MatchKindPattern, m.Kind)
	assert.Equal(t, "Memory exhaustion", m.Title)
	assert.Equal(t, 5, m.Frequency)
	// All events match, no secondary: 0.3*1 + 0.2*1 + 0.15*1 = 0.65.
	assert.InDelta(t, 0.65, m.Confidence, 1e-9)
	assert.Equal(t, 0.0, m.Correlation)
	assert.Equal(t, 1.0, m.Temporal)
	assert.Equal(t, model.SeverityHigh, m.Severity)
	// rank 3*2 + round(0.65*3) + min(2, 5/5) = 6+2+1.
	assert.Equal(t, 9, m.Urgency)
	assert.Len(t, m.Matched, 5)
	assert.NotEmpty(t, m.Evidence)
}

func TestEvaluateMinFrequencyGate(t *testing.T) {
	def := mustGet(t, "memory_exhaustion")
	scorer := NewScorer(3, 0.0)
	base := time.Now().UTC().Add(-time.Minute)

	_, ok := scorer.Evaluate(def, oomEvents(base, 2, time.Second), time.Now().UTC())
	assert.False(t, ok, "2 matches must not clear a min frequency of 3")

	_, ok = scorer.Evaluate(def, oomEvents(base, 3, time.Second), time.Now().UTC())
	assert.True(t, ok, "3 matches must clear a min frequency of 3")
}

func TestEvaluateMinConfidenceGate(t *testing.T) {
	def := mustGet(t, "memory_exhaustion")
	scorer := NewScorer(1, 0.99)
	base := time.Now().UTC().Add(-time.Minute)
	_, ok := scorer.Evaluate(def, oomEvents(base, 5, time.Second), time.Now().UTC())
	assert.False(t, ok)
}

func TestEvaluateSecondaryCorrelation(t *testing.T) {
	def := mustGet(t, "memory_exhaustion")
	scorer := NewScorer(3, 0.0)
	base := time.Now().UTC().Add(-time.Minute)
	window := oomEvents(base, 3, 5*time.Second)
	// Secondary-only event within the correlation window of every primary.
	window = append(window, model.CrashEvent{
		Timestamp:   base.Add(7 * time.Second),
		CrashType:   "java",
		DeviceID:    "device-01",
		Description: "low memory killer activity",
	})

	m, ok := scorer.Evaluate(def, window, time.Now().UTC())
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Correlation)
	assert.Equal(t, 3, m.Frequency, "secondary-only events are not primary matches")
}

func TestScoreRanges(t *testing.T) {
	def := mustGet(t, "memory_exhaustion")
	scorer := NewScorer(1, 0.0)
	base := time.Now().UTC().Add(-time.Minute)
	for _, count := range []int{1, 2, 7, 40} {
		window := oomEvents(base, count, 3*time.Second)
		m, ok := scorer.Evaluate(def, window, time.Now().UTC())
		require.True(t, ok)
		assert.GreaterOrEqual(t, m.Confidence, 0.0)
		assert.LessOrEqual(t, m.Confidence, 1.0)
		assert.GreaterOrEqual(t, m.Correlation, 0.0)
		assert.LessOrEqual(t, m.Correlation, 1.0)
		assert.GreaterOrEqual(t, m.Temporal, 0.0)
		assert.LessOrEqual(t, m.Temporal, 1.0)
		assert.GreaterOrEqual(t, m.Urgency, 1)
		assert.LessOrEqual(t, m.Urgency, 10)
	}
}

func TestFrequencyScore(t *testing.T) {
	assert.Equal(t, 0.0, frequencyScore(0, 10))
	assert.Equal(t, 0.0, frequencyScore(3, 0))
	assert.InDelta(t, 1.0, frequencyScore(10, 10), 1e-9)
	// Monotonic in the match ratio.
	prev := 0.0
	for matches := 1; matches <= 10; matches++ {
		score := frequencyScore(matches, 10)
		assert.Greater(t, score, prev, "frequency score must grow with match ratio")
		prev = score
	}
}

func TestTemporalScore(t *testing.T) {
	base := time.Now().UTC()

	assert.Equal(t, 0.0, temporalScore(nil))
	assert.Equal(t, 0.0, temporalScore([]time.Time{base}))

	// Identical timestamps: mean interval zero counts as perfectly clustered.
	assert.Equal(t, 1.0, temporalScore([]time.Time{base, base, base}))

	regular := []time.Time{base, base.Add(5 * time.Second), base.Add(10 * time.Second), base.Add(15 * time.Second)}
	assert.Equal(t, 1.0, temporalScore(regular))

	irregular := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second), base.Add(20 * time.Minute)}
	assert.Less(t, temporalScore(irregular), temporalScore(regular))
}

func TestTemporalScoreIgnoresInferredTimes(t *testing.T) {
	def := mustGet(t, "memory_exhaustion")
	scorer := NewScorer(1, 0.0)
	base := time.Now().UTC().Add(-time.Minute)
	window := oomEvents(base, 3, 5*time.Second)
	for i := range window {
		window[i].TimeInferred = true
	}
	m, ok := scorer.Evaluate(def, window, time.Now().UTC())
	require.True(t, ok)
	assert.Equal(t, 0.0, m.Temporal, "inferred timestamps carry no arrival information")
}

func TestMatchWeightFirstWins(t *testing.T) {
	indicators := []Indicator{
		literal("out of memory", 0.9),
		literal("memory", 0.3),
	}
	w, ok := matchWeight(indicators, "process killed: out of memory")
	require.True(t, ok)
	assert.Equal(t, 0.9, w)

	w, ok = matchWeight(indicators, "memory pressure rising")
	require.True(t, ok)
	assert.Equal(t, 0.3, w)

	_, ok = matchWeight(indicators, "disk full")
	assert.False(t, ok)
}
