package pattern

import (
	"fmt"
	"time"

	"crashguard/internal/model"
)

// BurstID is the synthetic pattern id for short-term crash spikes.
const BurstID = "crash_burst"

// BurstDetector flags abnormally many events inside any fixed one-minute
// bucket. It runs independently of the catalog scan and needs no named
// pattern match.
type BurstDetector struct {
	threshold     int
	criticalCount int
}

func NewBurstDetector(threshold, criticalCount int) *BurstDetector {
	if threshold <= 0 {
		threshold = 5
	}
	if criticalCount <= 0 {
		criticalCount = 20
	}
	return &BurstDetector{threshold: threshold, criticalCount: criticalCount}
}

func (b *BurstDetector) Detect(window []model.CrashEvent, now time.Time) (model.PatternMatch, bool) {
	if len(window) == 0 {
		return model.PatternMatch{}, false
	}
	buckets := make(map[time.Time][]model.CrashEvent)
	for _, ev := range window {
		key := ev.Timestamp.Truncate(time.Minute)
		buckets[key] = append(buckets[key], ev)
	}

	var matched []model.CrashEvent
	maxBucket := 0
	for _, events := range buckets {
		if len(events) > maxBucket {
			maxBucket = len(events)
		}
		if len(events) >= b.threshold {
			matched = append(matched, events...)
		}
	}
	if len(matched) == 0 {
		return model.PatternMatch{}, false
	}

	severity := model.SeverityHigh
	urgencyScore := 7
	if maxBucket >= b.criticalCount {
		severity = model.SeverityCritical
		urgencyScore = 9
	}
	confidence := 2 * float64(len(matched)) / float64(len(window))
	if confidence > 0.9 {
		confidence = 0.9
	}

	return model.PatternMatch{
		PatternID:  BurstID,
		Kind:       model.MatchKindBurst,
		Title:      "Crash burst",
		Frequency:  len(matched),
		Confidence: confidence,
		Severity:   severity,
		Urgency:    urgencyScore,
		Evidence: []string{
			fmt.Sprintf("%d events in bursting minute buckets, largest bucket %d", len(matched), maxBucket),
		},
		Matched:    matched,
		DetectedAt: now,
	}, true
}
