package pattern

import (
	"fmt"
	"time"

	"crashguard/internal/model"
)

// CascadeDetector compares active high-confidence patterns pairwise for
// temporal overlap of their matched events, flagging compound failures.
type CascadeDetector struct {
	overlapThreshold float64
	minConfidence    float64
}

func NewCascadeDetector(overlapThreshold, minConfidence float64) *CascadeDetector {
	if overlapThreshold <= 0 {
		overlapThreshold = 0.5
	}
	if minConfidence <= 0 {
		minConfidence = 0.7
	}
	return &CascadeDetector{overlapThreshold: overlapThreshold, minConfidence: minConfidence}
}

// Detect synthesizes at most one cascade per pattern pair per cycle. Cascades
// themselves never participate in pairing.
func (c *CascadeDetector) Detect(active []model.PatternMatch, now time.Time) []model.PatternMatch {
	candidates := make([]model.PatternMatch, 0, len(active))
	for _, m := range active {
		if m.Kind == model.MatchKindCascade {
			continue
		}
		if m.Confidence >= c.minConfidence {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) < 2 {
		return nil
	}

	var cascades []model.PatternMatch
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			overlap := minuteOverlap(a.Matched, b.Matched)
			if overlap < c.overlapThreshold {
				continue
			}
			matched := make([]model.CrashEvent, 0, len(a.Matched)+len(b.Matched))
			matched = append(matched, a.Matched...)
			matched = append(matched, b.Matched...)
			cascades = append(cascades, model.PatternMatch{
				PatternID:  "cascade_" + a.PatternID + "_" + b.PatternID,
				Kind:       model.MatchKindCascade,
				Title:      fmt.Sprintf("Cascading failure: %s + %s", a.Title, b.Title),
				Frequency:  a.Frequency + b.Frequency,
				Confidence: (a.Confidence + b.Confidence) / 2,
				Severity:   model.MaxSeverity(a.Severity, b.Severity),
				Urgency:    10,
				Evidence: []string{
					fmt.Sprintf("patterns %s and %s overlap %.0f%% of active minutes", a.PatternID, b.PatternID, overlap*100),
				},
				Matched:    matched,
				DetectedAt: now,
			})
		}
	}
	return cascades
}

// minuteOverlap is the Jaccard index of the minute-bucket sets of two matched
// event lists.
func minuteOverlap(a, b []model.CrashEvent) float64 {
	setA := minuteSet(a)
	setB := minuteSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for minute := range setA {
		if setB[minute] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func minuteSet(events []model.CrashEvent) map[int64]bool {
	set := make(map[int64]bool, len(events))
	for _, ev := range events {
		set[ev.Timestamp.Truncate(time.Minute).Unix()] = true
	}
	return set
}
