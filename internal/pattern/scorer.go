package pattern

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"crashguard/internal/model"
)

// Scorer turns a pattern definition plus a window of buffered events into a
// confidence-scored PatternMatch.
type Scorer struct {
	minFrequency  int
	minConfidence float64
}

func NewScorer(minFrequency int, minConfidence float64) *Scorer {
	if minFrequency <= 0 {
		minFrequency = 1
	}
	return &Scorer{minFrequency: minFrequency, minConfidence: minConfidence}
}

type scoredEvent struct {
	ev     model.CrashEvent
	weight float64
}

// Evaluate scans the analysis window for a single definition. The window is
// the engine's recent-event slice; events outside the analysis window must
// already be filtered out by the caller.
func (s *Scorer) Evaluate(def Definition, window []model.CrashEvent, now time.Time) (model.PatternMatch, bool) {
	if len(window) == 0 {
		return model.PatternMatch{}, false
	}

	var primary, secondary []scoredEvent
	for _, ev := range window {
		text := ev.SearchText()
		if w, ok := matchWeight(def.Primary, text); ok {
			primary = append(primary, scoredEvent{ev: ev, weight: w})
		}
		if w, ok := matchWeight(def.Secondary, text); ok {
			secondary = append(secondary, scoredEvent{ev: ev, weight: w})
		}
	}
	if len(primary) < s.minFrequency {
		return model.PatternMatch{}, false
	}

	freq := frequencyScore(len(primary), len(window))
	corr := correlationScore(primary, secondary, def.CorrelationWindow)
	temporal := temporalScore(parsedTimes(primary))

	confidence := 0.3*freq + 0.3*corr + 0.2*temporal +
		0.15*averageWeight(primary) + 0.05*averageWeight(secondary)
	if confidence > 1 {
		confidence = 1
	}
	if confidence < s.minConfidence {
		return model.PatternMatch{}, false
	}

	matched := make([]model.CrashEvent, 0, len(primary))
	for _, m := range primary {
		matched = append(matched, m.ev)
	}

	return model.PatternMatch{
		PatternID:   def.ID,
		Kind:        model.MatchKindPattern,
		Title:       def.Title,
		Frequency:   len(primary),
		Confidence:  confidence,
		Correlation: corr,
		Temporal:    temporal,
		Severity:    def.Severity,
		Urgency:     urgency(def.Severity, confidence, len(primary)),
		Evidence:    evidence(len(primary), len(window), freq, corr, temporal, matched),
		Matched:     matched,
		DetectedAt:  now,
	}, true
}

// frequencyScore is logarithmic so high absolute counts do not run away.
func frequencyScore(matches, total int) float64 {
	if total == 0 {
		return 0
	}
	ratio := float64(matches) / float64(total)
	score := math.Log(1+10*ratio) / math.Log(11)
	return math.Min(1, score)
}

// correlationScore is the fraction of primary matches with at least one
// secondary match inside the correlation window, in either direction.
func correlationScore(primary, secondary []scoredEvent, window time.Duration) float64 {
	if len(primary) == 0 || len(secondary) == 0 {
		return 0
	}
	corroborated := 0
	for _, p := range primary {
		for _, sec := range secondary {
			delta := p.ev.Timestamp.Sub(sec.ev.Timestamp)
			if delta < 0 {
				delta = -delta
			}
			if delta <= window {
				corroborated++
				break
			}
		}
	}
	return float64(corroborated) / float64(len(primary))
}

// temporalScore maps the coefficient of variation of inter-arrival intervals
// to [0,1]; tightly clustered arrivals score high. Events whose timestamp was
// inferred at ingest carry no arrival information and are excluded.
func temporalScore(times []time.Time) float64 {
	if len(times) < 2 {
		return 0
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}
	var mean float64
	for _, d := range intervals {
		mean += d
	}
	mean /= float64(len(intervals))
	if mean == 0 {
		return 1
	}
	var variance float64
	for _, d := range intervals {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(intervals))
	cv := math.Sqrt(variance) / mean
	score := 1 - cv/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func parsedTimes(events []scoredEvent) []time.Time {
	times := make([]time.Time, 0, len(events))
	for _, m := range events {
		if m.ev.TimeInferred {
			continue
		}
		times = append(times, m.ev.Timestamp)
	}
	return times
}

func averageWeight(events []scoredEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	var sum float64
	for _, m := range events {
		sum += m.weight
	}
	return sum / float64(len(events))
}

func urgency(severity model.Severity, confidence float64, frequency int) int {
	u := severity.Rank()*2 + int(math.Round(confidence*3))
	bonus := frequency / 5
	if bonus > 2 {
		bonus = 2
	}
	u += bonus
	if u > 10 {
		u = 10
	}
	if u < 1 {
		u = 1
	}
	return u
}

func evidence(matches, total int, freq, corr, temporal float64, matched []model.CrashEvent) []string {
	out := []string{
		fmt.Sprintf("%d of %d recent events match primary indicators", matches, total),
		fmt.Sprintf("frequency=%.2f correlation=%.2f temporal=%.2f", freq, corr, temporal),
	}
	apps := make([]string, 0, 3)
	seen := make(map[string]bool)
	for _, ev := range matched {
		if ev.AppID == "" || seen[ev.AppID] {
			continue
		}
		seen[ev.AppID] = true
		apps = append(apps, ev.AppID)
		if len(apps) == 3 {
			break
		}
	}
	if len(apps) > 0 {
		out = append(out, "affected apps: "+strings.Join(apps, ", "))
	}
	return out
}
