package alerts

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crashguard/internal/model"
)

// Policy applies rate limiting and aggregation to candidate alerts before
// they reach the dispatcher. Cascade matches bypass both.
type Policy struct {
	mu         sync.Mutex
	rules      map[model.Severity]Rule
	lastSent   map[string]time.Time
	buckets    map[string]*bucket
	aggWindow  time.Duration
	aggMax     int
	limiterTTL time.Duration
	windowMin  int
	dispatcher *Dispatcher
	logger     *slog.Logger
}

type bucket struct {
	pending []model.Alert
	rateKey string
	first   time.Time
}

type PolicyOptions struct {
	Rules             map[model.Severity]Rule
	AggregationWindow time.Duration
	AggregationMax    int
	RateLimiterTTL    time.Duration
	AnalysisWindowMin int
}

func NewPolicy(opts PolicyOptions, dispatcher *Dispatcher, logger *slog.Logger) *Policy {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	aggWindow := opts.AggregationWindow
	if aggWindow <= 0 {
		aggWindow = 5 * time.Minute
	}
	aggMax := opts.AggregationMax
	if aggMax <= 0 {
		aggMax = 5
	}
	ttl := opts.RateLimiterTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Policy{
		rules:      rules,
		lastSent:   make(map[string]time.Time),
		buckets:    make(map[string]*bucket),
		aggWindow:  aggWindow,
		aggMax:     aggMax,
		limiterTTL: ttl,
		windowMin:  opts.AnalysisWindowMin,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Rules returns a copy of the active rule table.
func (p *Policy) Rules() map[model.Severity]Rule {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[model.Severity]Rule, len(p.rules))
	for severity, rule := range p.rules {
		out[severity] = rule
	}
	return out
}

func (p *Policy) UpdateRules(rules map[model.Severity]Rule) {
	if rules == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = rules
}

// Submit evaluates one pattern match against its severity rule and either
// dispatches, buffers, or drops the candidate alert.
func (p *Policy) Submit(m model.PatternMatch, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidate := p.buildAlert(m, now)

	if m.Kind == model.MatchKindCascade {
		candidate.Level = model.LevelCritical
		p.lastSent[rateKey(candidate)] = now
		p.dispatcher.Dispatch(candidate)
		return
	}

	rule, ok := p.rules[m.Severity]
	if !ok {
		rule = DefaultRules()[m.Severity]
	}
	if m.Confidence < rule.MinConfidence || m.Frequency < rule.MinFrequency {
		return
	}
	candidate.Level = rule.Level

	key := rateKey(candidate)
	if last, seen := p.lastSent[key]; seen && now.Sub(last) < rule.RateLimit {
		p.dispatcher.NoteRateLimited()
		return
	}

	// High-severity singles go out immediately; lower levels wait for the
	// aggregation window.
	if rule.Level >= model.LevelError {
		p.lastSent[key] = now
		p.dispatcher.Dispatch(candidate)
		return
	}

	aggKey := aggregationKey(candidate)
	b, exists := p.buckets[aggKey]
	if !exists {
		b = &bucket{first: now, rateKey: key}
		p.buckets[aggKey] = b
	}
	b.pending = append(b.pending, candidate)
	p.dispatcher.NoteAggregated()
	if len(b.pending) >= p.aggMax || now.Sub(b.first) >= p.aggWindow {
		p.flushLocked(aggKey, b, now)
	}
}

// FlushDue flushes aggregation buckets whose window has elapsed. Called from
// the engine's housekeeping tick.
func (p *Policy) FlushDue(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, b := range p.buckets {
		if now.Sub(b.first) >= p.aggWindow {
			p.flushLocked(key, b, now)
		}
	}
}

func (p *Policy) flushLocked(key string, b *bucket, now time.Time) {
	delete(p.buckets, key)
	if len(b.pending) == 0 {
		return
	}
	p.lastSent[b.rateKey] = now
	if len(b.pending) == 1 {
		// A lone candidate whose window expired is dispatched as-is;
		// escalation only applies to genuine groups.
		p.dispatcher.Dispatch(b.pending[0])
		return
	}
	p.dispatcher.Dispatch(escalate(b.pending, now))
}

// GC drops rate-limiter entries not touched within the limiter TTL.
func (p *Policy) GC(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, last := range p.lastSent {
		if now.Sub(last) > p.limiterTTL {
			delete(p.lastSent, key)
		}
	}
}

// PendingAggregations reports how many candidates are buffered, for stats.
func (p *Policy) PendingAggregations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, b := range p.buckets {
		total += len(b.pending)
	}
	return total
}

func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSent = make(map[string]time.Time)
	p.buckets = make(map[string]*bucket)
}

func (p *Policy) buildAlert(m model.PatternMatch, now time.Time) model.Alert {
	device, app, crashType := dominantContext(m.Matched)
	return model.Alert{
		AlertID:       newAlertID(),
		Type:          string(m.Kind),
		Title:         m.Title,
		Message:       alertMessage(m),
		Timestamp:     now,
		DeviceID:      device,
		AppID:         app,
		CrashType:     crashType,
		Severity:      m.Severity,
		CrashCount:    m.Frequency,
		WindowMinutes: p.windowMin,
		Metadata: map[string]string{
			"pattern_id": m.PatternID,
			"confidence": fmt.Sprintf("%.2f", m.Confidence),
			"urgency":    fmt.Sprintf("%d", m.Urgency),
			"evidence":   strings.Join(m.Evidence, "; "),
		},
	}
}

func alertMessage(m model.PatternMatch) string {
	return fmt.Sprintf("%s detected: %d matching crashes, confidence %.2f, urgency %d/10",
		m.Title, m.Frequency, m.Confidence, m.Urgency)
}

// escalate merges a bucket of near-duplicate alerts into one alert a level
// above the originals, capped at critical.
func escalate(pending []model.Alert, now time.Time) model.Alert {
	first := pending[0]
	last := pending[len(pending)-1]
	span := last.Timestamp.Sub(first.Timestamp).Round(time.Second)
	merged := first
	merged.AlertID = newAlertID()
	merged.Level = first.Level.Escalate()
	merged.Timestamp = now
	merged.CrashCount = len(pending)
	merged.Message = fmt.Sprintf("%d similar alerts within %s; sample: %s", len(pending), span, first.Message)
	merged.Metadata = copyMetadata(first.Metadata)
	merged.Metadata["aggregated"] = "true"
	merged.Metadata["aggregated_count"] = fmt.Sprintf("%d", len(pending))
	return merged
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func rateKey(a model.Alert) string {
	return a.Metadata["pattern_id"] + "|" + a.DeviceID + "|" + a.AppID
}

func aggregationKey(a model.Alert) string {
	return a.Type + "|" + a.Metadata["pattern_id"] + "|" + a.DeviceID
}

// dominantContext picks the most frequent device, app, and crash type among
// the matched events.
func dominantContext(events []model.CrashEvent) (device, app, crashType string) {
	devices := make(map[string]int)
	apps := make(map[string]int)
	types := make(map[string]int)
	for _, ev := range events {
		if ev.DeviceID != "" {
			devices[ev.DeviceID]++
		}
		if ev.AppID != "" {
			apps[ev.AppID]++
		}
		if ev.CrashType != "" {
			types[ev.CrashType]++
		}
	}
	return mostFrequent(devices), mostFrequent(apps), mostFrequent(types)
}

func mostFrequent(counts map[string]int) string {
	best := ""
	bestCount := 0
	for value, count := range counts {
		if count > bestCount || (count == bestCount && value < best) {
			best = value
			bestCount = count
		}
	}
	return best
}
