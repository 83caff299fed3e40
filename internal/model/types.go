package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity orders pattern severities for escalation and comparison.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return "unknown"
	}
	return severityNames[s]
}

// Rank returns the escalation rank used in urgency scoring, lowest is 1.
func (s Severity) Rank() int {
	return int(s) + 1
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return SeverityLow, nil
	case "medium", "med":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical", "crit":
		return SeverityCritical, nil
	}
	return SeverityLow, fmt.Errorf("unknown severity %q", raw)
}

func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// AlertLevel orders alert levels for aggregation escalation.
type AlertLevel int

const (
	LevelInfo AlertLevel = iota
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = [...]string{"info", "warning", "error", "critical"}

func (l AlertLevel) String() string {
	if l < LevelInfo || l > LevelCritical {
		return "unknown"
	}
	return levelNames[l]
}

// Escalate returns the level one step up, capped at critical.
func (l AlertLevel) Escalate() AlertLevel {
	if l >= LevelCritical {
		return LevelCritical
	}
	return l + 1
}

func (l AlertLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *AlertLevel) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseAlertLevel(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func ParseAlertLevel(raw string) (AlertLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info":
		return LevelInfo, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "crit":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("unknown alert level %q", raw)
}

// CrashEvent is a single classified crash observation. Immutable once built.
type CrashEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	CrashType    string    `json:"crash_type"`
	AppID        string    `json:"app_id,omitempty"`
	DeviceID     string    `json:"device_id"`
	Description  string    `json:"description,omitempty"`
	RelatedTexts []string  `json:"related_texts,omitempty"`
	Source       string    `json:"source,omitempty"`
	// TimeInferred marks events whose timestamp failed to parse and was
	// replaced with ingest time so the event is never lost.
	TimeInferred bool `json:"time_inferred,omitempty"`
}

// SearchText returns the case-folded concatenation of every text field the
// indicator matchers scan.
func (e CrashEvent) SearchText() string {
	parts := make([]string, 0, 3+len(e.RelatedTexts))
	parts = append(parts, e.CrashType, e.AppID, e.Description)
	parts = append(parts, e.RelatedTexts...)
	return strings.ToLower(strings.Join(parts, " "))
}

// MatchKind distinguishes how a PatternMatch was produced.
type MatchKind string

const (
	MatchKindPattern MatchKind = "pattern"
	MatchKindBurst   MatchKind = "burst"
	MatchKindCascade MatchKind = "cascade"
)

// PatternMatch is one evaluation-cycle result for a pattern. A new detection
// supersedes the previous instance in the active registry, never merges.
type PatternMatch struct {
	PatternID   string       `json:"pattern_id"`
	Kind        MatchKind    `json:"kind"`
	Title       string       `json:"title"`
	Frequency   int          `json:"frequency"`
	Confidence  float64      `json:"confidence"`
	Correlation float64      `json:"correlation"`
	Temporal    float64      `json:"temporal_clustering"`
	Severity    Severity     `json:"severity"`
	Urgency     int          `json:"urgency"`
	Evidence    []string     `json:"evidence,omitempty"`
	Matched     []CrashEvent `json:"-"`
	DetectedAt  time.Time    `json:"detected_at"`
}

// Alert is the dispatched, immutable output record.
type Alert struct {
	AlertID       string            `json:"alert_id"`
	Type          string            `json:"type"`
	Level         AlertLevel        `json:"level"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	Timestamp     time.Time         `json:"timestamp"`
	DeviceID      string            `json:"device_id"`
	CrashType     string            `json:"crash_type,omitempty"`
	AppID         string            `json:"app_id,omitempty"`
	Severity      Severity          `json:"severity"`
	CrashCount    int               `json:"crash_count"`
	WindowMinutes int               `json:"time_window_minutes"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RollingCounts are crash counts over fixed lookback windows, computed by
// filtering the event buffer rather than via separate counters.
type RollingCounts struct {
	LastMinute int `json:"last_minute"`
	Last5Min   int `json:"last_5_minutes"`
	LastHour   int `json:"last_hour"`
}

// EngineStats is the aggregate counter snapshot returned by the engine.
type EngineStats struct {
	StartedAt           time.Time      `json:"started_at"`
	EventsProcessed     uint64         `json:"events_processed"`
	EventsDropped       uint64         `json:"events_dropped"`
	BufferedEvents      int            `json:"buffered_events"`
	ActivePatterns      int            `json:"active_patterns"`
	AlertsTotal         uint64         `json:"alerts_total"`
	AlertsByType        map[string]int `json:"alerts_by_type"`
	AlertsByLevel       map[string]int `json:"alerts_by_level"`
	RateLimited         uint64         `json:"rate_limited"`
	Aggregated          uint64         `json:"aggregated"`
	HighestConfidence   float64        `json:"highest_confidence"`
	MostCriticalPattern string         `json:"most_critical_pattern,omitempty"`
	Crashes             RollingCounts  `json:"crashes"`
}

// Snapshot is the exportable engine state.
type Snapshot struct {
	TakenAt        time.Time      `json:"taken_at"`
	Stats          EngineStats    `json:"stats"`
	ActivePatterns []PatternMatch `json:"active_patterns"`
	RecentAlerts   []Alert        `json:"recent_alerts"`
}
