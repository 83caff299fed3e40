package alerts

import (
	"time"

	"crashguard/internal/config"
	"crashguard/internal/model"
)

// Rule is the per-severity alerting policy applied to qualifying pattern
// matches.
type Rule struct {
	MinConfidence    float64          `json:"min_confidence"`
	MinFrequency     int              `json:"min_frequency"`
	Level            model.AlertLevel `json:"alert_level"`
	RateLimit        time.Duration    `json:"rate_limit"`
	CascadeThreshold int              `json:"cascade_threshold"`
}

// DefaultRules maps each severity to its policy. Higher severities alert on
// weaker signals and cool down faster.
func DefaultRules() map[model.Severity]Rule {
	return map[model.Severity]Rule{
		model.SeverityLow:      {MinConfidence: 0.7, MinFrequency: 5, Level: model.LevelInfo, RateLimit: 60 * time.Minute, CascadeThreshold: 10},
		model.SeverityMedium:   {MinConfidence: 0.6, MinFrequency: 4, Level: model.LevelWarning, RateLimit: 30 * time.Minute, CascadeThreshold: 5},
		model.SeverityHigh:     {MinConfidence: 0.5, MinFrequency: 3, Level: model.LevelError, RateLimit: 15 * time.Minute, CascadeThreshold: 3},
		model.SeverityCritical: {MinConfidence: 0.4, MinFrequency: 2, Level: model.LevelCritical, RateLimit: 5 * time.Minute, CascadeThreshold: 2},
	}
}

// RulesFromConfig overlays configured overrides on the default table. Zero
// fields in an override keep the default value.
func RulesFromConfig(overrides map[string]config.AlertRuleConfig) (map[model.Severity]Rule, error) {
	rules := DefaultRules()
	for key, rc := range overrides {
		severity, err := model.ParseSeverity(key)
		if err != nil {
			return nil, err
		}
		rule := rules[severity]
		if rc.MinConfidence > 0 {
			rule.MinConfidence = rc.MinConfidence
		}
		if rc.MinFrequency > 0 {
			rule.MinFrequency = rc.MinFrequency
		}
		if rc.Level != "" {
			level, err := model.ParseAlertLevel(rc.Level)
			if err != nil {
				return nil, err
			}
			rule.Level = level
		}
		if rc.RateLimit > 0 {
			rule.RateLimit = rc.RateLimit
		}
		if rc.CascadeThreshold > 0 {
			rule.CascadeThreshold = rc.CascadeThreshold
		}
		rules[severity] = rule
	}
	return rules, nil
}
