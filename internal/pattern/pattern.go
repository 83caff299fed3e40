package pattern

import (
	"fmt"
	"regexp"
	"time"

	"crashguard/internal/config"
	"crashguard/internal/model"
)

// Indicator is a compiled weighted text matcher. Indicators are built once at
// catalog construction and read-only afterwards.
type Indicator struct {
	expr   *regexp.Regexp
	Weight float64
}

func (i Indicator) Matches(text string) bool {
	return i.expr.MatchString(text)
}

func (i Indicator) String() string {
	return i.expr.String()
}

// Definition is a static pattern definition. Never mutated after the catalog
// is built.
type Definition struct {
	ID                string
	Title             string
	Severity          model.Severity
	CorrelationWindow time.Duration
	Primary           []Indicator
	Secondary         []Indicator
}

// matchWeight scans indicators in definition order; the first matching
// indicator determines the recorded weight. This tie-break is intentional:
// definition order encodes indicator priority.
func matchWeight(indicators []Indicator, text string) (float64, bool) {
	for _, ind := range indicators {
		if ind.Matches(text) {
			return ind.Weight, true
		}
	}
	return 0, false
}

func literal(substr string, weight float64) Indicator {
	return Indicator{expr: regexp.MustCompile(regexp.QuoteMeta(substr)), Weight: weight}
}

func compileIndicator(ic config.IndicatorConfig) (Indicator, error) {
	if ic.Weight <= 0 || ic.Weight > 1 {
		return Indicator{}, fmt.Errorf("indicator %q: weight must be in (0,1]", ic.Match)
	}
	src := regexp.QuoteMeta(ic.Match)
	if ic.Regex {
		src = ic.Match
	}
	expr, err := regexp.Compile("(?i)" + src)
	if err != nil {
		return Indicator{}, fmt.Errorf("indicator %q: %w", ic.Match, err)
	}
	return Indicator{expr: expr, Weight: ic.Weight}, nil
}

func compileDefinition(pc config.PatternConfig) (Definition, error) {
	if pc.ID == "" {
		return Definition{}, fmt.Errorf("pattern definition missing id")
	}
	if len(pc.Primary) == 0 {
		return Definition{}, fmt.Errorf("pattern %q: needs at least one primary indicator", pc.ID)
	}
	severity := model.SeverityMedium
	if pc.Severity != "" {
		parsed, err := model.ParseSeverity(pc.Severity)
		if err != nil {
			return Definition{}, fmt.Errorf("pattern %q: %w", pc.ID, err)
		}
		severity = parsed
	}
	window := pc.CorrelationWindow
	if window <= 0 {
		window = 2 * time.Minute
	}
	def := Definition{
		ID:                pc.ID,
		Title:             pc.Title,
		Severity:          severity,
		CorrelationWindow: window,
	}
	if def.Title == "" {
		def.Title = pc.ID
	}
	for _, ic := range pc.Primary {
		ind, err := compileIndicator(ic)
		if err != nil {
			return Definition{}, fmt.Errorf("pattern %q: %w", pc.ID, err)
		}
		def.Primary = append(def.Primary, ind)
	}
	for _, ic := range pc.Secondary {
		ind, err := compileIndicator(ic)
		if err != nil {
			return Definition{}, fmt.Errorf("pattern %q: %w", pc.ID, err)
		}
		def.Secondary = append(def.Secondary, ind)
	}
	return def, nil
}
