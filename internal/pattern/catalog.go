package pattern

import (
	"fmt"
	"time"

	"crashguard/internal/config"
	"crashguard/internal/model"
)

// Catalog is the immutable set of compiled pattern definitions, built once at
// startup from the builtin table plus any operator-supplied patterns.
type Catalog struct {
	defs []Definition
	byID map[string]int
}

func BuildCatalog(custom []config.PatternConfig) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int)}
	for _, def := range builtinDefinitions() {
		c.add(def)
	}
	for _, pc := range custom {
		def, err := compileDefinition(pc)
		if err != nil {
			return nil, err
		}
		if _, exists := c.byID[def.ID]; exists {
			return nil, fmt.Errorf("pattern %q: duplicate id", def.ID)
		}
		c.add(def)
	}
	return c, nil
}

func (c *Catalog) add(def Definition) {
	c.byID[def.ID] = len(c.defs)
	c.defs = append(c.defs, def)
}

func (c *Catalog) Definitions() []Definition {
	return c.defs
}

func (c *Catalog) Get(id string) (Definition, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[idx], true
}

func (c *Catalog) Len() int {
	return len(c.defs)
}

// builtinDefinitions covers the recurring failure signatures of device crash
// logs. Matchers are lowercase literals because CrashEvent.SearchText
// case-folds before matching.
func builtinDefinitions() []Definition {
	return []Definition{
		{
			ID:                "memory_exhaustion",
			Title:             "Memory exhaustion",
			Severity:          model.SeverityHigh,
			CorrelationWindow: 2 * time.Minute,
			Primary: []Indicator{
				literal("outofmemoryerror", 1.0),
				literal("out of memory", 0.9),
				literal("oom", 0.7),
			},
			Secondary: []Indicator{
				literal("low memory", 0.7),
				literal("gc overhead", 0.6),
				literal("memory pressure", 0.6),
				literal("heap", 0.4),
			},
		},
		{
			ID:                "app_not_responding",
			Title:             "Application not responding",
			Severity:          model.SeverityHigh,
			CorrelationWindow: 3 * time.Minute,
			Primary: []Indicator{
				literal("anr in", 1.0),
				literal("not responding", 0.9),
				literal("input dispatching timed out", 0.8),
			},
			Secondary: []Indicator{
				literal("main thread", 0.6),
				literal("blocked", 0.5),
				literal("slow operation", 0.4),
			},
		},
		{
			ID:                "native_crash",
			Title:             "Native crash",
			Severity:          model.SeverityCritical,
			CorrelationWindow: 2 * time.Minute,
			Primary: []Indicator{
				literal("fatal signal", 1.0),
				literal("sigsegv", 1.0),
				literal("sigabrt", 0.9),
				literal("tombstone", 0.7),
			},
			Secondary: []Indicator{
				literal("backtrace", 0.6),
				literal("libc", 0.5),
				literal("abort message", 0.5),
			},
		},
		{
			ID:                "system_instability",
			Title:             "System service instability",
			Severity:          model.SeverityCritical,
			CorrelationWindow: 5 * time.Minute,
			Primary: []Indicator{
				literal("system_server", 1.0),
				literal("watchdog", 0.9),
				literal("soft reboot", 0.8),
			},
			Secondary: []Indicator{
				literal("zygote", 0.6),
				literal("restarting", 0.5),
			},
		},
		{
			ID:                "storage_exhaustion",
			Title:             "Storage exhaustion",
			Severity:          model.SeverityHigh,
			CorrelationWindow: 5 * time.Minute,
			Primary: []Indicator{
				literal("no space left on device", 1.0),
				literal("enospc", 0.9),
				literal("disk full", 0.8),
			},
			Secondary: []Indicator{
				literal("write failed", 0.6),
				literal("sqlite_full", 0.6),
				literal("free space", 0.4),
			},
		},
		{
			ID:                "database_corruption",
			Title:             "Database corruption",
			Severity:          model.SeverityHigh,
			CorrelationWindow: 3 * time.Minute,
			Primary: []Indicator{
				literal("database disk image is malformed", 1.0),
				literal("sqlitedatabasecorruptexception", 1.0),
				literal("corrupt", 0.6),
			},
			Secondary: []Indicator{
				literal("sqlite", 0.5),
				literal("integrity check", 0.6),
			},
		},
		{
			ID:                "network_failure",
			Title:             "Network failure",
			Severity:          model.SeverityMedium,
			CorrelationWindow: 2 * time.Minute,
			Primary: []Indicator{
				literal("unknownhostexception", 1.0),
				literal("sockettimeoutexception", 0.9),
				literal("connection refused", 0.8),
				literal("network unreachable", 0.8),
			},
			Secondary: []Indicator{
				literal("retry", 0.5),
				literal("dns", 0.5),
				literal("timeout", 0.4),
			},
		},
		{
			ID:                "permission_failure",
			Title:             "Permission failure",
			Severity:          model.SeverityMedium,
			CorrelationWindow: 2 * time.Minute,
			Primary: []Indicator{
				literal("securityexception", 1.0),
				literal("permission denied", 0.9),
				literal("permission denial", 0.9),
			},
			Secondary: []Indicator{
				literal("requires", 0.4),
				literal("uid", 0.3),
			},
		},
	}
}
