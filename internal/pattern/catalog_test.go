package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashguard/internal/config"
	"crashguard/internal/model"
)

func TestBuildCatalogBuiltins(t *testing.T) {
	catalog, err := BuildCatalog(nil)
	require.NoError(t, err)
	assert.Equal(t, len(builtinDefinitions()), catalog.Len())
	for _, id := range []string{"memory_exhaustion", "app_not_responding", "native_crash", "system_instability"} {
		_, ok := catalog.Get(id)
		assert.True(t, ok, "builtin %s missing", id)
	}
	_, ok := catalog.Get("no_such_pattern")
	assert.False(t, ok)
}

func TestBuildCatalogCustomPattern(t *testing.T) {
	catalog, err := BuildCatalog([]config.PatternConfig{{
		ID:                "camera_failure",
		Title:             "Camera service failure",
		Severity:          "high",
		CorrelationWindow: time.Minute,
		Primary: []config.IndicatorConfig{
			{Match: "cameraservice died", Weight: 1.0},
			{Match: `camera\d+ disconnected`, Regex: true, Weight: 0.8},
		},
		Secondary: []config.IndicatorConfig{
			{Match: "mediaserver", Weight: 0.5},
		},
	}})
	require.NoError(t, err)

	def, ok := catalog.Get("camera_failure")
	require.True(t, ok)
	assert.Equal(t, model.SeverityHigh, def.Severity)

	w, ok := matchWeight(def.Primary, "e cameraservice died, restarting")
	require.True(t, ok)
	assert.Equal(t, 1.0, w)

	w, ok = matchWeight(def.Primary, "camera2 disconnected unexpectedly")
	require.True(t, ok)
	assert.Equal(t, 0.8, w)
}

func TestBuildCatalogRejectsDuplicateID(t *testing.T) {
	_, err := BuildCatalog([]config.PatternConfig{{
		ID:      "memory_exhaustion",
		Primary: []config.IndicatorConfig{{Match: "oom", Weight: 1.0}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestBuildCatalogRejectsBadWeight(t *testing.T) {
	for _, weight := range []float64{0, -0.5, 1.5} {
		_, err := BuildCatalog([]config.PatternConfig{{
			ID:      "custom",
			Primary: []config.IndicatorConfig{{Match: "boom", Weight: weight}},
		}})
		assert.Error(t, err, "weight %v must be rejected", weight)
	}
}

func TestBuildCatalogRejectsEmptyPattern(t *testing.T) {
	_, err := BuildCatalog([]config.PatternConfig{{ID: "custom"}})
	assert.Error(t, err, "a pattern without primary indicators must be rejected")

	_, err = BuildCatalog([]config.PatternConfig{{
		Primary: []config.IndicatorConfig{{Match: "boom", Weight: 1.0}},
	}})
	assert.Error(t, err, "a pattern without an id must be rejected")
}

func TestBuildCatalogRejectsBadRegex(t *testing.T) {
	_, err := BuildCatalog([]config.PatternConfig{{
		ID:      "custom",
		Primary: []config.IndicatorConfig{{Match: "(unclosed", Regex: true, Weight: 0.5}},
	}})
	assert.Error(t, err)
}
