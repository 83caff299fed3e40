package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crashguard/internal/alerts"
	"crashguard/internal/config"
	"crashguard/internal/metrics"
	"crashguard/internal/model"
)

type fakeEngine struct {
	resets  int
	updated *config.Config
	stats   model.EngineStats
	active  []model.PatternMatch
}

func (f *fakeEngine) Reset() { f.resets++ }

func (f *fakeEngine) UpdateConfig(cfg *config.Config) error {
	f.updated = cfg
	return nil
}

func (f *fakeEngine) Stats() model.EngineStats { return f.stats }

func (f *fakeEngine) ActivePatterns() []model.PatternMatch { return f.active }

func (f *fakeEngine) RecentAlerts(limit int) []model.Alert { return nil }

func (f *fakeEngine) ExportState() model.Snapshot {
	return model.Snapshot{TakenAt: time.Now().UTC(), Stats: f.stats, ActivePatterns: f.active}
}

func newTestServer(engine *fakeEngine) *Server {
	return &Server{
		cfg:     config.NewStaticManager(config.DefaultConfig()),
		devices: metrics.NewStore(10),
		alerts:  alerts.NewStore(10),
		engine:  engine,
		version: "test",
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandlePatterns(t *testing.T) {
	eng := &fakeEngine{active: []model.PatternMatch{{PatternID: "memory_exhaustion", Urgency: 9}}}
	s := newTestServer(eng)
	rec := httptest.NewRecorder()
	s.handlePatterns(rec, httptest.NewRequest(http.MethodGet, "/patterns", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "memory_exhaustion") {
		t.Fatalf("pattern missing from response: %s", rec.Body.String())
	}
}

func TestHandleAlertsSinceValidation(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := httptest.NewRecorder()
	s.handleAlerts(rec, httptest.NewRequest(http.MethodGet, "/alerts?since=garbage", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}
}

func TestHandleAlertRulesUpdate(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(eng)
	body := `{"high": {"min_confidence": 0.9, "alert_level": "critical"}}`
	rec := httptest.NewRecorder()
	s.handleAlertRules(rec, httptest.NewRequest(http.MethodPost, "/config/alert_rules", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d, body %s", rec.Code, rec.Body.String())
	}
	if eng.updated == nil {
		t.Fatalf("expected engine to receive updated config")
	}
	if eng.updated.Alerting.Rules["high"].MinConfidence != 0.9 {
		t.Fatalf("rule override not applied: %+v", eng.updated.Alerting.Rules)
	}
}

func TestHandleRestart(t *testing.T) {
	eng := &fakeEngine{}
	s := newTestServer(eng)
	rec := httptest.NewRecorder()
	s.handleRestart(rec, httptest.NewRequest(http.MethodPost, "/admin/restart", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	if eng.resets != 1 {
		t.Fatalf("expected one reset, got %d", eng.resets)
	}
	rec = httptest.NewRecorder()
	s.handleRestart(rec, httptest.NewRequest(http.MethodGet, "/admin/restart", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestHandleClearTargets(t *testing.T) {
	s := newTestServer(&fakeEngine{})
	rec := httptest.NewRecorder()
	s.handleClear(rec, httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"alerts"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	s.handleClear(rec, httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"bogus"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown target, got %d", rec.Code)
	}
}
