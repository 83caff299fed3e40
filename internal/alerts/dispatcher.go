package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"crashguard/internal/metrics"
	"crashguard/internal/model"
	"crashguard/internal/storage"
)

// Handler receives each dispatched alert synchronously, in registration
// order. A slow handler stalls the worker; that is accepted, not guaranteed
// against.
type Handler func(model.Alert) error

// Dispatcher persists an audit record per alert and fans out to handlers.
// Handler failures never abort dispatch to the remaining handlers.
type Dispatcher struct {
	mu       sync.Mutex
	logger   *slog.Logger
	store    storage.Store
	auditDir string
	handlers []Handler
	recent   *Store

	total         uint64
	byType        map[string]int
	byLevel       map[string]int
	rateLimited   uint64
	aggregated    uint64
	highestConf   float64
	mostCritical  string
	criticalRank  model.Severity
	criticalScore float64
}

func NewDispatcher(logger *slog.Logger, store storage.Store, auditDir string, recent *Store) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		store:    store,
		auditDir: auditDir,
		recent:   recent,
		byType:   make(map[string]int),
		byLevel:  make(map[string]int),
	}
}

func newAlertID() string {
	return uuid.NewString()
}

func (d *Dispatcher) Register(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Dispatch writes the audit record, saves to storage when configured, then
// invokes every handler. Each step is best-effort; a failure is logged and
// the pipeline continues.
func (d *Dispatcher) Dispatch(alert model.Alert) {
	d.persistAudit(alert)
	if d.store != nil {
		if err := d.store.SaveAlert(context.Background(), alert); err != nil && d.logger != nil {
			d.logger.Error("save alert", "alert_id", alert.AlertID, "err", err)
		}
	}

	d.mu.Lock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.total++
	d.byType[alert.Type]++
	d.byLevel[alert.Level.String()]++
	d.mu.Unlock()
	metrics.AlertsTotal.WithLabelValues(alert.Type, alert.Level.String()).Inc()

	if d.recent != nil {
		d.recent.Add(alert)
	}
	if d.logger != nil {
		d.logger.Warn("alert dispatched",
			"alert_id", alert.AlertID,
			"type", alert.Type,
			"level", alert.Level.String(),
			"device_id", alert.DeviceID,
			"title", alert.Title,
		)
	}
	for i, h := range handlers {
		d.invoke(i, h, alert)
	}
}

func (d *Dispatcher) invoke(idx int, h Handler, alert model.Alert) {
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error("alert handler panic", "handler", idx, "alert_id", alert.AlertID, "panic", fmt.Sprint(r))
		}
	}()
	if err := h(alert); err != nil && d.logger != nil {
		d.logger.Error("alert handler error", "handler", idx, "alert_id", alert.AlertID, "err", err)
	}
}

func (d *Dispatcher) persistAudit(alert model.Alert) {
	if d.auditDir == "" {
		return
	}
	if err := os.MkdirAll(d.auditDir, 0o755); err != nil {
		if d.logger != nil {
			d.logger.Error("create audit dir", "dir", d.auditDir, "err", err)
		}
		return
	}
	data, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		if d.logger != nil {
			d.logger.Error("encode alert audit", "alert_id", alert.AlertID, "err", err)
		}
		return
	}
	path := filepath.Join(d.auditDir, alert.AlertID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil && d.logger != nil {
		d.logger.Error("write alert audit", "path", path, "err", err)
	}
}

func (d *Dispatcher) NoteRateLimited() {
	d.mu.Lock()
	d.rateLimited++
	d.mu.Unlock()
	metrics.RateLimitedTotal.Inc()
}

func (d *Dispatcher) NoteAggregated() {
	d.mu.Lock()
	d.aggregated++
	d.mu.Unlock()
	metrics.AggregatedTotal.Inc()
}

// NotePattern tracks the strongest signals seen so far for the stats surface.
func (d *Dispatcher) NotePattern(m model.PatternMatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.Confidence > d.highestConf {
		d.highestConf = m.Confidence
	}
	if d.mostCritical == "" || m.Severity > d.criticalRank ||
		(m.Severity == d.criticalRank && m.Confidence > d.criticalScore) {
		d.mostCritical = m.PatternID
		d.criticalRank = m.Severity
		d.criticalScore = m.Confidence
	}
}

// StatsInto copies the dispatcher counters into the engine stats snapshot.
func (d *Dispatcher) StatsInto(stats *model.EngineStats) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats.AlertsTotal = d.total
	stats.RateLimited = d.rateLimited
	stats.Aggregated = d.aggregated
	stats.HighestConfidence = d.highestConf
	stats.MostCriticalPattern = d.mostCritical
	stats.AlertsByType = make(map[string]int, len(d.byType))
	for k, v := range d.byType {
		stats.AlertsByType[k] = v
	}
	stats.AlertsByLevel = make(map[string]int, len(d.byLevel))
	for k, v := range d.byLevel {
		stats.AlertsByLevel[k] = v
	}
}

func (d *Dispatcher) ResetCounters() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total = 0
	d.byType = make(map[string]int)
	d.byLevel = make(map[string]int)
	d.rateLimited = 0
	d.aggregated = 0
	d.highestConf = 0
	d.mostCritical = ""
	d.criticalRank = 0
	d.criticalScore = 0
}
