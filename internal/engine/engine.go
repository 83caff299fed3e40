package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crashguard/internal/alerts"
	"crashguard/internal/config"
	"crashguard/internal/metrics"
	"crashguard/internal/model"
	"crashguard/internal/pattern"
	"crashguard/internal/storage"
)

// Engine runs the detection pipeline: a single worker dequeues events,
// updates the buffer, evaluates the catalog plus burst and cascade detectors,
// and routes qualifying matches through the alert policy. One mutex guards
// the shared state for each processing step; throughput needs are modest and
// simplicity wins over fine-grained locking.
type Engine struct {
	logger     *slog.Logger
	cfg        atomic.Value
	catalog    *pattern.Catalog
	dispatcher *alerts.Dispatcher
	policy     *alerts.Policy
	recent     *alerts.Store
	devices    *metrics.Store
	store      storage.Store

	queue   chan model.CrashEvent
	stopCh  chan struct{}
	done    chan struct{}
	running atomic.Bool
	stopped atomic.Bool

	processed atomic.Uint64
	dropped   atomic.Uint64

	mu        sync.Mutex
	buffer    *EventBuffer
	active    map[string]model.PatternMatch
	scorer    *pattern.Scorer
	burst     *pattern.BurstDetector
	cascade   *pattern.CascadeDetector
	onPattern func(model.PatternMatch)
	startedAt time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, catalog *pattern.Catalog, devices *metrics.Store, recent *alerts.Store, store storage.Store) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if catalog == nil {
		var err error
		catalog, err = pattern.BuildCatalog(cfg.Detection.Patterns)
		if err != nil {
			return nil, err
		}
	}
	rules, err := alerts.RulesFromConfig(cfg.Alerting.Rules)
	if err != nil {
		return nil, err
	}
	auditDir := ""
	if cfg.Audit.Enabled {
		auditDir = cfg.Audit.Dir
	}
	dispatcher := alerts.NewDispatcher(logger, store, auditDir, recent)
	policy := alerts.NewPolicy(alerts.PolicyOptions{
		Rules:             rules,
		AggregationWindow: cfg.Alerting.AggregationWindow,
		AggregationMax:    cfg.Alerting.AggregationMax,
		RateLimiterTTL:    cfg.Alerting.RateLimiterTTL,
		AnalysisWindowMin: int(cfg.Detection.AnalysisWindow.Minutes()),
	}, dispatcher, logger)

	e := &Engine{
		logger:     logger,
		catalog:    catalog,
		dispatcher: dispatcher,
		policy:     policy,
		recent:     recent,
		devices:    devices,
		store:      store,
		queue:      make(chan model.CrashEvent, cfg.Ingest.ChannelBuffer),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		buffer:     NewEventBuffer(cfg.Detection.BufferSize),
		active:     make(map[string]model.PatternMatch),
		scorer:     pattern.NewScorer(cfg.Detection.MinPatternFrequency, cfg.Detection.MinConfidence),
		burst:      pattern.NewBurstDetector(cfg.Detection.BurstThreshold, cfg.Detection.BurstCriticalCount),
		cascade:    pattern.NewCascadeDetector(cfg.Detection.CascadeOverlap, cfg.Detection.CascadeMinConf),
		startedAt:  time.Now().UTC(),
	}
	e.cfg.Store(cfg)
	return e, nil
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Dispatcher exposes handler registration for alert consumers.
func (e *Engine) Dispatcher() *alerts.Dispatcher {
	return e.dispatcher
}

// Policy exposes the alert policy for runtime rule overrides.
func (e *Engine) Policy() *alerts.Policy {
	return e.policy
}

// OnPattern registers a callback invoked for each fresh pattern match. The
// callback runs on the worker goroutine, like alert handlers.
func (e *Engine) OnPattern(fn func(model.PatternMatch)) {
	e.mu.Lock()
	e.onPattern = fn
	e.mu.Unlock()
}

func (e *Engine) UpdateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	rules, err := alerts.RulesFromConfig(cfg.Alerting.Rules)
	if err != nil {
		return err
	}
	e.cfg.Store(cfg)
	e.policy.UpdateRules(rules)
	e.mu.Lock()
	e.scorer = pattern.NewScorer(cfg.Detection.MinPatternFrequency, cfg.Detection.MinConfidence)
	e.burst = pattern.NewBurstDetector(cfg.Detection.BurstThreshold, cfg.Detection.BurstCriticalCount)
	e.cascade = pattern.NewCascadeDetector(cfg.Detection.CascadeOverlap, cfg.Detection.CascadeMinConf)
	e.mu.Unlock()
	return nil
}

// Start spawns the worker. Calling Start on a running engine is a no-op.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()
	go e.run()
}

// Stop signals the worker and waits up to timeout for it to drain. It is
// idempotent. On timeout the worker is abandoned, not killed; callers must
// assume at most one stale worker on restart.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.running.Load() {
		return nil
	}
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stopCh)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-e.done:
		return nil
	case <-time.After(timeout):
		if e.logger != nil {
			e.logger.Error("worker did not stop within timeout, abandoning", "timeout", timeout)
		}
		return errors.New("worker did not stop within timeout")
	}
}

// AddEvent performs a non-blocking enqueue. When the queue is full the
// oldest pending event is evicted to make room; producers never block. The
// eviction is observable through the dropped counter.
func (e *Engine) AddEvent(ev model.CrashEvent) bool {
	select {
	case e.queue <- ev:
		return true
	default:
	}
	select {
	case <-e.queue:
		e.dropped.Add(1)
		metrics.EventsDropped.Inc()
	default:
	}
	select {
	case e.queue <- ev:
		return true
	default:
		e.dropped.Add(1)
		metrics.EventsDropped.Inc()
		return false
	}
}

func (e *Engine) run() {
	defer close(e.done)
	poll := time.NewTicker(e.config().Detection.PollInterval)
	defer poll.Stop()
	for {
		select {
		case ev := <-e.queue:
			e.handleEvent(ev)
		case <-poll.C:
			e.housekeeping()
		case <-e.stopCh:
			return
		}
	}
}

// handleEvent runs one full processing step. A panic on a single event is
// logged and the loop continues; one bad event must never stop monitoring.
func (e *Engine) handleEvent(ev model.CrashEvent) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Error("panic processing event", "device_id", ev.DeviceID, "panic", fmt.Sprint(r))
		}
	}()

	cfg := e.config()
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.buffer.Append(ev)
	e.processed.Add(1)
	metrics.EventsTotal.Inc()
	metrics.BufferedEvents.Set(float64(e.buffer.Len()))

	window := e.buffer.Window(now.Add(-cfg.Detection.AnalysisWindow))

	fresh := make([]model.PatternMatch, 0, 4)
	newlySeen := make(map[string]bool)
	for _, def := range e.catalog.Definitions() {
		m, ok := e.scorer.Evaluate(def, window, now)
		if !ok {
			continue
		}
		if _, existed := e.active[m.PatternID]; !existed {
			newlySeen[m.PatternID] = true
		}
		e.active[m.PatternID] = m
		fresh = append(fresh, m)
	}
	if m, ok := e.burst.Detect(window, now); ok {
		if _, existed := e.active[m.PatternID]; !existed {
			newlySeen[m.PatternID] = true
		}
		e.active[m.PatternID] = m
		fresh = append(fresh, m)
	}

	for _, m := range e.cascade.Detect(e.activeLocked(), now) {
		_, existed := e.active[m.PatternID]
		e.active[m.PatternID] = m
		if !existed {
			// Cascades bypass rate limiting, so only a newly formed
			// pair dispatches; re-detections just refresh the registry.
			newlySeen[m.PatternID] = true
			fresh = append(fresh, m)
		}
	}
	metrics.ActivePatterns.Set(float64(len(e.active)))

	for _, m := range fresh {
		e.dispatcher.NotePattern(m)
		if e.onPattern != nil {
			e.onPattern(m)
		}
		if e.store != nil && newlySeen[m.PatternID] {
			if err := e.store.SavePatternMatch(context.Background(), m); err != nil && e.logger != nil {
				e.logger.Error("save pattern match", "pattern_id", m.PatternID, "err", err)
			}
		}
		e.policy.Submit(m, now)
	}

	if e.devices != nil {
		e.devices.Update(ev.DeviceID, ev, e.buffer.Rolling(now))
	}
}

// housekeeping runs on the poll tick: evicts stale registry entries, flushes
// due aggregation buckets, and garbage-collects the rate limiter.
func (e *Engine) housekeeping() {
	cfg := e.config()
	now := time.Now().UTC()
	e.mu.Lock()
	for id, m := range e.active {
		if now.Sub(m.DetectedAt) > cfg.Detection.PatternTTL {
			delete(e.active, id)
		}
	}
	metrics.ActivePatterns.Set(float64(len(e.active)))
	e.mu.Unlock()
	e.policy.FlushDue(now)
	e.policy.GC(now)
}

func (e *Engine) activeLocked() []model.PatternMatch {
	out := make([]model.PatternMatch, 0, len(e.active))
	for _, m := range e.active {
		out = append(out, m)
	}
	return out
}

// ActivePatterns returns the registry contents ordered by urgency, then id.
func (e *Engine) ActivePatterns() []model.PatternMatch {
	e.mu.Lock()
	out := e.activeLocked()
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency > out[j].Urgency
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}

func (e *Engine) RecentAlerts(limit int) []model.Alert {
	if e.recent == nil {
		return nil
	}
	return e.recent.List(limit)
}

func (e *Engine) Stats() model.EngineStats {
	now := time.Now().UTC()
	e.mu.Lock()
	stats := model.EngineStats{
		StartedAt:       e.startedAt,
		EventsProcessed: e.processed.Load(),
		EventsDropped:   e.dropped.Load(),
		BufferedEvents:  e.buffer.Len(),
		ActivePatterns:  len(e.active),
		Crashes:         e.buffer.Rolling(now),
	}
	e.mu.Unlock()
	e.dispatcher.StatsInto(&stats)
	return stats
}

// ExportState captures a point-in-time snapshot of stats, active patterns,
// and recent alerts.
func (e *Engine) ExportState() model.Snapshot {
	return model.Snapshot{
		TakenAt:        time.Now().UTC(),
		Stats:          e.Stats(),
		ActivePatterns: e.ActivePatterns(),
		RecentAlerts:   e.RecentAlerts(0),
	}
}

// Reset clears all runtime state; counters, buffer, registry, and policy
// state start over. Configuration and the catalog are untouched.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.buffer.Clear()
	e.active = make(map[string]model.PatternMatch)
	e.mu.Unlock()
	e.processed.Store(0)
	e.dropped.Store(0)
	e.policy.Reset()
	e.dispatcher.ResetCounters()
	if e.recent != nil {
		e.recent.Clear()
	}
	if e.devices != nil {
		e.devices.Clear()
	}
}
