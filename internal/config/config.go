package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultDeviceID string `json:"default_device_id" yaml:"default_device_id"`
}

type DetectionConfig struct {
	BufferSize          int             `json:"buffer_size" yaml:"buffer_size"`
	AnalysisWindow      time.Duration   `json:"analysis_window" yaml:"analysis_window"`
	MinConfidence       float64         `json:"min_confidence" yaml:"min_confidence"`
	MinPatternFrequency int             `json:"min_pattern_frequency" yaml:"min_pattern_frequency"`
	BurstThreshold      int             `json:"burst_threshold" yaml:"burst_threshold"`
	BurstCriticalCount  int             `json:"burst_critical_count" yaml:"burst_critical_count"`
	CascadeOverlap      float64         `json:"cascade_overlap_threshold" yaml:"cascade_overlap_threshold"`
	CascadeMinConf      float64         `json:"cascade_min_confidence" yaml:"cascade_min_confidence"`
	PatternTTL          time.Duration   `json:"pattern_ttl" yaml:"pattern_ttl"`
	PollInterval        time.Duration   `json:"poll_interval" yaml:"poll_interval"`
	Patterns            []PatternConfig `json:"patterns" yaml:"patterns"`
}

// PatternConfig describes an operator-supplied pattern definition that is
// compiled into the catalog alongside the builtin set.
type PatternConfig struct {
	ID                string            `json:"id" yaml:"id"`
	Title             string            `json:"title" yaml:"title"`
	Severity          string            `json:"severity" yaml:"severity"`
	CorrelationWindow time.Duration     `json:"correlation_window" yaml:"correlation_window"`
	Primary           []IndicatorConfig `json:"primary" yaml:"primary"`
	Secondary         []IndicatorConfig `json:"secondary" yaml:"secondary"`
}

type IndicatorConfig struct {
	Match  string  `json:"match" yaml:"match"`
	Regex  bool    `json:"regex" yaml:"regex"`
	Weight float64 `json:"weight" yaml:"weight"`
}

type AlertingConfig struct {
	Rules             map[string]AlertRuleConfig `json:"rules" yaml:"rules"`
	AggregationWindow time.Duration              `json:"aggregation_window" yaml:"aggregation_window"`
	AggregationMax    int                        `json:"aggregation_max" yaml:"aggregation_max"`
	RateLimiterTTL    time.Duration              `json:"rate_limiter_ttl" yaml:"rate_limiter_ttl"`
}

// AlertRuleConfig overrides the per-severity alert rule; keys of
// AlertingConfig.Rules are severity names (low/medium/high/critical).
type AlertRuleConfig struct {
	MinConfidence    float64       `json:"min_confidence" yaml:"min_confidence"`
	MinFrequency     int           `json:"min_frequency" yaml:"min_frequency"`
	Level            string        `json:"alert_level" yaml:"alert_level"`
	RateLimit        time.Duration `json:"rate_limit" yaml:"rate_limit"`
	CascadeThreshold int           `json:"cascade_threshold" yaml:"cascade_threshold"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC", DefaultDeviceID: "unknown"},
		},
		Detection: DetectionConfig{
			BufferSize:          1000,
			AnalysisWindow:      10 * time.Minute,
			MinConfidence:       0.5,
			MinPatternFrequency: 3,
			BurstThreshold:      5,
			BurstCriticalCount:  20,
			CascadeOverlap:      0.5,
			CascadeMinConf:      0.7,
			PatternTTL:          1 * time.Hour,
			PollInterval:        500 * time.Millisecond,
		},
		Alerting: AlertingConfig{
			AggregationWindow: 5 * time.Minute,
			AggregationMax:    5,
			RateLimiterTTL:    24 * time.Hour,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:crashguard.db?_pragma=busy_timeout(5000)"},
		Audit:   AuditConfig{Enabled: true, Dir: "alerts"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 1000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultDeviceID == "" {
		cfg.Ingest.Parser.DefaultDeviceID = "unknown"
	}
	if cfg.Detection.BufferSize <= 0 {
		cfg.Detection.BufferSize = 1000
	}
	if cfg.Detection.AnalysisWindow <= 0 {
		cfg.Detection.AnalysisWindow = 10 * time.Minute
	}
	if cfg.Detection.MinPatternFrequency <= 0 {
		cfg.Detection.MinPatternFrequency = 3
	}
	if cfg.Detection.BurstThreshold <= 0 {
		cfg.Detection.BurstThreshold = 5
	}
	if cfg.Detection.BurstCriticalCount <= 0 {
		cfg.Detection.BurstCriticalCount = 20
	}
	if cfg.Detection.CascadeOverlap <= 0 {
		cfg.Detection.CascadeOverlap = 0.5
	}
	if cfg.Detection.CascadeMinConf <= 0 {
		cfg.Detection.CascadeMinConf = 0.7
	}
	if cfg.Detection.PatternTTL <= 0 {
		cfg.Detection.PatternTTL = 1 * time.Hour
	}
	if cfg.Detection.PollInterval <= 0 {
		cfg.Detection.PollInterval = 500 * time.Millisecond
	}
	if cfg.Alerting.AggregationWindow <= 0 {
		cfg.Alerting.AggregationWindow = 5 * time.Minute
	}
	if cfg.Alerting.AggregationMax <= 0 {
		cfg.Alerting.AggregationMax = 5
	}
	if cfg.Alerting.RateLimiterTTL <= 0 {
		cfg.Alerting.RateLimiterTTL = 24 * time.Hour
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = "alerts"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Detection.MinConfidence < 0 || cfg.Detection.MinConfidence > 1 {
		return errors.New("detection.min_confidence must be in [0,1]")
	}
	if cfg.Detection.CascadeOverlap > 1 {
		return errors.New("detection.cascade_overlap_threshold must be in (0,1]")
	}
	for severity, rule := range cfg.Alerting.Rules {
		if _, err := parseSeverityKey(severity); err != nil {
			return err
		}
		if rule.MinConfidence < 0 || rule.MinConfidence > 1 {
			return fmt.Errorf("alerting.rules.%s.min_confidence must be in [0,1]", severity)
		}
	}
	for _, p := range cfg.Detection.Patterns {
		if p.ID == "" {
			return errors.New("detection.patterns entries require an id")
		}
		if len(p.Primary) == 0 {
			return fmt.Errorf("detection.patterns.%s requires at least one primary indicator", p.ID)
		}
	}
	return nil
}

func parseSeverityKey(key string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "low", "medium", "high", "critical":
		return strings.ToLower(strings.TrimSpace(key)), nil
	}
	return "", fmt.Errorf("alerting.rules key %q is not a severity", key)
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file, used by
// tests and by the CLI when no config file is given.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
