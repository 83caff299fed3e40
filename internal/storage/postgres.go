package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crashguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/crashguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL UNIQUE,
			ts TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			level TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			device_id TEXT NOT NULL,
			crash_type TEXT,
			app_id TEXT,
			severity TEXT NOT NULL,
			crash_count INTEGER NOT NULL,
			window_minutes INTEGER NOT NULL,
			metadata_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS pattern_matches (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			pattern_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			frequency INTEGER NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			correlation DOUBLE PRECISION NOT NULL,
			temporal DOUBLE PRECISION NOT NULL,
			severity TEXT NOT NULL,
			urgency INTEGER NOT NULL,
			evidence_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_pattern ON pattern_matches(pattern_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, ts, type, level, title, message, device_id, crash_type, app_id, severity, crash_count, window_minutes, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (alert_id) DO NOTHING`,
		alert.AlertID,
		alert.Timestamp.UTC(),
		alert.Type,
		alert.Level.String(),
		alert.Title,
		alert.Message,
		alert.DeviceID,
		alert.CrashType,
		alert.AppID,
		alert.Severity.String(),
		alert.CrashCount,
		alert.WindowMinutes,
		encodeJSON(alert.Metadata),
	)
	return err
}

func (s *postgresStore) SavePatternMatch(ctx context.Context, match model.PatternMatch) error {
	if s.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pattern_matches (ts, pattern_id, kind, frequency, confidence, correlation, temporal, severity, urgency, evidence_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		match.DetectedAt.UTC(),
		match.PatternID,
		string(match.Kind),
		match.Frequency,
		match.Confidence,
		match.Correlation,
		match.Temporal,
		match.Severity.String(),
		match.Urgency,
		encodeJSON(match.Evidence),
	)
	return err
}
