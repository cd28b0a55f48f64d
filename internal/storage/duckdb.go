// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS window_summaries (
	device_id     VARCHAR NOT NULL,
	ts            BIGINT NOT NULL,
	feature_names VARCHAR NOT NULL,
	features      VARCHAR NOT NULL,
	score         DOUBLE NOT NULL,
	model_version VARCHAR NOT NULL,
	recorded_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id            VARCHAR PRIMARY KEY,
	device_id     VARCHAR NOT NULL,
	ts            BIGINT NOT NULL,
	score         DOUBLE NOT NULL,
	model_version VARCHAR NOT NULL,
	confirmation  VARCHAR NOT NULL DEFAULT 'unconfirmed',
	confirmed_by  VARCHAR,
	confirmed_at  TIMESTAMP,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_device_ts ON alerts (device_id, ts);
CREATE TABLE IF NOT EXISTS confirmations (
	device_id    VARCHAR NOT NULL,
	ts           BIGINT NOT NULL,
	confirmed    BOOLEAN NOT NULL,
	operator_id  VARCHAR NOT NULL,
	confirmed_at TIMESTAMP NOT NULL,
	alert_found  BOOLEAN NOT NULL
);`

// DuckDBStore implements detection.Store on an embedded DuckDB file.
type DuckDBStore struct {
	db *sql.DB

	// DuckDB allows one writer per table at a time; concurrent UPDATEs on
	// alerts would abort with a transaction conflict.
	writeMu sync.Mutex
}

// OpenDuckDB opens (or creates) the database at path and applies the
// schema. An empty path or ":memory:" opens an in-memory database.
func OpenDuckDB(path string) (*DuckDBStore, error) {
	dsn := ""
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		dsn = path + "?access_mode=read_write&autoinstall_known_extensions=false&autoload_known_extensions=false"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	s, err := NewDuckDBStore(db)
	if err != nil {
		closeQuietly(db)
		return nil, err
	}

	logging.Info().Str("path", path).Msg("DuckDB store opened")
	return s, nil
}

// NewDuckDBStore wraps an open connection and applies the schema.
func NewDuckDBStore(db *sql.DB) (*DuckDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply duckdb schema: %w", err)
	}
	return &DuckDBStore{db: db}, nil
}

// Ping checks the connection for readiness probes.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// WriteWindowSummary inserts one summary row. Feature names and values are
// stored as JSON arrays so the column order never depends on the channel
// configuration.
func (s *DuckDBStore) WriteWindowSummary(ctx context.Context, sum detection.WindowSummary) error {
	names, err := json.Marshal(sum.FeatureNames)
	if err != nil {
		return fmt.Errorf("%w: encode feature names: %w", detection.ErrPersistence, err)
	}
	values, err := json.Marshal(sum.Features)
	if err != nil {
		return fmt.Errorf("%w: encode features: %w", detection.ErrPersistence, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO window_summaries
			(device_id, ts, feature_names, features, score, model_version, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.DeviceID, sum.Timestamp, string(names), string(values),
		sum.Score, sum.ModelVersion, sum.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert window summary: %w", detection.ErrPersistence, err)
	}
	return nil
}

// WriteAlert inserts an alert. Re-writing the same ID is a no-op so the
// outbox can replay safely.
func (s *DuckDBStore) WriteAlert(ctx context.Context, a *detection.Alert) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts
			(id, device_id, ts, score, model_version, confirmation, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
		a.ID.String(), a.DeviceID, a.Timestamp, a.Score, a.ModelVersion,
		string(a.Confirmation), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert alert: %w", detection.ErrPersistence, err)
	}
	return nil
}

// WriteConfirmation updates matching alerts and records the verdict in one
// transaction.
func (s *DuckDBStore) WriteConfirmation(ctx context.Context, c detection.Confirmation) (detection.Confirmation, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return c, fmt.Errorf("%w: begin confirmation: %w", detection.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx,
		`UPDATE alerts SET confirmation = ?, confirmed_by = ?, confirmed_at = ?
			WHERE device_id = ? AND ts = ?`,
		string(detection.StateFor(c.Confirmed)), c.OperatorID, c.ConfirmedAt,
		c.DeviceID, c.Timestamp,
	)
	if err != nil {
		return c, fmt.Errorf("%w: update alert confirmation: %w", detection.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return c, fmt.Errorf("%w: rows affected: %w", detection.ErrPersistence, err)
	}
	c.AlertFound = n > 0

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO confirmations
			(device_id, ts, confirmed, operator_id, confirmed_at, alert_found)
			VALUES (?, ?, ?, ?, ?, ?)`,
		c.DeviceID, c.Timestamp, c.Confirmed, c.OperatorID, c.ConfirmedAt, c.AlertFound,
	); err != nil {
		return c, fmt.Errorf("%w: insert confirmation: %w", detection.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return c, fmt.Errorf("%w: commit confirmation: %w", detection.ErrPersistence, err)
	}
	return c, nil
}

// ListAlerts returns matching alerts newest first. All filter values are
// bound as parameters.
func (s *DuckDBStore) ListAlerts(ctx context.Context, f detection.AlertFilter) ([]detection.Alert, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, device_id, ts, score, model_version, confirmation,
		confirmed_by, confirmed_at, created_at
		FROM alerts WHERE 1=1`)
	args := make([]interface{}, 0, 3)

	if f.DeviceID != "" {
		b.WriteString(" AND device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.State != "" {
		b.WriteString(" AND confirmation = ?")
		args = append(args, string(f.State))
	}
	b.WriteString(" ORDER BY created_at DESC, ts DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]detection.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountWindowSummaries returns how many summaries exist for deviceID.
func (s *DuckDBStore) CountWindowSummaries(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM window_summaries WHERE device_id = ?`, deviceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count window summaries: %w", err)
	}
	return n, nil
}

func scanAlert(scanner interface {
	Scan(dest ...interface{}) error
}) (detection.Alert, error) {
	var (
		a           detection.Alert
		id, state   string
		confirmedBy sql.NullString
		confirmedAt sql.NullTime
	)
	if err := scanner.Scan(
		&id, &a.DeviceID, &a.Timestamp, &a.Score, &a.ModelVersion, &state,
		&confirmedBy, &confirmedAt, &a.CreatedAt,
	); err != nil {
		return a, fmt.Errorf("scan alert: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return a, fmt.Errorf("scan alert: bad id %q: %w", id, err)
	}
	a.ID = parsed
	a.Confirmation = detection.ConfirmationState(state)
	if confirmedBy.Valid {
		a.ConfirmedBy = confirmedBy.String
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		a.ConfirmedAt = &t
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close database")
	}
}
