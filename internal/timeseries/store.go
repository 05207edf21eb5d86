// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package timeseries stores per-device sensor readings in DuckDB and serves
// the aggregated series behind the dashboard charts.
package timeseries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/letterbox/internal/models"
)

// Point is one reading.
type Point struct {
	Time      time.Time
	State     models.BoxState
	Sensor    *float64
	Threshold *float64
	TempC     *float64
	Voltage   *float64
	RSSI      *float64
	SNR       *float64
}

// Bucket is the aggregate of the points within one step.
type Bucket struct {
	Start     time.Time
	Sensor    *float64
	Threshold *float64
	TempC     *float64
	Voltage   *float64
	RSSI      *float64
	// Full is the share of full-side readings, from 0 to 1.
	Full float64
	// Edges counts filled and emptied readings.
	Edges int
}

const schema = `
CREATE TABLE IF NOT EXISTS points (
	ts        TIMESTAMP PRIMARY KEY,
	state     VARCHAR NOT NULL,
	sensor    DOUBLE,
	threshold DOUBLE,
	temp_c    DOUBLE,
	voltage   DOUBLE,
	rssi      DOUBLE,
	snr       DOUBLE
)`

const insertPoint = `INSERT OR REPLACE INTO points
	(ts, state, sensor, threshold, temp_c, voltage, rssi, snr)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Store is one DuckDB database file.
type Store struct {
	conn    *sql.DB
	path    string
	created bool
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	created := false
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			created = true
		}
	} else {
		created = true
	}

	// Extensions are neither needed nor allowed to download.
	connStr := path + "?access_mode=read_write&threads=1&autoinstall_known_extensions=false&autoload_known_extensions=false"
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps an in-memory database shared by all calls.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{conn: conn, path: path, created: created}, nil
}

// Created reports whether Open created the database file.
func (s *Store) Created() bool {
	return s.created
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Insert stores p, replacing a point with the same time.
func (s *Store) Insert(ctx context.Context, p Point) error {
	_, err := s.conn.ExecContext(ctx, insertPoint, pointArgs(p)...)
	if err != nil {
		return fmt.Errorf("insert point: %w", err)
	}
	return nil
}

// InsertBatch stores points in one transaction.
func (s *Store) InsertBatch(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertPoint)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, pointArgs(p)...); err != nil {
			return fmt.Errorf("insert point %s: %w", p.Time.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func pointArgs(p Point) []interface{} {
	return []interface{}{
		p.Time.UTC(), string(p.State),
		nullable(p.Sensor), nullable(p.Threshold), nullable(p.TempC),
		nullable(p.Voltage), nullable(p.RSSI), nullable(p.SNR),
	}
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Count returns the number of stored points.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM points`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}

// Range returns the points in [from, to) ordered by time.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]Point, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT ts, state, sensor, threshold, temp_c, voltage, rssi, snr
		FROM points WHERE ts >= ? AND ts < ? ORDER BY ts`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			p                                            Point
			state                                        string
			sensor, threshold, tempC, voltage, rssi, snr sql.NullFloat64
		)
		if err := rows.Scan(&p.Time, &state, &sensor, &threshold, &tempC, &voltage, &rssi, &snr); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.State = models.BoxState(state)
		p.Sensor, p.Threshold, p.TempC = ptr(sensor), ptr(threshold), ptr(tempC)
		p.Voltage, p.RSSI, p.SNR = ptr(voltage), ptr(rssi), ptr(snr)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Buckets aggregates the points in [from, to) into steps of step, skipping
// empty steps.
func (s *Store) Buckets(ctx context.Context, from, to time.Time, step time.Duration) ([]Bucket, error) {
	secs := int64(step / time.Second)
	if secs <= 0 {
		return nil, fmt.Errorf("bucket step %s is below one second", step)
	}
	// The step is an integer, so formatting it into the statement is safe.
	query := fmt.Sprintf(`
		SELECT
			CAST(floor(epoch(ts) / %[1]d) AS BIGINT) * %[1]d AS bucket,
			avg(sensor), avg(threshold), avg(temp_c), avg(voltage), avg(rssi),
			CAST(avg(CASE WHEN state IN ('full', 'filled') THEN 1 ELSE 0 END) AS DOUBLE),
			count(*) FILTER (WHERE state IN ('filled', 'emptied'))
		FROM points
		WHERE ts >= ? AND ts < ?
		GROUP BY bucket
		ORDER BY bucket`, secs)
	rows, err := s.conn.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var (
			start                                   int64
			sensor, threshold, tempC, voltage, rssi sql.NullFloat64
			b                                       Bucket
		)
		if err := rows.Scan(&start, &sensor, &threshold, &tempC, &voltage, &rssi, &b.Full, &b.Edges); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.Start = time.Unix(start, 0).UTC()
		b.Sensor, b.Threshold, b.TempC = ptr(sensor), ptr(threshold), ptr(tempC)
		b.Voltage, b.RSSI = ptr(voltage), ptr(rssi)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Bounds returns the times of the first and last point. ok is false for an
// empty store.
func (s *Store) Bounds(ctx context.Context) (first, last time.Time, ok bool, err error) {
	var minTS, maxTS sql.NullTime
	if err := s.conn.QueryRowContext(ctx, `SELECT min(ts), max(ts) FROM points`).Scan(&minTS, &maxTS); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("query bounds: %w", err)
	}
	if !minTS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return minTS.Time.UTC(), maxTS.Time.UTC(), true, nil
}
