// Package journal persists scan runs, their points and the motions that
// produced them in a local sqlite database.
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/monitoring"
	"github.com/banshee-data/scanbench/internal/scan"
)

var logf = monitoring.Logger("journal")

// ErrNotFound is returned when a scan id is unknown.
var ErrNotFound = errors.New("journal: not found")

// Store is the sqlite run journal.
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the journal at path and brings its schema
// up to date.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal %s: %w", path, err)
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path is the database file the store was opened on.
func (s *Store) Path() string { return s.path }

// ScanRecord is one row of the scans table.
type ScanRecord struct {
	ID             string     `json:"scan_id"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	ExpectedPoints int        `json:"expected_points"`
	PointCount     int        `json:"point_count"`
	ConfigJSON     string     `json:"config_json,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// PointRecord is one averaged point of a scan.
type PointRecord struct {
	ScanID      string    `json:"scan_id"`
	Index       int       `json:"point_index"`
	X           float64   `json:"x_mm"`
	Y           float64   `json:"y_mm"`
	Mean        []float64 `json:"mean"`
	StdDev      []float64 `json:"std_dev"`
	SampleCount int       `json:"sample_count"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// Result converts the row back into the executor's point type.
func (p PointRecord) Result() scan.PointResult {
	return scan.PointResult{
		Index:       p.Index,
		Position:    geom.Position2D{X: p.X, Y: p.Y},
		Mean:        p.Mean,
		StdDev:      p.StdDev,
		SampleCount: p.SampleCount,
		Timestamp:   p.AcquiredAt,
	}
}

// MotionRecord is one row of the motion log.
type MotionRecord struct {
	ID         string   `json:"motion_id"`
	TargetX    *float64 `json:"target_x_mm,omitempty"`
	TargetY    *float64 `json:"target_y_mm,omitempty"`
	Status     string   `json:"status"`
	DurationMs *float64 `json:"duration_ms,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// InsertScan records a newly started scan.
func (s *Store) InsertScan(r ScanRecord) error {
	_, err := s.Exec(
		`INSERT INTO scans (
			scan_id, kind, status, expected_points, config_json, started_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Status, r.ExpectedPoints, r.ConfigJSON, r.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert scan %s: %w", r.ID, err)
	}
	return nil
}

// SetStatus updates the status of a scan that has not finished.
func (s *Store) SetStatus(scanID, status string) error {
	return s.expectOne(s.Exec(
		`UPDATE scans SET status = ? WHERE scan_id = ?`, status, scanID))
}

// FinishScan stamps the terminal status and reason.
func (s *Store) FinishScan(scanID, status, reason string, at time.Time) error {
	return s.expectOne(s.Exec(
		`UPDATE scans
		 SET status = ?, reason = ?, finished_unix_nanos = ?
		 WHERE scan_id = ?`,
		status, nullIfEmpty(reason), at.UnixNano(), scanID))
}

// InsertPoint stores one averaged point and bumps the scan's point count.
func (s *Store) InsertPoint(p PointRecord) error {
	mean, err := json.Marshal(p.Mean)
	if err != nil {
		return fmt.Errorf("marshal mean: %w", err)
	}
	std, err := json.Marshal(p.StdDev)
	if err != nil {
		return fmt.Errorf("marshal std dev: %w", err)
	}

	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO scan_points (
			scan_id, point_index, x_mm, y_mm, mean_json, std_dev_json,
			sample_count, acquired_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ScanID, p.Index, p.X, p.Y, string(mean), string(std),
		p.SampleCount, p.AcquiredAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert point %s/%d: %w", p.ScanID, p.Index, err)
	}
	if _, err := tx.Exec(
		`UPDATE scans SET point_count = point_count + 1 WHERE scan_id = ?`, p.ScanID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Scan returns one scan by id.
func (s *Store) Scan(id string) (ScanRecord, error) {
	row := s.QueryRow(scanSelect+` WHERE scan_id = ?`, id)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScanRecord{}, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	return r, err
}

// Scans returns the most recently started scans, newest first. limit <= 0
// returns all of them.
func (s *Store) Scans(limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.Query(scanSelect+` ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Points returns the points of a scan in acquisition order.
func (s *Store) Points(scanID string) ([]PointRecord, error) {
	rows, err := s.Query(
		`SELECT point_index, x_mm, y_mm, mean_json, std_dev_json, sample_count, acquired_unix_nanos
		 FROM scan_points WHERE scan_id = ? ORDER BY point_index`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PointRecord
	for rows.Next() {
		p := PointRecord{ScanID: scanID}
		var mean, std string
		var acquired int64
		if err := rows.Scan(&p.Index, &p.X, &p.Y, &mean, &std, &p.SampleCount, &acquired); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mean), &p.Mean); err != nil {
			return nil, fmt.Errorf("point %d mean: %w", p.Index, err)
		}
		if err := json.Unmarshal([]byte(std), &p.StdDev); err != nil {
			return nil, fmt.Errorf("point %d std dev: %w", p.Index, err)
		}
		p.AcquiredAt = time.Unix(0, acquired).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordMotionStarted inserts a motion in the EXECUTING state.
func (s *Store) RecordMotionStarted(id string, x, y float64, at time.Time) error {
	_, err := s.Exec(
		`INSERT INTO motion_log (motion_id, target_x_mm, target_y_mm, status, started_unix_nanos)
		 VALUES (?, ?, ?, 'EXECUTING', ?)
		 ON CONFLICT(motion_id) DO UPDATE SET
		   target_x_mm = excluded.target_x_mm,
		   target_y_mm = excluded.target_y_mm,
		   status = excluded.status,
		   started_unix_nanos = excluded.started_unix_nanos`,
		id, x, y, at.UnixNano())
	return err
}

// RecordMotionFinished stamps a motion COMPLETED or FAILED. Motions that
// failed before they started get a row without a target.
func (s *Store) RecordMotionFinished(id, status string, durationMs *float64, errMsg string) error {
	_, err := s.Exec(
		`INSERT INTO motion_log (motion_id, status, duration_ms, error)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(motion_id) DO UPDATE SET
		   status = excluded.status,
		   duration_ms = excluded.duration_ms,
		   error = excluded.error`,
		id, status, durationMs, nullIfEmpty(errMsg))
	return err
}

// Motion returns one motion log row.
func (s *Store) Motion(id string) (MotionRecord, error) {
	var r MotionRecord
	var errMsg sql.NullString
	err := s.QueryRow(
		`SELECT motion_id, target_x_mm, target_y_mm, status, duration_ms, error
		 FROM motion_log WHERE motion_id = ?`, id,
	).Scan(&r.ID, &r.TargetX, &r.TargetY, &r.Status, &r.DurationMs, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return MotionRecord{}, fmt.Errorf("motion %s: %w", id, ErrNotFound)
	}
	r.Error = errMsg.String
	return r, err
}

const scanSelect = `SELECT scan_id, kind, status, expected_points, point_count,
	config_json, started_unix_nanos, finished_unix_nanos, reason FROM scans`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (ScanRecord, error) {
	var r ScanRecord
	var cfg, reason sql.NullString
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&r.ID, &r.Kind, &r.Status, &r.ExpectedPoints, &r.PointCount,
		&cfg, &started, &finished, &reason); err != nil {
		return ScanRecord{}, err
	}
	r.ConfigJSON = cfg.String
	r.Reason = reason.String
	r.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *Store) expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
