package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"daqserver/internal/device"
)

// Store persists session records in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Configured records a newly configured session and returns its id.
func (s *Store) Configured(ctx context.Context, directory string, cfg device.Config) (int64, error) {
	labels, err := json.Marshal(cfg.Labels)
	if err != nil {
		return 0, fmt.Errorf("marshal labels: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (directory, labels_json, device_id, sampling_rate, state, configured_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		directory, string(labels), cfg.DeviceID, cfg.SamplingRate, StateConfigured, s.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Started marks the session running.
func (s *Store) Started(ctx context.Context, id int64) error {
	return s.update(ctx, id, "start",
		`UPDATE sessions SET state = ?, started_at = ? WHERE id = ? AND ended_at IS NULL`,
		StateRunning, s.timestamp(), id)
}

// Stopped marks the session stopped.
func (s *Store) Stopped(ctx context.Context, id int64) error {
	return s.update(ctx, id, "stop",
		`UPDATE sessions SET state = ?, stopped_at = ? WHERE id = ? AND ended_at IS NULL`,
		StateStopped, s.timestamp(), id)
}

// Ended marks the session ended for reason.
func (s *Store) Ended(ctx context.Context, id int64, reason EndReason) error {
	return s.update(ctx, id, "end",
		`UPDATE sessions SET state = ?, ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL`,
		StateEnded, s.timestamp(), reason, id)
}

// ReclaimedDirectory records that the janitor removed directory. Sessions in
// that directory that never ended are ended as reclaimed.
func (s *Store) ReclaimedDirectory(ctx context.Context, directory string) error {
	ts := s.timestamp()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reclaim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, ended_at = ?, end_reason = ? WHERE directory = ? AND ended_at IS NULL`,
		StateEnded, ts, EndReclaimed, directory,
	); err != nil {
		return fmt.Errorf("end reclaimed sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET reclaimed_at = ? WHERE directory = ?`, ts, directory,
	); err != nil {
		return fmt.Errorf("mark reclaimed: %w", err)
	}
	return tx.Commit()
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, directory, labels_json, device_id, sampling_rate, state, configured_at,
                started_at, stopped_at, ended_at, end_reason, reclaimed_at
         FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

// ErrUnknownSession is returned when an update names a record that does not
// exist or has already ended.
var ErrUnknownSession = errors.New("unknown or ended session record")

func (s *Store) update(ctx context.Context, id int64, operation, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s session %d: %w", operation, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s session %d: rows affected: %w", operation, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s session %d: %w", operation, id, ErrUnknownSession)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		record                                   Record
		labels, configured                       string
		started, stopped, ended, reason, reclaim sql.NullString
	)
	if err := row.Scan(
		&record.ID, &record.Directory, &labels, &record.DeviceID, &record.SamplingRate,
		&record.State, &configured, &started, &stopped, &ended, &reason, &reclaim,
	); err != nil {
		return Record{}, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &record.Labels); err != nil {
		return Record{}, fmt.Errorf("decode labels of session %d: %w", record.ID, err)
	}
	var err error
	if record.ConfiguredAt, err = time.Parse(time.RFC3339Nano, configured); err != nil {
		return Record{}, fmt.Errorf("decode configured_at of session %d: %w", record.ID, err)
	}
	record.StartedAt = parseOptionalTime(started)
	record.StoppedAt = parseOptionalTime(stopped)
	record.EndedAt = parseOptionalTime(ended)
	record.ReclaimedAt = parseOptionalTime(reclaim)
	record.EndReason = EndReason(reason.String)
	return record, nil
}

func parseOptionalTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil
	}
	return &parsed
}
