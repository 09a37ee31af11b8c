package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps records in the agent database's dedup table.
type SQLiteStore struct {
	db     *sql.DB
	window time.Duration
}

func NewSQLiteStore(db *sql.DB, window time.Duration) *SQLiteStore {
	return &SQLiteStore{db: db, window: windowOrDefault(window)}
}

func (s *SQLiteStore) Claim(ctx context.Context, ref, jobID string, now time.Time) (bool, *Record, error) {
	cutoff := now.Add(-s.window).Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup (source_ref, job_id, processed_at) VALUES (?, ?, ?)
		ON CONFLICT(source_ref) DO UPDATE SET
			job_id = excluded.job_id,
			processed_at = excluded.processed_at
		WHERE dedup.processed_at < ?
	`, ref, jobID, now.Unix(), cutoff)
	if err != nil {
		return false, nil, fmt.Errorf("claim %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if n > 0 {
		return true, nil, nil
	}
	existing, err := s.Lookup(ctx, ref, now)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *SQLiteStore) Release(ctx context.Context, ref string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE source_ref = ?`, ref)
	return err
}

func (s *SQLiteStore) Lookup(ctx context.Context, ref string, now time.Time) (*Record, error) {
	var r Record
	var processedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT source_ref, job_id, processed_at FROM dedup WHERE source_ref = ? AND processed_at >= ?`,
		ref, now.Add(-s.window).Unix(),
	).Scan(&r.SourceRef, &r.JobID, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.ProcessedAt = time.Unix(processedAt, 0).UTC()
	return &r, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE processed_at < ?`, now.Add(-s.window).Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	rows, err := s.db.QueryContext(ctx, `SELECT processed_at FROM dedup`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return st, err
		}
		st.bucket(time.Unix(ts, 0).In(now.Location()), now)
	}
	return st, rows.Err()
}

// Close is a no-op; the database handle belongs to the caller.
func (s *SQLiteStore) Close() error { return nil }
