package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no job has the given id.
var ErrNotFound = errors.New("job not found")

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Save(ctx context.Context, j *Job) error
	List(ctx context.Context, limit int) ([]*Job, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, j *Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, source_ref, status, safe_mode, policy_rejections, failed_stage, error_kind, error, dir, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.SourceRef, string(j.Status), boolToInt(j.SafeMode), j.PolicyRejections,
		nullString(j.FailedStage), nullString(j.ErrorKind), nullString(j.Error), j.Dir,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if err := writeStages(ctx, tx, j); err != nil {
		return err
	}
	return tx.Commit()
}

// Save persists the job row and every stage row in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, j *Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, safe_mode = ?, policy_rejections = ?, failed_stage = ?, error_kind = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, string(j.Status), boolToInt(j.SafeMode), j.PolicyRejections,
		nullString(j.FailedStage), nullString(j.ErrorKind), nullString(j.Error), formatTime(j.UpdatedAt), j.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := writeStages(ctx, tx, j); err != nil {
		return err
	}
	return tx.Commit()
}

func writeStages(ctx context.Context, tx *sql.Tx, j *Job) error {
	for i, s := range j.Stages {
		var meta sql.NullString
		if len(s.Meta) > 0 {
			raw, err := json.Marshal(s.Meta)
			if err != nil {
				return fmt.Errorf("marshal stage meta: %w", err)
			}
			meta = sql.NullString{String: string(raw), Valid: true}
		}
		var completedAt sql.NullString
		if s.CompletedAt != nil {
			completedAt = sql.NullString{String: formatTime(*s.CompletedAt), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO job_stages (job_id, position, name, completed, artifact, meta, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id, name) DO UPDATE SET
				position = excluded.position,
				completed = excluded.completed,
				artifact = excluded.artifact,
				meta = excluded.meta,
				completed_at = excluded.completed_at
		`, j.ID, i, s.Name, boolToInt(s.Completed), nullString(s.Artifact), meta, completedAt)
		if err != nil {
			return fmt.Errorf("upsert stage %s: %w", s.Name, err)
		}
	}
	return nil
}

const jobColumns = `id, source_ref, status, safe_mode, policy_rejections, failed_stage, error_kind, error, dir, created_at, updated_at`

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadStages(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

// ListByStatus returns jobs in status, oldest first.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) collect(ctx context.Context, rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, j := range jobs {
		if err := r.loadStages(ctx, j); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (r *SQLiteRepository) loadStages(ctx context.Context, j *Job) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, completed, artifact, meta, completed_at
		FROM job_stages WHERE job_id = ? ORDER BY position
	`, j.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[string]StageState)
	for rows.Next() {
		var s StageState
		var completed int
		var artifact, meta, completedAt sql.NullString
		if err := rows.Scan(&s.Name, &completed, &artifact, &meta, &completedAt); err != nil {
			return err
		}
		s.Completed = completed == 1
		s.Artifact = artifact.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &s.Meta); err != nil {
				return fmt.Errorf("decode stage meta %s: %w", s.Name, err)
			}
		}
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			s.CompletedAt = &t
		}
		byName[s.Name] = s
	}
	if err := rows.Err(); err != nil {
		return err
	}

	j.Stages = make([]StageState, len(StageOrder))
	for i, name := range StageOrder {
		if s, ok := byName[name]; ok {
			j.Stages[i] = s
		} else {
			j.Stages[i] = StageState{Name: name}
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var status string
	var safeMode int
	var failedStage, errorKind, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.SourceRef, &status, &safeMode, &j.PolicyRejections,
		&failedStage, &errorKind, &errMsg, &j.Dir, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.SafeMode = safeMode == 1
	j.FailedStage = failedStage.String
	j.ErrorKind = errorKind.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
