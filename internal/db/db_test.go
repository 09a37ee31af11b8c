package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	database, err := New(path, nil)
	if err != nil {
		t.Fatalf("New(%s) error = %v", path, err)
	}
	return database
}

func TestNew_SchemaAndPragmas(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "nested", "agent.db"))
	defer database.Close()

	for _, table := range []string{"jobs", "job_stages", "dedup", "config", "schema_migrations"} {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	pragmas := []struct {
		query string
		want  string
	}{
		{"PRAGMA journal_mode", "wal"},
		{"PRAGMA foreign_keys", "1"},
		{"PRAGMA busy_timeout", "5000"},
	}
	for _, p := range pragmas {
		var got string
		if err := database.Conn().QueryRow(p.query).Scan(&got); err != nil {
			t.Fatalf("%s error = %v", p.query, err)
		}
		if strings.ToLower(got) != p.want {
			t.Errorf("%s = %s, want %s", p.query, got, p.want)
		}
	}
}

func TestNew_MigrationsAppliedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	first := openTestDB(t, path)
	first.Close()

	second := openTestDB(t, path)
	defer second.Close()

	var count int
	if err := second.Conn().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestNew_RecoversInterruptedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	first := openTestDB(t, path)
	stmts := []string{
		`INSERT INTO jobs (id, source_ref, status, dir, created_at, updated_at)
		 VALUES ('j-run', 'reddit:abc123', 'running', '/tmp/j-run', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`,
		`INSERT INTO jobs (id, source_ref, status, dir, created_at, updated_at)
		 VALUES ('j-done', 'reddit:def456', 'completed', '/tmp/j-done', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`,
		`INSERT INTO job_stages (job_id, position, name, completed) VALUES
		 ('j-run', 0, 'ingest', 1), ('j-run', 1, 'classify', 1), ('j-run', 2, 'script-generate', 0), ('j-run', 3, 'policy-check', 0)`,
	}
	for _, stmt := range stmts {
		if _, err := first.Conn().Exec(stmt); err != nil {
			t.Fatalf("seed error = %v", err)
		}
	}
	first.Close()

	second := openTestDB(t, path)
	defer second.Close()

	tests := []struct {
		id         string
		wantStatus string
		wantStage  string
	}{
		{"j-run", "stage_failed", "script-generate"},
		{"j-done", "completed", ""},
	}
	for _, tt := range tests {
		var status, stage, msg string
		err := second.Conn().QueryRow(
			"SELECT status, COALESCE(failed_stage, ''), COALESCE(error, '') FROM jobs WHERE id = ?", tt.id,
		).Scan(&status, &stage, &msg)
		if err != nil {
			t.Fatalf("query %s error = %v", tt.id, err)
		}
		if status != tt.wantStatus || stage != tt.wantStage {
			t.Errorf("%s: status=%s failed_stage=%s, want %s/%s", tt.id, status, stage, tt.wantStatus, tt.wantStage)
		}
		if tt.wantStatus == "stage_failed" && msg != "interrupted by restart" {
			t.Errorf("%s: error = %q", tt.id, msg)
		}
	}
}
