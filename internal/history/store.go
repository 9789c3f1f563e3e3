package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/engine"
)

const outputExcerptLimit = 500

// Store persists terminal jobs in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path. ":memory:" is supported.
func Open(path string) (*Store, error) {
	dsn := path + "?_timeout=5000"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		state TEXT NOT NULL,
		return_code INTEGER,
		error_detail TEXT NOT NULL DEFAULT '',
		output_excerpt TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record stores one terminal job, replacing an earlier row with the same id.
func (s *Store) Record(ctx context.Context, job domain.Job) error {
	if !job.State.IsTerminal() {
		return fmt.Errorf("job %s is not terminal: %s", job.ID, job.State)
	}

	query := `
		INSERT OR REPLACE INTO jobs (id, command, state, return_code, error_detail, output_excerpt, elapsed_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var returnCode, finishedAt interface{}
	if job.ReturnCode != nil {
		returnCode = *job.ReturnCode
	}
	if job.FinishedAt != nil {
		finishedAt = job.FinishedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Command,
		string(job.State),
		returnCode,
		job.ErrorDetail,
		engine.Tail(job.Output, outputExcerptLimit),
		job.LastProgress.ElapsedTime,
		job.StartedAt.UnixMilli(),
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// Recent returns up to limit jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, command, state, return_code, error_detail, output_excerpt, elapsed_ms, started_at, finished_at
		FROM jobs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var (
			job        domain.Job
			state      string
			returnCode sql.NullInt64
			startedAt  int64
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(
			&job.ID,
			&job.Command,
			&state,
			&returnCode,
			&job.ErrorDetail,
			&job.Output,
			&job.LastProgress.ElapsedTime,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		job.State = domain.JobState(state)
		job.StartedAt = time.UnixMilli(startedAt).UTC()
		if returnCode.Valid {
			rc := int(returnCode.Int64)
			job.ReturnCode = &rc
		}
		if finishedAt.Valid {
			ts := time.UnixMilli(finishedAt.Int64).UTC()
			job.FinishedAt = &ts
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
