package pipeline

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/report"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore persists job snapshots so finished results survive restarts.
// The in-memory batch (Models, ReferenceModels) is not persisted.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
	owned  bool
}

var _ JobStore = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore applies the schema to db. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB, logger logging.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, logger: logger.With(logging.Field{Key: "component", Value: "job_store"})}, nil
}

// applySchema sets pragmas and creates tables.
func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

type jobRow struct {
	projects, refs, services string
	errJSON, resultJSON      sql.NullString
}

func encodeJob(j *Job) (jobRow, error) {
	var r jobRow
	enc := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	var err error
	if r.projects, err = enc(nonNilStrings(j.Projects)); err != nil {
		return r, err
	}
	if r.refs, err = enc(nonNilStrings(j.References)); err != nil {
		return r, err
	}
	if r.services, err = enc(nonNilStrings(j.Services)); err != nil {
		return r, err
	}
	if j.Error != nil {
		s, err := enc(j.Error)
		if err != nil {
			return r, err
		}
		r.errJSON = sql.NullString{String: s, Valid: true}
	}
	if j.Result != nil {
		s, err := enc(j.Result)
		if err != nil {
			return r, err
		}
		r.resultJSON = sql.NullString{String: s, Valid: true}
	}
	return r, nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	r, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, version, projects, refs, services, error, result, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO NOTHING`,
		job.ID, string(job.Status), job.Version, r.projects, r.refs, r.services, r.errJSON, r.resultJSON,
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) Publish(ctx context.Context, next *Job) error {
	r, err := encodeJob(next)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET status = ?, version = ?, services = ?, error = ?, result = ?, updated_at = ?
         WHERE id = ? AND version = ?`,
		string(next.Status), next.Version, r.services, r.errJSON, r.resultJSON, next.UpdatedAt.UnixNano(),
		next.ID, next.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, next.ID); err != nil {
		return err
	}
	return ErrConflict
}

const selectJob = `SELECT id, status, version, projects, refs, services, error, result, created_at, updated_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scan(row scanner) (*Job, error) {
	var (
		j                  Job
		status             string
		r                  jobRow
		createdAt, updated int64
	)
	if err := row.Scan(&j.ID, &status, &j.Version, &r.projects, &r.refs, &r.services,
		&r.errJSON, &r.resultJSON, &createdAt, &updated); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.CreatedAt = time.Unix(0, createdAt).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()

	if err := json.Unmarshal([]byte(r.projects), &j.Projects); err != nil {
		return nil, fmt.Errorf("decode projects of %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(r.refs), &j.References); err != nil {
		return nil, fmt.Errorf("decode references of %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(r.services), &j.Services); err != nil {
		return nil, fmt.Errorf("decode services of %s: %w", j.ID, err)
	}
	if r.errJSON.Valid {
		j.Error = &ErrorDetail{}
		if err := json.Unmarshal([]byte(r.errJSON.String), j.Error); err != nil {
			return nil, fmt.Errorf("decode error of %s: %w", j.ID, err)
		}
	}
	if r.resultJSON.Valid {
		j.Result = &report.AnalysisResult{}
		if err := json.Unmarshal([]byte(r.resultJSON.String), j.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	j, err := s.scan(s.db.QueryRowContext(ctx, selectJob+` WHERE id = ? LIMIT 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecoverInterrupted marks jobs left non-terminal by a previous process as
// ERROR. Their in-memory batch is gone, so they can never finish.
func (s *SQLiteStore) RecoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		next, err := j.failed(ErrorDetail{Kind: KindTimeout, Message: "interrupted by restart"}, now)
		if err != nil {
			return n, err
		}
		if err := s.Publish(ctx, next); err != nil {
			return n, err
		}
		s.logger.Warn("recovered interrupted job", logging.Field{Key: "analysis_id", Value: j.ID})
		n++
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
