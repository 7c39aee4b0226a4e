package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MimeLyc/cloudml-magic/internal/config"
	"github.com/MimeLyc/cloudml-magic/internal/jobs"
	"github.com/MimeLyc/cloudml-magic/internal/session"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps sessions, their fragments and remote submissions.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ session.Store = (*SQLiteStore)(nil)
	_ jobs.Store    = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// SaveSession upserts the session row and replaces its fragments.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO sessions (id, job_id, settings, staging_dir, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			job_id=excluded.job_id,
			settings=excluded.settings,
			staging_dir=excluded.staging_dir,
			updated_at=excluded.updated_at`,
		sess.ID,
		sess.JobID,
		string(settings),
		sess.StagingDir,
		sess.CreatedAt,
		sess.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear fragments: %w", err)
	}
	for _, f := range sess.Fragments {
		if err := insertFragment(ctx, tx, sess.ID, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendFragment(ctx context.Context, sessionID string, f session.Fragment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, f.CreatedAt, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if err := insertFragment(ctx, tx, sessionID, f); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFragment(ctx context.Context, tx *sql.Tx, sessionID string, f session.Fragment) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO fragments (session_id, seq, kind, code, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID,
		f.Seq,
		string(f.Kind),
		f.Code,
		f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fragment %d: %w", f.Seq, err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	var (
		sess     session.Session
		settings string
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, job_id, settings, staging_dir, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.JobID, &settings, &sess.StagingDir, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var decoded config.Settings
	if err := json.Unmarshal([]byte(settings), &decoded); err != nil {
		return nil, fmt.Errorf("decode settings of session %s: %w", id, err)
	}
	sess.Settings = decoded

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, kind, code, created_at FROM fragments WHERE session_id = ? ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sess.Fragments = make([]session.Fragment, 0)
	for rows.Next() {
		var (
			f    session.Fragment
			kind string
		)
		if err := rows.Scan(&f.Seq, &kind, &f.Code, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Kind = session.Kind(kind)
		sess.Fragments = append(sess.Fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) CurrentSession(ctx context.Context) (*session.Session, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM current_session WHERE slot = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return s.LoadSession(ctx, id)
}

func (s *SQLiteStore) SetCurrent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO current_session (slot, session_id) VALUES (1, ?)
		 ON CONFLICT(slot) DO UPDATE SET session_id=excluded.session_id`,
		id,
	)
	return err
}

func (s *SQLiteStore) UpsertSubmission(ctx context.Context, sub *jobs.Submission) error {
	if sub == nil {
		return fmt.Errorf("submission is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO submissions (
			job_id, session_id, package_uri, status, state, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			session_id=excluded.session_id,
			package_uri=excluded.package_uri,
			status=excluded.status,
			state=excluded.state,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		sub.JobID,
		sub.SessionID,
		sub.PackageURI,
		string(sub.Status),
		sub.State,
		sub.Error,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, jobID string) (*jobs.Submission, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT job_id, session_id, package_uri, status, state, error, created_at, updated_at
		 FROM submissions WHERE job_id = ?`,
		jobID,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return sub, err
}

// ListSubmissions returns the session's submissions, oldest first. An empty
// sessionID lists every submission.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, sessionID string) ([]*jobs.Submission, error) {
	query := `SELECT job_id, session_id, package_uri, status, state, error, created_at, updated_at
		 FROM submissions`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*jobs.Submission, error) {
	var (
		sub    jobs.Submission
		status string
	)
	if err := row.Scan(
		&sub.JobID,
		&sub.SessionID,
		&sub.PackageURI,
		&status,
		&sub.State,
		&sub.Error,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.Status = jobs.Status(status)
	return &sub, nil
}
