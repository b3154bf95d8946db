package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidRecord is returned when a record violates an invariant,
	// e.g. an indexed record with an empty summary
	ErrInvalidRecord = errors.New("invalid record")
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer. Serializing connections also
	// makes Snapshot reads atomic with respect to concurrent upserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// File record operations

// UpsertFileRecord inserts or overwrites the record for rec.Path.
func (s *SQLiteStore) UpsertFileRecord(ctx context.Context, rec *FileRecord) error {
	if rec.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidRecord)
	}
	if rec.Status == StatusIndexed && rec.Summary == "" {
		return fmt.Errorf("%w: indexed record requires a summary", ErrInvalidRecord)
	}

	query := `
		INSERT INTO file_records (path, fingerprint, language, size_bytes, token_estimate,
		                          summary, status, fail_reason, last_indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			language = excluded.language,
			size_bytes = excluded.size_bytes,
			token_estimate = excluded.token_estimate,
			summary = excluded.summary,
			status = excluded.status,
			fail_reason = excluded.fail_reason,
			last_indexed_at = excluded.last_indexed_at,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	if rec.LastIndexedAt.IsZero() {
		rec.LastIndexedAt = now
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.Path, rec.Fingerprint, rec.Language, rec.SizeBytes, rec.TokenEstimate,
		rec.Summary, string(rec.Status), rec.FailReason, rec.LastIndexedAt, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}

	rec.UpdatedAt = now
	return nil
}

// GetFileRecord returns the record for path, or ErrNotFound.
func (s *SQLiteStore) GetFileRecord(ctx context.Context, path string) (*FileRecord, error) {
	query := `
		SELECT path, fingerprint, language, size_bytes, token_estimate,
		       summary, status, fail_reason, last_indexed_at, created_at, updated_at
		FROM file_records
		WHERE path = ?
	`
	rec, err := scanFileRecord(s.db.QueryRowContext(ctx, query, path))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteFileRecord removes the record for path. Deleting a missing path
// is not an error.
func (s *SQLiteStore) DeleteFileRecord(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_records WHERE path = ?`, path)
	return err
}

// Snapshot returns all file records ordered by path. The single SELECT
// runs on the store's one serialized connection, so an in-flight upsert
// is either fully visible or not visible at all.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*IndexSnapshot, error) {
	query := `
		SELECT path, fingerprint, language, size_bytes, token_estimate,
		       summary, status, fail_reason, last_indexed_at, created_at, updated_at
		FROM file_records
		ORDER BY path
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := make([]*FileRecord, 0)
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &IndexSnapshot{Records: records, TakenAt: time.Now()}, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var status string
	var language, summary, failReason sql.NullString
	var lastIndexedAt sql.NullTime
	err := row.Scan(
		&rec.Path, &rec.Fingerprint, &language, &rec.SizeBytes, &rec.TokenEstimate,
		&summary, &status, &failReason, &lastIndexedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = IndexStatus(status)
	rec.Language = language.String
	rec.Summary = summary.String
	rec.FailReason = failReason.String
	if lastIndexedAt.Valid {
		rec.LastIndexedAt = lastIndexedAt.Time
	}
	return &rec, nil
}

// Session operations

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidRecord)
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.Project, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	var project sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project, created_at, updated_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&session.ID, &project, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session.Project = project.String
	return &session, nil
}

// ListSessions returns all sessions ordered by creation time.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, created_at, updated_at FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*Session, 0)
	for rows.Next() {
		var session Session
		var project sql.NullString
		if err := rows.Scan(&session.ID, &project, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, err
		}
		session.Project = project.String
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// AppendExchange appends user and assistant turns in one transaction,
// assigning the next two consecutive turn indices. A failure before
// commit leaves the turn log untouched.
func (s *SQLiteStore) AppendExchange(ctx context.Context, sessionID string, user, assistant *Turn) error {
	if user.Role != RoleUser || assistant.Role != RoleAssistant {
		return fmt.Errorf("%w: exchange must pair a user turn with an assistant turn", ErrInvalidRecord)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Verify the session exists inside the transaction
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	var nextIndex int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM turns WHERE session_id = ?`, sessionID).
		Scan(&nextIndex); err != nil {
		return err
	}

	now := time.Now()
	for i, turn := range []*Turn{user, assistant} {
		turn.SessionID = sessionID
		turn.TurnIndex = nextIndex + i
		turn.CreatedAt = now

		paths, err := json.Marshal(turn.ContextPaths)
		if err != nil {
			return fmt.Errorf("failed to encode context paths: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, turn_index, role, content, context_paths, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			turn.SessionID, turn.TurnIndex, turn.Role, turn.Content, string(paths), now)
		if err != nil {
			return fmt.Errorf("failed to append turn: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			turn.ID = id
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exchange: %w", err)
	}
	return nil
}

// ListTurns returns all turns for a session in turn-index order.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]*Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_index, role, content, context_paths, created_at
		 FROM turns WHERE session_id = ? ORDER BY turn_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	turns := make([]*Turn, 0)
	for rows.Next() {
		var turn Turn
		var paths sql.NullString
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.TurnIndex,
			&turn.Role, &turn.Content, &paths, &turn.CreatedAt); err != nil {
			return nil, err
		}
		if paths.Valid && paths.String != "" && paths.String != "null" {
			if err := json.Unmarshal([]byte(paths.String), &turn.ContextPaths); err != nil {
				return nil, fmt.Errorf("corrupt context paths for turn %d: %w", turn.ID, err)
			}
		}
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}

// Stats aggregates counts across the index and conversation tables.
func (s *SQLiteStore) Stats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(token_estimate), 0) FROM file_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var count, tokens int
		if err := rows.Scan(&status, &count, &tokens); err != nil {
			return nil, err
		}
		stats.FilesTotal += count
		stats.TotalTokens += tokens
		switch IndexStatus(status) {
		case StatusIndexed:
			stats.FilesIndexed = count
		case StatusFailed:
			stats.FilesFailed = count
		case StatusPending:
			stats.FilesPending = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&stats.Sessions); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// Checked by message so it works with both the cgo and pure Go drivers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
