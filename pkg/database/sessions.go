package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSession is returned when a session id is already recorded.
	ErrDuplicateSession = errors.New("session already exists")
)

const uniqueViolation = "23505"

// Session is one row of research_sessions.
type Session struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Subject   string          `json:"subject"`
	Depth     string          `json:"depth"`
	Status    string          `json:"status"`
	Request   json.RawMessage `json:"request,omitempty"`
	Report    *string         `json:"report,omitempty"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// CreateSession records a session as running.
func (db *PostgresDB) CreateSession(ctx context.Context, s Session) error {
	query := `
		INSERT INTO research_sessions (id, kind, subject, depth, status, request)
		VALUES ($1, $2, $3, $4, 'running', $5)
	`
	if _, err := db.Pool.Exec(ctx, query, s.ID, s.Kind, s.Subject, s.Depth, []byte(s.Request)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("session %s: %w", s.ID, ErrDuplicateSession)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FinishSession stores the outcome of a session. Empty report or errMsg are
// stored as NULL.
func (db *PostgresDB) FinishSession(ctx context.Context, id, status, report, errMsg string) error {
	query := `
		UPDATE research_sessions
		SET status = $2, report = NULLIF($3, ''), error = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := db.Pool.Exec(ctx, query, id, status, report, errMsg); err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

const sessionColumns = "id, kind, subject, depth, status, request, report, error, created_at, updated_at"

func scanSession(row pgx.Row) (*Session, error) {
	var (
		s       Session
		request []byte
	)
	if err := row.Scan(&s.ID, &s.Kind, &s.Subject, &s.Depth, &s.Status, &request, &s.Report, &s.Error, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Request = request
	return &s, nil
}

func (db *PostgresDB) GetSession(ctx context.Context, id string) (*Session, error) {
	query := "SELECT " + sessionColumns + " FROM research_sessions WHERE id = $1"
	s, err := scanSession(db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListSessions returns the most recent sessions first.
func (db *PostgresDB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := "SELECT " + sessionColumns + " FROM research_sessions ORDER BY created_at DESC LIMIT $1"
	rows, err := db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (db *PostgresDB) InsertLog(ctx context.Context, sessionID string, ts time.Time, level, message string, metadata []byte) error {
	query := `
		INSERT INTO research_logs (session_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := db.Pool.Exec(ctx, query, sessionID, ts, level, message, metadata)
	return err
}

func (db *PostgresDB) SessionLogs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE session_id = $1
		ORDER BY id ASC
	`
	rows, err := db.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var (
			l    LogEntry
			meta []byte
		)
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Metadata = meta
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
