package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Session is the record of one finished listening session.
type Session struct {
	ID                string
	StartedAt         time.Time
	EndedAt           time.Time
	Transcript        string
	Commits           int
	RecognitionErrors int
	Disconnects       int
	InferenceURL      string
}

// Duration returns how long the session lasted.
func (s *Session) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

const sessionColumns = `id, started_at, ended_at, transcript, commits, recognition_errors, disconnects, inference_url`

// Create inserts a finished session.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	if sess.EndedAt.Before(sess.StartedAt) {
		return fmt.Errorf("session %s ends before it starts", sess.ID)
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.StartedAt.UTC(), sess.EndedAt.UTC(), sess.Transcript,
		sess.Commits, sess.RecognitionErrors, sess.Disconnects, sess.InferenceURL,
	)
	return err
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns sessions newest first. A limit of zero or less returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Delete removes a session by its ID.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	err := row.Scan(
		&sess.ID, &sess.StartedAt, &sess.EndedAt, &sess.Transcript,
		&sess.Commits, &sess.RecognitionErrors, &sess.Disconnects, &sess.InferenceURL,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
