package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/hoadmin/internal/model"
)

// SessionStore persists the console's auth session between runs. It holds
// at most one row: Save replaces whatever was stored before.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.StoredSession, error) {
	var s model.StoredSession
	err := scanner.Scan(&s.ID, &s.UserID, &s.Email, &s.AccessToken, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const sessionCols = `id, user_id, email, access_token, refresh_token, expires_at, created_at, updated_at`

// Save replaces the stored session.
func (s *SessionStore) Save(userID, email, accessToken, refreshToken string, expiresAt time.Time) (*model.StoredSession, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM auth_sessions`); err != nil {
		return nil, fmt.Errorf("clear sessions: %w", err)
	}
	now := time.Now().UTC()
	result, err := tx.Exec(
		`INSERT INTO auth_sessions (user_id, email, access_token, refresh_token, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, email, accessToken, refreshToken, expiresAt.UTC(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM auth_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Load returns the stored session, or nil if there is none. Expired
// sessions are still returned; the caller decides whether to refresh.
func (s *SessionStore) Load() (*model.StoredSession, error) {
	row := s.db.QueryRow(`SELECT ` + sessionCols + ` FROM auth_sessions ORDER BY id DESC LIMIT 1`)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM auth_sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}
