package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/hoadmin/internal/model"
)

const (
	CodeTTL = 15 * time.Minute
	// VerifiedTTL is how long a verified email stays usable for follow-up mail.
	VerifiedTTL = time.Hour
)

type VerificationStore struct {
	db *sql.DB
}

func NewVerificationStore(db *sql.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

func scanVerificationCode(scanner interface{ Scan(...any) error }) (*model.VerificationCode, error) {
	var vc model.VerificationCode
	var usedAt, verifiedAt sql.NullTime

	err := scanner.Scan(
		&vc.ID, &vc.CodeHash, &vc.Email, &vc.Purpose,
		&vc.ExpiresAt, &usedAt, &verifiedAt, &vc.Attempts, &vc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		vc.UsedAt = &usedAt.Time
	}
	if verifiedAt.Valid {
		vc.VerifiedAt = &verifiedAt.Time
	}
	return &vc, nil
}

const verificationCols = `id, code_hash, email, purpose, expires_at, used_at, verified_at, attempts, created_at`

// GenerateCode returns a 6-digit numeric code (100000–999999).
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create stores a fresh code for email and returns the plaintext code.
// Pending codes for the same email and purpose are invalidated first.
func (s *VerificationStore) Create(email, purpose string) (string, *model.VerificationCode, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE verification_codes SET used_at = ? WHERE email = ? AND purpose = ? AND used_at IS NULL AND expires_at > ?`,
		now, email, purpose, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	code, err := GenerateCode()
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash code: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO verification_codes (code_hash, email, purpose, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(hash), email, purpose, now.Add(CodeTTL), now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert verification code: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return "", nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+verificationCols+` FROM verification_codes WHERE id = ?`, id)
	vc, err := scanVerificationCode(row)
	if err != nil {
		return "", nil, fmt.Errorf("read verification code: %w", err)
	}
	return code, vc, nil
}

// GetLatest returns the most recent valid (unexpired, unused) code for an email.
func (s *VerificationStore) GetLatest(email, purpose string) (*model.VerificationCode, error) {
	row := s.db.QueryRow(
		`SELECT `+verificationCols+` FROM verification_codes
		 WHERE email = ? AND purpose = ? AND expires_at > ? AND used_at IS NULL
		 ORDER BY id DESC LIMIT 1`,
		email, purpose, time.Now().UTC(),
	)
	vc, err := scanVerificationCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest verification code: %w", err)
	}
	return vc, nil
}

// Matches reports whether code is the plaintext of vc.
func (s *VerificationStore) Matches(vc *model.VerificationCode, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(vc.CodeHash), []byte(code)) == nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *VerificationStore) IncrementAttempts(id int64) (int, error) {
	var attempts int
	err := s.db.QueryRow(
		`UPDATE verification_codes SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

func (s *VerificationStore) MarkUsed(id int64) error {
	_, err := s.db.Exec(`UPDATE verification_codes SET used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark verification code used: %w", err)
	}
	return nil
}

// MarkVerified consumes the code and records that its email was proven.
func (s *VerificationStore) MarkVerified(id int64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`UPDATE verification_codes SET used_at = ?, verified_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return fmt.Errorf("mark verification code verified: %w", err)
	}
	return nil
}

// VerifiedRecently reports whether email passed verification within VerifiedTTL.
func (s *VerificationStore) VerifiedRecently(email, purpose string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM verification_codes WHERE email = ? AND purpose = ? AND verified_at > ?`,
		email, purpose, time.Now().UTC().Add(-VerifiedTTL),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check verified email: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired removes expired codes, keeping recent verifications.
func (s *VerificationStore) DeleteExpired() (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`DELETE FROM verification_codes WHERE expires_at <= ? AND (verified_at IS NULL OR verified_at <= ?)`,
		now, now.Add(-VerifiedTTL),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired verification codes: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
