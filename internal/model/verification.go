package model

import "time"

const (
	PurposeRegistration = "registration"
)

// VerificationCode is a one-time email code. Only the bcrypt hash of the
// code is stored.
type VerificationCode struct {
	ID         int64      `json:"id"`
	CodeHash   string     `json:"-"`
	Email      string     `json:"email"`
	Purpose    string     `json:"purpose"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at"`
	VerifiedAt *time.Time `json:"verified_at"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
}
