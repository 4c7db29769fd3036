package model

import "time"

const (
	AdminStatusActive   = "active"
	AdminStatusInactive = "inactive"
)

// AdminAccount is a row in the admins table. AdminID is the generated
// login identifier; Email is the real contact address, never the login email.
type AdminAccount struct {
	ID            int64     `json:"id,omitempty"`
	AdminID       string    `json:"admin_id"`
	AuthUserID    string    `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Position      string    `json:"position"`
	Email         string    `json:"email"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
}

func (a *AdminAccount) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}
