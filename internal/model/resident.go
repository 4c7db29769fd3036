package model

import "time"

const (
	ResidentStatusPending  = "pending"
	ResidentStatusApproved = "approved"
	ResidentStatusRejected = "rejected"
)

// Resident is a homeowner registration awaiting or past admin review.
type Resident struct {
	ID         int64     `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	BlockLot   string    `json:"block_lot"`
	Status     string    `json:"status"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// Pending reports whether the registration still needs an admin decision.
func (r Resident) Pending() bool {
	return !r.IsVerified && r.Status != ResidentStatusRejected
}
