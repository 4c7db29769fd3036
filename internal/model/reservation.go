package model

import "time"

const (
	ReservationStatusPending   = "pending"
	ReservationStatusApproved  = "approved"
	ReservationStatusRejected  = "rejected"
	ReservationStatusCancelled = "cancelled"
)

type Reservation struct {
	ID         int64     `json:"id"`
	ResidentID int64     `json:"resident_id"`
	Facility   string    `json:"facility"`
	Date       string    `json:"date"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Purpose    string    `json:"purpose"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r Reservation) Pending() bool {
	return r.Status == ReservationStatusPending
}
