package model

import "time"

// PushSubscription is a browser or device endpoint that receives
// pending-item alerts for an admin.
type PushSubscription struct {
	ID         int64     `json:"id"`
	AdminID    string    `json:"admin_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}
