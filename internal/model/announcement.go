package model

import "time"

type Announcement struct {
	ID        int64     `json:"id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ImagePath *string   `json:"image_path"`
	PostedBy  string    `json:"posted_by"`
	CreatedAt time.Time `json:"created_at,omitzero"`

	// ImageURL is filled in by the repository when listing; not stored.
	ImageURL string `json:"-"`
}
