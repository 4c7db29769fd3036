// Package backend describes the hosted backend the console talks to: auth,
// row storage, remote procedures, realtime change feeds, blob storage and
// the HTTP functions for email verification.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrNoSession is returned by operations that need a signed-in user.
	ErrNoSession = errors.New("no active session")
)

// User is an authentication identity.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is a signed-in user plus its tokens.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// Expired reports whether the access token is past (or within skew of) its expiry.
func (s *Session) Expired(skew time.Duration) bool {
	return !s.ExpiresAt.IsZero() && time.Now().Add(skew).After(s.ExpiresAt)
}

type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// AuthEvent is delivered to OnAuthStateChange listeners. Session is nil
// for EventSignedOut.
type AuthEvent struct {
	Type    EventType
	Session *Session
}

// Auth is the authentication surface.
type Auth interface {
	// GetSession returns the persisted session, or nil if none.
	GetSession(ctx context.Context) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*User, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChange registers fn and returns a function that removes it.
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
}

// Filter is an equality filter on a column.
type Filter struct {
	Column string
	Value  string
}

func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// Query narrows a select.
type Query struct {
	Filters []Filter
	Order   string
	Desc    bool
	Limit   int
	Columns string
}

// Rows is row CRUD against named tables. dest and row values are JSON
// (un)marshalled.
type Rows interface {
	Select(ctx context.Context, table string, q Query, dest any) error
	Insert(ctx context.Context, table string, row any, dest any) error
	Update(ctx context.Context, table string, filters []Filter, patch any) error
	Delete(ctx context.Context, table string, filters []Filter) error
}

// RPC invokes server-side functions.
type RPC interface {
	Call(ctx context.Context, fn string, args any) (json.RawMessage, error)
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one realtime row change.
type Change struct {
	Type      ChangeType      `json:"type"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

// Realtime subscribes to row changes of a table.
type Realtime interface {
	Subscribe(ctx context.Context, table string, fn func(Change)) (unsubscribe func(), err error)
}

// Storage is the blob bucket.
type Storage interface {
	Upload(ctx context.Context, path string, r io.Reader, contentType string) error
	PublicURL(path string) string
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	SignURLs(ctx context.Context, paths []string, ttl time.Duration) (map[string]string, error)
	Delete(ctx context.Context, paths ...string) error
}

// Functions are the external HTTP functions for email verification and
// admin-id delivery.
type Functions interface {
	SendVerificationCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) error
	SendAdminID(ctx context.Context, email, adminID, name string) error
}
