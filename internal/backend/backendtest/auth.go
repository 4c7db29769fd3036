package backendtest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/dukerupert/hoadmin/internal/backend"
)

var ErrInvalidCredentials = errors.New("Invalid login credentials")

// Auth is an in-memory identity provider. Events are delivered synchronously
// like the real client.
type Auth struct {
	Rec *Recorder

	// AutoConfirm makes SignUp start a session and emit SIGNED_IN.
	AutoConfirm bool

	SignUpErr  error
	SignOutErr error

	mu        sync.Mutex
	users     map[string]authUser
	session   *backend.Session
	listeners map[int]func(backend.AuthEvent)
	nextID    int

	nextListener int
}

type authUser struct {
	user     backend.User
	password string
}

func NewAuth() *Auth {
	return &Auth{
		users:     make(map[string]authUser),
		listeners: make(map[int]func(backend.AuthEvent)),
	}
}

// AddUser registers an identity that SignIn will accept.
func (a *Auth) AddUser(id, email, password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[email] = authUser{user: backend.User{ID: id, Email: email}, password: password}
}

// User returns the identity registered under email.
func (a *Auth) User(email string) (backend.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[email]
	return u.user, ok
}

// SetSession installs s as the persisted session without emitting.
func (a *Auth) SetSession(s *backend.Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

func (a *Auth) GetSession(context.Context) (*backend.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, nil
	}
	s := *a.session
	return &s, nil
}

func newSession(u backend.User) *backend.Session {
	return &backend.Session{
		AccessToken:  "access-" + u.ID,
		RefreshToken: "refresh-" + u.ID,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         u,
	}
}

func (a *Auth) SignUp(_ context.Context, email, password string, metadata map[string]any) (*backend.User, error) {
	a.Rec.Record("signup " + email)
	if a.SignUpErr != nil {
		return nil, a.SignUpErr
	}

	a.mu.Lock()
	if _, ok := a.users[email]; ok {
		a.mu.Unlock()
		return nil, errors.New("User already registered")
	}
	a.nextID++
	u := backend.User{ID: "user-" + strconv.Itoa(a.nextID), Email: email, Metadata: metadata}
	a.users[email] = authUser{user: u, password: password}
	var sess *backend.Session
	if a.AutoConfirm {
		sess = newSession(u)
		a.session = sess
	}
	a.mu.Unlock()

	if sess != nil {
		a.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: sess})
	}
	return &u, nil
}

func (a *Auth) SignIn(_ context.Context, email, password string) (*backend.Session, error) {
	a.Rec.Record("signin " + email)
	a.mu.Lock()
	u, ok := a.users[email]
	if !ok || u.password != password {
		a.mu.Unlock()
		return nil, ErrInvalidCredentials
	}
	sess := newSession(u.user)
	a.session = sess
	a.mu.Unlock()

	a.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: sess})
	return sess, nil
}

func (a *Auth) SignOut(context.Context) error {
	a.Rec.Record("signout")
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	a.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return a.SignOutErr
}

func (a *Auth) OnAuthStateChange(fn func(backend.AuthEvent)) func() {
	a.mu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Emit delivers evt to every listener.
func (a *Auth) Emit(evt backend.AuthEvent) {
	a.mu.Lock()
	fns := make([]func(backend.AuthEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Functions fakes the verification and admin-id mail functions. Only the
// last code sent to an address verifies.
type Functions struct {
	Rec *Recorder

	SendErr    error
	AdminIDErr error

	mu       sync.Mutex
	next     string
	codes    map[string]string
	adminIDs map[string]string
}

func NewFunctions() *Functions {
	return &Functions{
		codes:    make(map[string]string),
		adminIDs: make(map[string]string),
	}
}

// NextCode sets the code the next SendVerificationCode will issue.
func (f *Functions) NextCode(code string) {
	f.mu.Lock()
	f.next = code
	f.mu.Unlock()
}

func (f *Functions) SendVerificationCode(_ context.Context, email string) error {
	f.Rec.Record("send-code " + email)
	if f.SendErr != nil {
		return f.SendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	code := f.next
	if code == "" {
		code = "000000"
	}
	f.codes[email] = code
	return nil
}

func (f *Functions) VerifyCode(_ context.Context, email, code string) error {
	f.Rec.Record("verify-code " + email)
	f.mu.Lock()
	defer f.mu.Unlock()
	want, ok := f.codes[email]
	if !ok {
		return errors.New("No verification code found")
	}
	if code != want {
		return errors.New("Invalid verification code")
	}
	return nil
}

func (f *Functions) SendAdminID(_ context.Context, email, adminID, _ string) error {
	f.Rec.Record("send-admin-id " + email)
	if f.AdminIDErr != nil {
		return f.AdminIDErr
	}
	f.mu.Lock()
	f.adminIDs[email] = adminID
	f.mu.Unlock()
	return nil
}

// SentAdminID returns the admin id mailed to email, if any.
func (f *Functions) SentAdminID(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adminIDs[email]
}
