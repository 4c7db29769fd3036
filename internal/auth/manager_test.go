package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/backend/backendtest"
	"github.com/dukerupert/hoadmin/internal/model"
)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.AdminAccount
	err      error
	calls    int
	block    chan struct{}
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]*model.AdminAccount{
		"user-1": {AdminID: "482193", AuthUserID: "user-1", FirstName: "Jane", LastName: "Doe"},
	}}
}

func (f *fakeProfiles) ByAuthUser(_ context.Context, userID string) (*model.AdminAccount, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := f.profiles[userID]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stateLog records every snapshot the manager publishes.
type stateLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *stateLog) record(s Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

func (l *stateLog) count(state State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.snaps {
		if s.State == state {
			n++
		}
	}
	return n
}

func (l *stateLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.snaps)
}

type harness struct {
	auth     *backendtest.Auth
	profiles *fakeProfiles
	coord    *Coordinator
	mgr      *Manager
	log      *stateLog

	// outs is how many logged_out snapshots the test expects so far.
	outs int
}

func newHarness(t *testing.T, opts ...ManagerOption) *harness {
	t.Helper()
	h := &harness{
		auth:     backendtest.NewAuth(),
		profiles: newFakeProfiles(),
		coord:    NewCoordinator(),
		log:      &stateLog{},
	}
	h.auth.AddUser("user-1", LoginEmail("482193"), "Abcdef1!")
	h.mgr = NewManager(h.auth, h.profiles, h.coord, slog.New(slog.DiscardHandler), opts...)
	h.mgr.OnChange(h.log.record)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.mgr.Start(context.Background())
	t.Cleanup(h.mgr.Stop)
	if h.wait(t, func(s Snapshot) bool { return s.Initialized }).State == StateLoggedOut {
		h.outs = 1
	}
}

func (h *harness) emit(evt backend.AuthEvent) {
	if evt.Type == backend.EventSignedOut {
		h.outs++
	}
	h.auth.Emit(evt)
}

func (h *harness) wait(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := h.mgr.Wait(ctx, cond)
	if err != nil {
		t.Fatalf("wait: %v (last snapshot %+v)", err, s)
	}
	return s
}

// flush waits until every event emitted so far has been applied, by
// emitting one more SIGNED_OUT and waiting for its snapshot.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	h.emit(backend.AuthEvent{Type: backend.EventSignedOut})
	deadline := time.Now().Add(2 * time.Second)
	for h.log.count(StateLoggedOut) < h.outs {
		if time.Now().After(deadline) {
			t.Fatal("timed out flushing events")
		}
		time.Sleep(time.Millisecond)
	}
}

func signedIn(userID string) backend.AuthEvent {
	return backend.AuthEvent{
		Type:    backend.EventSignedIn,
		Session: &backend.Session{AccessToken: "a", User: backend.User{ID: userID}},
	}
}

func loggedIn(s Snapshot) bool { return s.State == StateLoggedIn }

func TestStartWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	s := h.mgr.Snapshot()
	if s.State != StateLoggedOut {
		t.Errorf("state = %v, want logged_out", s.State)
	}
	if s.Loading {
		t.Error("expected loading to be false")
	}
	if h.profiles.Calls() != 0 {
		t.Errorf("profile calls = %d, want 0", h.profiles.Calls())
	}
}

func TestStartRestoresSession(t *testing.T) {
	h := newHarness(t)
	h.auth.SetSession(&backend.Session{AccessToken: "a", User: backend.User{ID: "user-1"}})
	h.mgr.Start(context.Background())
	t.Cleanup(h.mgr.Stop)

	s := h.wait(t, loggedIn)
	if s.Profile == nil || s.Profile.AdminID != "482193" {
		t.Errorf("profile = %+v, want admin 482193", s.Profile)
	}
	if s.Loading || !s.Initialized {
		t.Errorf("loading = %v initialized = %v", s.Loading, s.Initialized)
	}
	if h.log.count(StateLoadingProfile) == 0 {
		t.Error("expected a loading_profile snapshot")
	}
}

func TestLoginLoadsProfile(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	user, err := h.mgr.Login(context.Background(), "482193", "Abcdef1!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("user id = %q", user.ID)
	}

	s := h.wait(t, loggedIn)
	if s.Profile == nil || s.Profile.FullName() != "Jane Doe" {
		t.Errorf("profile = %+v", s.Profile)
	}
	if h.coord.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", h.coord.Phase())
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	_, err := h.mgr.Login(context.Background(), "482193", "wrong")
	if !errors.Is(err, backendtest.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want invalid credentials", err)
	}
	if h.mgr.Snapshot().State != StateLoggedOut {
		t.Errorf("state = %v, want logged_out", h.mgr.Snapshot().State)
	}
}

func TestLoginMissingCredentials(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if _, err := h.mgr.Login(context.Background(), "  ", "x"); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestSignedInIgnoredWhileRegistering(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.coord.BeginRegistration(); err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	h.emit(signedIn("user-1"))
	h.coord.EndRegistration()
	h.flush(t)

	if h.log.count(StateLoadingProfile) != 0 || h.log.count(StateLoggedIn) != 0 {
		t.Error("sign-in during registration must not change user state")
	}
	if h.profiles.Calls() != 0 {
		t.Errorf("profile calls = %d, want 0", h.profiles.Calls())
	}
}

func TestDuplicateSignedInProcessedOnce(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.emit(signedIn("user-1"))
	h.emit(signedIn("user-1"))
	h.wait(t, loggedIn)
	h.flush(t)

	if h.profiles.Calls() != 1 {
		t.Errorf("profile calls = %d, want 1", h.profiles.Calls())
	}
	if h.log.count(StateLoggedIn) != 1 {
		t.Errorf("logged_in snapshots = %d, want 1", h.log.count(StateLoggedIn))
	}
}

func TestDuplicateSignedInAfterSignOutWithinWindow(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.emit(signedIn("user-1"))
	h.emit(backend.AuthEvent{Type: backend.EventSignedOut})
	h.emit(signedIn("user-1"))
	h.flush(t)

	if h.profiles.Calls() != 1 {
		t.Errorf("profile calls = %d, want 1", h.profiles.Calls())
	}
}

func TestSignedInAfterWindowProcessed(t *testing.T) {
	h := newHarness(t, WithDuplicateWindow(20*time.Millisecond))
	h.start(t)

	h.emit(signedIn("user-1"))
	h.wait(t, loggedIn)
	h.flush(t)

	time.Sleep(40 * time.Millisecond)
	h.emit(signedIn("user-1"))
	h.wait(t, loggedIn)

	if h.profiles.Calls() != 2 {
		t.Errorf("profile calls = %d, want 2", h.profiles.Calls())
	}
}

func TestExplicitLoginNotTreatedAsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.emit(signedIn("user-1"))
	h.wait(t, loggedIn)
	h.flush(t)

	if _, err := h.mgr.Login(context.Background(), "482193", "Abcdef1!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	h.wait(t, loggedIn)
	if h.profiles.Calls() != 2 {
		t.Errorf("profile calls = %d, want 2", h.profiles.Calls())
	}
}

func TestLoginClearsStaleRegistrationFlag(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.coord.BeginRegistration()
	if _, err := h.mgr.Login(context.Background(), "482193", "Abcdef1!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	h.wait(t, loggedIn)
	if h.coord.Registering() {
		t.Error("expected registration flag cleared by login")
	}
}

func TestTokenRefreshedRefetchesWhenLoggedIn(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.mgr.Login(context.Background(), "482193", "Abcdef1!")
	h.wait(t, loggedIn)
	snapsBefore := h.log.len()

	h.profiles.mu.Lock()
	h.profiles.profiles["user-1"].Position = "President"
	h.profiles.mu.Unlock()

	h.emit(backend.AuthEvent{Type: backend.EventTokenRefreshed})
	s := h.wait(t, func(s Snapshot) bool { return s.Profile != nil && s.Profile.Position == "President" })

	if s.State != StateLoggedIn || s.Loading {
		t.Errorf("refresh changed flags: %+v", s)
	}
	h.log.mu.Lock()
	for _, snap := range h.log.snaps[snapsBefore:] {
		if snap.Loading || snap.State != StateLoggedIn {
			t.Errorf("unexpected snapshot during refresh: %+v", snap)
		}
	}
	h.log.mu.Unlock()
}

func TestTokenRefreshedIgnoredWhenLoggedOut(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.emit(backend.AuthEvent{Type: backend.EventTokenRefreshed})
	h.flush(t)

	if h.profiles.Calls() != 0 {
		t.Errorf("profile calls = %d, want 0", h.profiles.Calls())
	}
}

func TestProfileErrorStillLogsIn(t *testing.T) {
	h := newHarness(t)
	h.profiles.err = errors.New("network down")
	h.start(t)

	h.mgr.Login(context.Background(), "482193", "Abcdef1!")
	s := h.wait(t, loggedIn)
	if s.Profile != nil {
		t.Errorf("profile = %+v, want nil", s.Profile)
	}
	if s.User == nil || s.User.ID != "user-1" {
		t.Errorf("user = %+v", s.User)
	}
}

func TestMissingProfileStillLogsIn(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.emit(signedIn("user-9"))
	s := h.wait(t, loggedIn)
	if s.Profile != nil {
		t.Errorf("profile = %+v, want nil", s.Profile)
	}
}

func TestStuckLoadingHint(t *testing.T) {
	h := newHarness(t, WithStuckAfter(20*time.Millisecond))
	h.start(t)

	release := make(chan struct{})
	h.profiles.mu.Lock()
	h.profiles.block = release
	h.profiles.mu.Unlock()

	h.emit(signedIn("user-1"))
	s := h.wait(t, func(s Snapshot) bool { return s.Status == StatusStuck })
	if !s.Loading || s.State != StateLoadingProfile {
		t.Errorf("snapshot = %+v, want loading", s)
	}

	close(release)
	s = h.wait(t, loggedIn)
	if s.Status != "" {
		t.Errorf("status = %q, want cleared", s.Status)
	}
}

func TestLogoutResets(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.mgr.Login(context.Background(), "482193", "Abcdef1!")
	h.wait(t, loggedIn)

	if err := h.mgr.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	s := h.wait(t, func(s Snapshot) bool { return s.State == StateLoggedOut })
	if s.User != nil || s.Profile != nil {
		t.Errorf("snapshot = %+v, want cleared", s)
	}
}

func TestLogoutErrorReportedButStateReset(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.mgr.Login(context.Background(), "482193", "Abcdef1!")
	h.wait(t, loggedIn)

	h.auth.SignOutErr = errors.New("offline")
	if err := h.mgr.Logout(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	h.wait(t, func(s Snapshot) bool { return s.State == StateLoggedOut })
}

func TestCoordinatorPhases(t *testing.T) {
	c := NewCoordinator()
	if err := c.BeginRegistration(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := c.BeginRegistration(); !errors.Is(err, ErrRegistrationInProgress) {
		t.Errorf("second begin = %v, want ErrRegistrationInProgress", err)
	}
	c.EndRegistration()
	if c.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", c.Phase())
	}

	g1 := c.BeginLogin()
	c.EndLogin()
	g2 := c.BeginLogin()
	if g2 != g1+1 {
		t.Errorf("generation %d then %d, want increment", g1, g2)
	}
	c.EndRegistration()
	if c.Phase() != PhaseLoggingIn {
		t.Errorf("EndRegistration must not end a login, phase = %v", c.Phase())
	}
}
