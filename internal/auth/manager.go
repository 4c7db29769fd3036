package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/model"
)

const (
	DefaultDuplicateWindow = 500 * time.Millisecond
	DefaultStuckAfter      = 30 * time.Second

	StatusCheckingSession = "Checking your session..."
	StatusLoadingProfile  = "Loading your profile..."
	StatusStuck           = "This is taking longer than expected. Check your connection or try again."
)

var ErrMissingCredentials = errors.New("admin ID and password are required")

type State int

const (
	StateUninitialized State = iota
	StateLoadingProfile
	StateLoggedIn
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateLoadingProfile:
		return "loading_profile"
	case StateLoggedIn:
		return "logged_in"
	case StateLoggedOut:
		return "logged_out"
	}
	return "uninitialized"
}

// Snapshot is the manager's view of who is logged in. Profile is nil when
// the admin row is missing or could not be fetched.
type Snapshot struct {
	State       State               `json:"state"`
	User        *backend.User       `json:"user,omitempty"`
	Profile     *model.AdminAccount `json:"profile,omitempty"`
	Loading     bool                `json:"loading"`
	Initialized bool                `json:"initialized"`
	Status      string              `json:"status,omitempty"`
}

// ProfileFetcher looks up the admin row linked to an auth identity.
type ProfileFetcher interface {
	ByAuthUser(ctx context.Context, userID string) (*model.AdminAccount, error)
}

type ManagerOption func(*Manager)

// WithDuplicateWindow sets how close two SIGNED_IN events must be to count
// as duplicates.
func WithDuplicateWindow(d time.Duration) ManagerOption {
	return func(m *Manager) { m.dupWindow = d }
}

// WithStuckAfter sets how long loading may last before the status switches
// to the stuck hint.
func WithStuckAfter(d time.Duration) ManagerOption {
	return func(m *Manager) { m.stuckAfter = d }
}

// queued is an auth event plus what was true when it fired.
type queued struct {
	evt         backend.AuthEvent
	at          time.Time
	registering bool
	generation  uint64
}

// Manager is the single source of truth for the current admin. Auth events
// are queued as they fire and applied one at a time on the manager's own
// goroutine.
type Manager struct {
	auth     backend.Auth
	profiles ProfileFetcher
	coord    *Coordinator
	logger   *slog.Logger

	dupWindow  time.Duration
	stuckAfter time.Duration

	qmu   sync.Mutex
	queue []queued
	wake  chan struct{}

	mu        sync.RWMutex
	snap      Snapshot
	loadSeq   uint64
	stuck     *time.Timer
	listeners map[int]func(Snapshot)
	nextID    int

	// Touched only by the loop goroutine.
	lastSignIn    time.Time
	lastSignInGen uint64

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewManager(a backend.Auth, profiles ProfileFetcher, coord *Coordinator, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		auth:       a,
		profiles:   profiles,
		coord:      coord,
		logger:     logger.With("component", "session"),
		dupWindow:  DefaultDuplicateWindow,
		stuckAfter: DefaultStuckAfter,
		wake:       make(chan struct{}, 1),
		listeners:  make(map[int]func(Snapshot)),
		snap:       Snapshot{State: StateUninitialized},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to auth events, restores the persisted session and begins
// applying events. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.unsubscribe = m.auth.OnAuthStateChange(m.enqueue)

	go func() {
		defer close(m.done)
		m.initialize(ctx)
		m.loop(ctx)
	}()
}

// Stop unsubscribes and waits for the event loop to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.unsubscribe()
	m.cancel()
	<-m.done

	m.mu.Lock()
	m.stopStuckTimerLocked()
	m.mu.Unlock()
}

func (m *Manager) enqueue(evt backend.AuthEvent) {
	phase, gen := m.coord.snapshot()
	m.qmu.Lock()
	m.queue = append(m.queue, queued{
		evt:         evt,
		at:          time.Now(),
		registering: phase == PhaseRegistering,
		generation:  gen,
	})
	m.qmu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dequeue() (queued, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if len(m.queue) == 0 {
		return queued{}, false
	}
	q := m.queue[0]
	m.queue = m.queue[1:]
	return q, true
}

func (m *Manager) loop(ctx context.Context) {
	for {
		for {
			q, ok := m.dequeue()
			if !ok {
				break
			}
			m.handle(ctx, q)
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

func (m *Manager) initialize(ctx context.Context) {
	m.update(func(s *Snapshot) {
		s.Loading = true
		s.Status = StatusCheckingSession
	})

	sess, err := m.auth.GetSession(ctx)
	if err != nil {
		m.logger.Error("restore session", "error", err)
	}
	if sess == nil {
		m.update(func(s *Snapshot) {
			*s = Snapshot{State: StateLoggedOut, Initialized: true}
		})
		return
	}

	m.lastSignIn = time.Now()
	m.lastSignInGen = m.coord.Generation()
	m.loadProfile(ctx, sess.User)
}

func (m *Manager) handle(ctx context.Context, q queued) {
	switch q.evt.Type {
	case backend.EventSignedIn:
		if q.evt.Session == nil {
			return
		}
		if m.Snapshot().State == StateLoggedIn {
			m.logger.Debug("ignore sign-in: already logged in")
			return
		}
		if q.registering {
			m.logger.Debug("ignore sign-in: registration in progress")
			return
		}
		if !m.lastSignIn.IsZero() && q.at.Sub(m.lastSignIn) < m.dupWindow && q.generation == m.lastSignInGen {
			m.logger.Debug("ignore sign-in: duplicate", "since_last", q.at.Sub(m.lastSignIn))
			return
		}
		m.lastSignIn = q.at
		m.lastSignInGen = q.generation
		m.loadProfile(ctx, q.evt.Session.User)

	case backend.EventTokenRefreshed:
		snap := m.Snapshot()
		if snap.State != StateLoggedIn || snap.User == nil {
			return
		}
		m.refreshProfile(ctx, *snap.User)

	case backend.EventSignedOut:
		m.mu.Lock()
		m.loadSeq++
		m.stopStuckTimerLocked()
		m.mu.Unlock()
		m.update(func(s *Snapshot) {
			*s = Snapshot{State: StateLoggedOut, Initialized: true}
		})
	}
}

// loadProfile moves to LoadingProfile, fetches the admin row and lands in
// LoggedIn whether or not the row was found.
func (m *Manager) loadProfile(ctx context.Context, user backend.User) {
	m.mu.Lock()
	m.loadSeq++
	seq := m.loadSeq
	m.stopStuckTimerLocked()
	m.stuck = time.AfterFunc(m.stuckAfter, func() { m.markStuck(seq) })
	m.mu.Unlock()

	m.update(func(s *Snapshot) {
		s.State = StateLoadingProfile
		s.User = &user
		s.Profile = nil
		s.Loading = true
		s.Status = StatusLoadingProfile
	})

	profile, err := m.profiles.ByAuthUser(ctx, user.ID)
	if err != nil {
		m.logger.Warn("fetch admin profile", "user_id", user.ID, "error", err)
		profile = nil
	} else if profile == nil {
		m.logger.Warn("no admin profile for user", "user_id", user.ID)
	}

	m.mu.Lock()
	current := seq == m.loadSeq
	if current {
		m.stopStuckTimerLocked()
	}
	m.mu.Unlock()
	if !current {
		return
	}

	m.update(func(s *Snapshot) {
		s.State = StateLoggedIn
		s.Profile = profile
		s.Loading = false
		s.Initialized = true
		s.Status = ""
	})
	m.logger.Info("admin logged in", "user_id", user.ID, "has_profile", profile != nil)
}

// refreshProfile re-fetches the admin row without touching the loading flags.
func (m *Manager) refreshProfile(ctx context.Context, user backend.User) {
	profile, err := m.profiles.ByAuthUser(ctx, user.ID)
	if err != nil {
		m.logger.Warn("refresh admin profile", "user_id", user.ID, "error", err)
		return
	}
	m.update(func(s *Snapshot) {
		if s.State == StateLoggedIn && s.User != nil && s.User.ID == user.ID {
			s.Profile = profile
		}
	})
}

func (m *Manager) markStuck(seq uint64) {
	m.mu.Lock()
	stale := seq != m.loadSeq || !m.snap.Loading
	m.mu.Unlock()
	if stale {
		return
	}
	m.update(func(s *Snapshot) {
		if s.Loading {
			s.Status = StatusStuck
		}
	})
}

func (m *Manager) stopStuckTimerLocked() {
	if m.stuck != nil {
		m.stuck.Stop()
		m.stuck = nil
	}
}

func (m *Manager) update(fn func(*Snapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	snap := m.snap
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, l := range m.listeners {
		fns = append(fns, l)
	}
	m.mu.Unlock()

	for _, l := range fns {
		l(snap)
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// OnChange registers fn to be called with every new snapshot.
func (m *Manager) OnChange(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Wait blocks until cond holds for the current snapshot or ctx ends.
func (m *Manager) Wait(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	unsubscribe := m.OnChange(func(s Snapshot) {
		if cond(s) {
			select {
			case ch <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	if s := m.Snapshot(); cond(s) {
		return s, nil
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}

// Login signs in with the admin identifier. Any registration phase is
// cleared first so a stale flag cannot swallow the sign-in.
func (m *Manager) Login(ctx context.Context, adminID, password string) (*backend.User, error) {
	m.coord.BeginLogin()
	defer m.coord.EndLogin()

	adminID = strings.TrimSpace(adminID)
	if adminID == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	sess, err := m.auth.SignIn(ctx, LoginEmail(adminID), password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	user := sess.User
	return &user, nil
}

// Logout signs out. Local state is reset by the resulting SIGNED_OUT event.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
