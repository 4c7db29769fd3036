package auth

import (
	"errors"
	"strings"
	"sync"
)

// LoginDomain is the fixed domain of synthetic login emails.
const LoginDomain = "hoadmin.local"

// LoginEmail is the auth email for an admin identifier. The admin's real
// contact address is never used to sign in.
func LoginEmail(adminID string) string {
	return strings.TrimSpace(adminID) + "@" + LoginDomain
}

var ErrRegistrationInProgress = errors.New("a registration is already in progress")

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRegistering
	PhaseLoggingIn
)

func (p Phase) String() string {
	switch p {
	case PhaseRegistering:
		return "registering"
	case PhaseLoggingIn:
		return "logging_in"
	}
	return "idle"
}

// Coordinator is shared by the registration flow and the session manager.
// While a registration is in progress the manager ignores sign-in events;
// every explicit login bumps the generation so a deliberate sign-in is never
// mistaken for a duplicate.
type Coordinator struct {
	mu         sync.Mutex
	phase      Phase
	generation uint64
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) Registering() bool {
	return c.Phase() == PhaseRegistering
}

func (c *Coordinator) BeginRegistration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseRegistering {
		return ErrRegistrationInProgress
	}
	c.phase = PhaseRegistering
	return nil
}

func (c *Coordinator) EndRegistration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseRegistering {
		c.phase = PhaseIdle
	}
}

// BeginLogin clears any registration phase and starts a new login
// generation, returning it.
func (c *Coordinator) BeginLogin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseLoggingIn
	c.generation++
	return c.generation
}

func (c *Coordinator) EndLogin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseLoggingIn {
		c.phase = PhaseIdle
	}
}

func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// snapshot returns phase and generation read together.
func (c *Coordinator) snapshot() (Phase, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.generation
}
