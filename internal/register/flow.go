package register

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/hoadmin/internal/auth"
	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/model"
)

const (
	DefaultSettleDelay = 500 * time.Millisecond

	adminIDMailTimeout = 30 * time.Second
)

var (
	ErrEmailTaken       = errors.New("an account with this email already exists")
	ErrOrphanedIdentity = errors.New("auth identity was created without an admin profile")
)

// OrphanError reports a signup whose profile row could not be written. The
// auth identity UserID exists but no admin account points at it.
type OrphanError struct {
	UserID  string
	AdminID string
	Err     error
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("create admin profile for %s (auth user %s): %v", e.AdminID, e.UserID, e.Err)
}

func (e *OrphanError) Unwrap() []error {
	return []error{ErrOrphanedIdentity, e.Err}
}

// AdminStore is the admin-table access the flow needs.
type AdminStore interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	GenerateAdminID(ctx context.Context) (string, error)
	Create(ctx context.Context, acct *model.AdminAccount) (*model.AdminAccount, error)
}

// Result is a completed registration.
type Result struct {
	AdminID string
	Account *model.AdminAccount
}

type FlowOption func(*Flow)

// WithSettleDelay sets the pause after each sign-out.
func WithSettleDelay(d time.Duration) FlowOption {
	return func(f *Flow) { f.settle = d }
}

// Flow creates the auth identity and admin profile for a completed wizard.
type Flow struct {
	auth      backend.Auth
	admins    AdminStore
	functions backend.Functions
	coord     *auth.Coordinator
	logger    *slog.Logger
	settle    time.Duration

	wg sync.WaitGroup
}

func NewFlow(a backend.Auth, admins AdminStore, fns backend.Functions, coord *auth.Coordinator, logger *slog.Logger, opts ...FlowOption) *Flow {
	f := &Flow{
		auth:      a,
		admins:    admins,
		functions: fns,
		coord:     coord,
		logger:    logger.With("component", "register"),
		settle:    DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Submit registers a new admin. Steps run strictly in order; on any failure
// the session is signed out and the registration phase cleared before the
// error is returned.
func (f *Flow) Submit(ctx context.Context, form Form) (*Result, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	if err := f.coord.BeginRegistration(); err != nil {
		return nil, err
	}

	res, err := f.submit(ctx, form)
	if err != nil {
		if soErr := f.auth.SignOut(context.WithoutCancel(ctx)); soErr != nil {
			f.logger.Warn("sign out after failed registration", "error", soErr)
		}
		f.coord.EndRegistration()
		return nil, err
	}
	f.coord.EndRegistration()

	f.mailAdminID(ctx, res.Account)
	return res, nil
}

func (f *Flow) submit(ctx context.Context, form Form) (*Result, error) {
	email := strings.ToLower(strings.TrimSpace(form.Email))

	exists, err := f.admins.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("recheck email: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	adminID, err := f.admins.GenerateAdminID(ctx)
	if err != nil {
		return nil, err
	}
	if adminID == "" {
		return nil, backend.ErrEmptyAdminID
	}

	if err := f.signOutAndSettle(ctx); err != nil {
		return nil, err
	}

	firstName := strings.TrimSpace(form.FirstName)
	lastName := strings.TrimSpace(form.LastName)
	position := form.ResolvedPosition()

	user, err := f.auth.SignUp(ctx, auth.LoginEmail(adminID), form.Password, map[string]any{
		"first_name":    firstName,
		"last_name":     lastName,
		"position":      position,
		"contact_email": email,
		"admin_id":      adminID,
	})
	if err != nil {
		return nil, fmt.Errorf("create auth identity: %w", err)
	}

	acct, err := f.admins.Create(ctx, &model.AdminAccount{
		AdminID:       adminID,
		AuthUserID:    user.ID,
		FirstName:     firstName,
		LastName:      lastName,
		Position:      position,
		Email:         email,
		Status:        model.AdminStatusActive,
		EmailVerified: true,
	})
	if err != nil {
		orphan := &OrphanError{UserID: user.ID, AdminID: adminID, Err: err}
		f.logger.Error("orphaned auth identity", "user_id", user.ID, "admin_id", adminID, "error", err)
		return nil, orphan
	}

	// The identity and profile exist from here on, so cancellation no
	// longer turns this into a failed registration.
	if err := f.signOutAndSettle(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}

	f.logger.Info("admin registered", "admin_id", adminID)
	return &Result{AdminID: adminID, Account: acct}, nil
}

// signOutAndSettle drops whatever session exists and pauses so the auth
// client's events settle before the next step. A sign-out error is only
// logged; the local session is cleared regardless.
func (f *Flow) signOutAndSettle(ctx context.Context) error {
	if err := f.auth.SignOut(ctx); err != nil {
		f.logger.Warn("sign out during registration", "error", err)
	}
	if f.settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// mailAdminID sends the identifier to the contact address in the background.
// Failures are logged only.
func (f *Flow) mailAdminID(ctx context.Context, acct *model.AdminAccount) {
	if f.functions == nil || acct == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminIDMailTimeout)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()
		if err := f.functions.SendAdminID(ctx, acct.Email, acct.AdminID, acct.FullName()); err != nil {
			f.logger.Warn("send admin id email", "admin_id", acct.AdminID, "error", err)
		}
	}()
}

// Wait blocks until background admin-id emails have finished.
func (f *Flow) Wait() {
	f.wg.Wait()
}

// Message turns a registration error into text for the form.
func Message(err error) string {
	var fe *FieldError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return fe.Message
	case errors.Is(err, ErrEmailTaken):
		return "An account with this email already exists."
	case errors.Is(err, backend.ErrEmptyAdminID):
		return "Could not generate an admin ID. Please try again."
	case errors.Is(err, auth.ErrRegistrationInProgress):
		return "A registration is already in progress."
	case errors.Is(err, ErrOrphanedIdentity):
		return "Your login was created but your profile could not be saved. Please contact support."
	}
	return "Registration failed. Please try again."
}
