package register

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/hoadmin/internal/backend"
)

const (
	DefaultEmailDebounce  = 500 * time.Millisecond
	DefaultVerifyDelay    = 300 * time.Millisecond
	DefaultResendCooldown = 60 * time.Second
)

var (
	ErrEmailLocked  = errors.New("email is verified and can no longer be changed")
	ErrCannotSend   = errors.New("enter an available email address first")
	ErrCooldown     = errors.New("please wait before requesting another code")
	ErrBusy         = errors.New("a request is already in progress")
	ErrNoCodeSent   = errors.New("request a verification code first")
	ErrWrongStep    = errors.New("not on the final step")
	ErrWizardClosed = errors.New("registration was closed")
)

type EmailStatus int

const (
	EmailUnchecked EmailStatus = iota
	EmailChecking
	EmailAvailable
	EmailTaken
	EmailCheckFailed
)

func (s EmailStatus) String() string {
	switch s {
	case EmailChecking:
		return "checking"
	case EmailAvailable:
		return "available"
	case EmailTaken:
		return "taken"
	case EmailCheckFailed:
		return "error"
	}
	return "unchecked"
}

// EmailChecker answers whether a contact email is already registered.
type EmailChecker interface {
	EmailExists(ctx context.Context, email string) (bool, error)
}

// State is a copy of the wizard for display.
type State struct {
	Step        int
	Form        Form
	EmailStatus EmailStatus
	CodeSent    bool
	Code        string
	Verified    bool
	Sending     bool
	Verifying   bool
	Submitting  bool
	Cooldown    time.Duration
	Error       string
	Result      *Result
}

// CanSendCode reports whether the send button is enabled.
func (s State) CanSendCode() bool {
	return ValidEmail(s.Form.Email) && s.EmailStatus == EmailAvailable &&
		!s.Verified && !s.Sending && s.Cooldown <= 0
}

type WizardOption func(*Wizard)

func WithEmailDebounce(d time.Duration) WizardOption {
	return func(w *Wizard) { w.emailDebounce = d }
}

func WithVerifyDelay(d time.Duration) WizardOption {
	return func(w *Wizard) { w.verifyDelay = d }
}

func WithResendCooldown(d time.Duration) WizardOption {
	return func(w *Wizard) { w.cooldown = d }
}

// Wizard holds one registration in progress. Debounced checks run on timer
// goroutines; every timer is cancelled by superseding input or Close.
type Wizard struct {
	checker   EmailChecker
	functions backend.Functions
	flow      *Flow
	logger    *slog.Logger

	emailDebounce time.Duration
	verifyDelay   time.Duration
	cooldown      time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	cooldownUntil time.Time
	emailTimer    *time.Timer
	verifyTimer   *time.Timer
	emailSeq      uint64
	codeSeq       uint64
	closed        bool
	changed       chan struct{}
}

func NewWizard(checker EmailChecker, fns backend.Functions, flow *Flow, logger *slog.Logger, opts ...WizardOption) *Wizard {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Wizard{
		checker:       checker,
		functions:     fns,
		flow:          flow,
		logger:        logger.With("component", "wizard"),
		emailDebounce: DefaultEmailDebounce,
		verifyDelay:   DefaultVerifyDelay,
		cooldown:      DefaultResendCooldown,
		ctx:           ctx,
		cancel:        cancel,
		state:         State{Step: 1},
		changed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// notifyLocked wakes everyone blocked in Wait.
func (w *Wizard) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *Wizard) snapshotLocked() State {
	s := w.state
	if !w.cooldownUntil.IsZero() {
		s.Cooldown = max(time.Until(w.cooldownUntil), 0)
	}
	return s
}

func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Wait blocks until cond holds or ctx ends.
func (w *Wizard) Wait(ctx context.Context, cond func(State) bool) (State, error) {
	for {
		w.mu.Lock()
		s := w.snapshotLocked()
		ch := w.changed
		w.mu.Unlock()

		if cond(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ch:
		}
	}
}

// SetIdentity fills step 1.
func (w *Wizard) SetIdentity(firstName, lastName, position, otherPosition string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Form.FirstName = firstName
	w.state.Form.LastName = lastName
	w.state.Form.Position = position
	w.state.Form.OtherPosition = otherPosition
	w.state.Error = ""
	w.notifyLocked()
}

// SetEmail records a new email and schedules the availability check. The
// email is frozen once verified.
func (w *Wizard) SetEmail(email string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWizardClosed
	}
	if w.state.Verified {
		return ErrEmailLocked
	}

	email = strings.TrimSpace(email)
	w.state.Form.Email = email
	w.state.CodeSent = false
	w.state.Code = ""
	w.state.Error = ""
	w.stopTimerLocked(&w.verifyTimer)
	w.stopTimerLocked(&w.emailTimer)
	w.emailSeq++
	w.codeSeq++

	if !ValidEmail(email) {
		w.state.EmailStatus = EmailUnchecked
		w.notifyLocked()
		return nil
	}

	w.state.EmailStatus = EmailChecking
	seq := w.emailSeq
	w.emailTimer = time.AfterFunc(w.emailDebounce, func() { w.checkEmail(seq, email) })
	w.notifyLocked()
	return nil
}

func (w *Wizard) checkEmail(seq uint64, email string) {
	exists, err := w.checker.EmailExists(w.ctx, email)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || seq != w.emailSeq {
		return
	}
	switch {
	case err != nil:
		w.logger.Warn("check email availability", "error", err)
		w.state.EmailStatus = EmailCheckFailed
	case exists:
		w.state.EmailStatus = EmailTaken
		w.state.Error = "An account with this email already exists."
	default:
		w.state.EmailStatus = EmailAvailable
	}
	w.notifyLocked()
}

// SendCode asks the verification service to mail a code and starts the
// resend cooldown.
func (w *Wizard) SendCode(ctx context.Context) error {
	w.mu.Lock()
	s := w.snapshotLocked()
	switch {
	case w.closed:
		w.mu.Unlock()
		return ErrWizardClosed
	case s.Sending:
		w.mu.Unlock()
		return ErrBusy
	case s.Cooldown > 0:
		w.mu.Unlock()
		return ErrCooldown
	case !s.CanSendCode():
		w.mu.Unlock()
		return ErrCannotSend
	}
	email := s.Form.Email
	seq := w.emailSeq
	w.state.Sending = true
	w.state.Error = ""
	w.notifyLocked()
	w.mu.Unlock()

	err := w.functions.SendVerificationCode(ctx, email)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Sending = false
	defer w.notifyLocked()
	if seq != w.emailSeq {
		return nil
	}
	if err != nil {
		w.logger.Warn("send verification code", "error", err)
		w.state.Error = err.Error()
		return err
	}
	w.state.CodeSent = true
	w.cooldownUntil = time.Now().Add(w.cooldown)
	return nil
}

// SetCode records code input. Six digits with a code already sent schedule
// an automatic verification.
func (w *Wizard) SetCode(code string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWizardClosed
	}
	if w.state.Verified {
		return ErrEmailLocked
	}

	code = strings.TrimSpace(code)
	w.state.Code = code
	w.state.Error = ""
	w.stopTimerLocked(&w.verifyTimer)
	w.codeSeq++

	if ValidCode(code) && w.state.CodeSent {
		seq := w.codeSeq
		email := w.state.Form.Email
		w.verifyTimer = time.AfterFunc(w.verifyDelay, func() { w.verify(w.ctx, seq, email, code) })
	}
	w.notifyLocked()
	return nil
}

// VerifyNow verifies the current code immediately.
func (w *Wizard) VerifyNow(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWizardClosed
	}
	if !w.state.CodeSent {
		w.mu.Unlock()
		return ErrNoCodeSent
	}
	if !ValidCode(w.state.Code) {
		w.mu.Unlock()
		return fieldErr(FieldCode, "Enter the 6-digit code")
	}
	w.stopTimerLocked(&w.verifyTimer)
	w.codeSeq++
	seq, email, code := w.codeSeq, w.state.Form.Email, w.state.Code
	w.mu.Unlock()

	return w.verify(ctx, seq, email, code)
}

func (w *Wizard) verify(ctx context.Context, seq uint64, email, code string) error {
	w.mu.Lock()
	if w.closed || seq != w.codeSeq {
		w.mu.Unlock()
		return nil
	}
	if w.state.Verifying {
		w.mu.Unlock()
		return ErrBusy
	}
	w.state.Verifying = true
	w.notifyLocked()
	w.mu.Unlock()

	err := w.functions.VerifyCode(ctx, email, code)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Verifying = false
	defer w.notifyLocked()
	if w.closed || seq != w.codeSeq {
		return nil
	}
	if err != nil {
		w.state.Error = err.Error()
		return err
	}
	w.state.Verified = true
	w.state.Error = ""
	return nil
}

// SetPassword fills step 3.
func (w *Wizard) SetPassword(password, confirm string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Form.Password = password
	w.state.Form.ConfirmPassword = confirm
	w.state.Error = ""
	w.notifyLocked()
}

// Next validates the current step and advances. Step 3 is reachable only
// with an available, verified email.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.notifyLocked()

	err := w.canAdvanceLocked()
	if err != nil {
		w.state.Error = Message(err)
		return err
	}
	w.state.Error = ""
	w.state.Step++
	return nil
}

func (w *Wizard) canAdvanceLocked() error {
	s := w.state
	switch s.Step {
	case 1:
		return ValidateStep(1, s.Form)
	case 2:
		if strings.TrimSpace(s.Form.Email) == "" {
			return fieldErr(FieldEmail, "Email is required")
		}
		if s.EmailStatus != EmailAvailable {
			return fieldErr(FieldEmail, "Please use an email address that is not already registered")
		}
		if !s.Verified {
			return fieldErr(FieldCode, "Please verify your email before continuing")
		}
		return nil
	}
	return ErrWrongStep
}

// Back returns to the previous step.
func (w *Wizard) Back() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Step > 1 {
		w.state.Step--
		w.state.Error = ""
		w.notifyLocked()
	}
}

// Submit runs the registration flow with the collected form.
func (w *Wizard) Submit(ctx context.Context) (*Result, error) {
	w.mu.Lock()
	switch {
	case w.closed:
		w.mu.Unlock()
		return nil, ErrWizardClosed
	case w.state.Step != 3:
		w.mu.Unlock()
		return nil, ErrWrongStep
	case w.state.Submitting:
		w.mu.Unlock()
		return nil, ErrBusy
	case !w.state.Verified || w.state.EmailStatus != EmailAvailable:
		w.mu.Unlock()
		return nil, fieldErr(FieldEmail, "Please verify your email before continuing")
	}
	form := w.state.Form
	w.state.Submitting = true
	w.state.Error = ""
	w.notifyLocked()
	w.mu.Unlock()

	res, err := w.flow.Submit(ctx, form)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Submitting = false
	defer w.notifyLocked()
	if err != nil {
		w.state.Error = Message(err)
		return nil, err
	}
	w.state.Result = res
	w.state.Form.Password = ""
	w.state.Form.ConfirmPassword = ""
	return res, nil
}

func (w *Wizard) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// Close cancels pending timers and in-flight checks. Late results are dropped.
func (w *Wizard) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.stopTimerLocked(&w.emailTimer)
	w.stopTimerLocked(&w.verifyTimer)
	w.cancel()
	w.notifyLocked()
}
