package register

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/hoadmin/internal/model"
)

func newTestWizard(f *fixture) *Wizard {
	return NewWizard(f.admins, f.fns, f.flow, discard,
		WithEmailDebounce(10*time.Millisecond),
		WithVerifyDelay(10*time.Millisecond),
		WithResendCooldown(time.Minute),
	)
}

func waitState(t *testing.T, w *Wizard, cond func(State) bool) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := w.Wait(ctx, cond)
	if err != nil {
		t.Fatalf("wait: %v (state %+v)", err, s)
	}
	return s
}

func emailSettled(s State) bool {
	return s.EmailStatus != EmailChecking && s.EmailStatus != EmailUnchecked
}

func TestWizardEndToEnd(t *testing.T) {
	f := newFixture(t)
	w := newTestWizard(f)
	defer w.Close()
	ctx := context.Background()

	// Step 1
	w.SetIdentity("Jane", "Doe", "Treasurer", "")
	if err := w.Next(); err != nil {
		t.Fatalf("step 1: %v", err)
	}

	// Step 2
	if err := w.SetEmail("jane@x.com"); err != nil {
		t.Fatalf("set email: %v", err)
	}
	s := waitState(t, w, emailSettled)
	if s.EmailStatus != EmailAvailable {
		t.Fatalf("email status = %v, want available", s.EmailStatus)
	}

	f.fns.NextCode("123456")
	if err := w.SendCode(ctx); err != nil {
		t.Fatalf("send code: %v", err)
	}
	s = w.State()
	if !s.CodeSent || s.Cooldown <= 0 || s.CanSendCode() {
		t.Errorf("after send: %+v", s)
	}

	w.SetCode("123456")
	waitState(t, w, func(s State) bool { return s.Verified })
	if err := w.Next(); err != nil {
		t.Fatalf("step 2: %v", err)
	}

	// Step 3
	w.SetPassword("Abcdef1!", "Abcdef1!")
	res, err := w.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.flow.Wait()

	if res.AdminID != "482193" {
		t.Errorf("admin id = %q, want 482193", res.AdminID)
	}
	if _, ok := f.auth.User("482193@hoadmin.local"); !ok {
		t.Error("expected auth identity 482193@hoadmin.local")
	}
	if f.rec.Count("signout") != 2 {
		t.Errorf("signouts = %d, want 2", f.rec.Count("signout"))
	}
	s = w.State()
	if s.Result == nil || s.Result.AdminID != "482193" {
		t.Errorf("state result = %+v", s.Result)
	}
	if s.Form.Password != "" {
		t.Error("expected password cleared after success")
	}

	done := make(chan struct{})
	var mu sync.Mutex
	var ticks []time.Duration
	c := NewCountdown(DefaultRedirectAfter, time.Second, func(d time.Duration) {
		mu.Lock()
		ticks = append(ticks, d)
		mu.Unlock()
	}, func() { close(done) })
	c.Start()
	c.GoNow()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("go now did not redirect")
	}
	c.Stop()
}

func TestStepTwoGating(t *testing.T) {
	f := newFixture(t)
	w := newTestWizard(f)
	defer w.Close()

	w.SetIdentity("Jane", "Doe", "Treasurer", "")
	w.Next()

	if err := w.Next(); err == nil {
		t.Fatal("advanced without email")
	}

	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)
	err := w.Next()
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != FieldCode {
		t.Fatalf("unverified advance err = %v, want code FieldError", err)
	}
	if w.State().Step != 2 {
		t.Errorf("step = %d, want 2", w.State().Step)
	}
	if w.State().Error == "" {
		t.Error("expected inline error")
	}

	f.fns.NextCode("123456")
	w.SendCode(context.Background())
	w.SetCode("123456")
	waitState(t, w, func(s State) bool { return s.Verified })

	if err := w.Next(); err != nil {
		t.Fatalf("verified advance: %v", err)
	}
	if w.State().Step != 3 {
		t.Errorf("step = %d, want 3", w.State().Step)
	}
}

func TestStepOneBlocksIncomplete(t *testing.T) {
	w := newTestWizard(newFixture(t))
	defer w.Close()

	w.SetIdentity("Jane", "", "Treasurer", "")
	if err := w.Next(); err == nil {
		t.Fatal("expected missing last name error")
	}
	if w.State().Step != 1 {
		t.Errorf("step = %d, want 1", w.State().Step)
	}
}

func TestEmailTakenDisablesSend(t *testing.T) {
	f := newFixture(t)
	f.rows.Seed("admins", model.AdminAccount{AdminID: "100001", Email: "jane@x.com"})
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane@x.com")
	s := waitState(t, w, emailSettled)
	if s.EmailStatus != EmailTaken {
		t.Fatalf("status = %v, want taken", s.EmailStatus)
	}
	if s.CanSendCode() {
		t.Error("send must be disabled for a taken email")
	}
	if err := w.SendCode(context.Background()); !errors.Is(err, ErrCannotSend) {
		t.Errorf("send = %v, want ErrCannotSend", err)
	}
}

func TestEmailCheckFailure(t *testing.T) {
	f := newFixture(t)
	f.rows.SetSelectErr(errors.New("offline"))
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane@x.com")
	s := waitState(t, w, emailSettled)
	if s.EmailStatus != EmailCheckFailed {
		t.Errorf("status = %v, want error", s.EmailStatus)
	}
	if s.CanSendCode() {
		t.Error("send must be disabled when availability is unknown")
	}
}

func TestInvalidEmailNotChecked(t *testing.T) {
	f := newFixture(t)
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane")
	time.Sleep(30 * time.Millisecond)
	if f.rec.Count("select admins") != 0 {
		t.Error("invalid email must not be checked")
	}
	if w.State().EmailStatus != EmailUnchecked {
		t.Errorf("status = %v", w.State().EmailStatus)
	}
}

type countingChecker struct {
	mu     sync.Mutex
	emails []string
}

func (c *countingChecker) EmailExists(_ context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails = append(c.emails, email)
	return false, nil
}

func (c *countingChecker) checked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.emails...)
}

func TestEmailDebounceSupersedes(t *testing.T) {
	f := newFixture(t)
	checker := &countingChecker{}
	w := NewWizard(checker, f.fns, f.flow, discard, WithEmailDebounce(20*time.Millisecond))
	defer w.Close()

	w.SetEmail("j@x.com")
	w.SetEmail("ja@x.com")
	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)

	got := checker.checked()
	if len(got) != 1 || got[0] != "jane@x.com" {
		t.Errorf("checked = %v, want only jane@x.com", got)
	}
}

func TestWrongCodeSurfacesMessage(t *testing.T) {
	f := newFixture(t)
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)
	f.fns.NextCode("123456")
	w.SendCode(context.Background())

	w.SetCode("000000")
	s := waitState(t, w, func(s State) bool { return s.Error != "" && !s.Verifying })
	if s.Error != "Invalid verification code" {
		t.Errorf("error = %q", s.Error)
	}
	if s.Verified {
		t.Error("wrong code must not verify")
	}

	w.SetCode("123456")
	waitState(t, w, func(s State) bool { return s.Verified })
}

func TestCodeNotVerifiedBeforeSend(t *testing.T) {
	f := newFixture(t)
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)
	w.SetCode("123456")
	time.Sleep(30 * time.Millisecond)

	if f.rec.Count("verify-code jane@x.com") != 0 {
		t.Error("code must not be verified before one is sent")
	}
	if err := w.VerifyNow(context.Background()); !errors.Is(err, ErrNoCodeSent) {
		t.Errorf("verify now = %v, want ErrNoCodeSent", err)
	}
}

func TestPartialCodeNotVerified(t *testing.T) {
	f := newFixture(t)
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)
	f.fns.NextCode("123456")
	w.SendCode(context.Background())
	w.SetCode("12345")
	time.Sleep(30 * time.Millisecond)

	if f.rec.Count("verify-code jane@x.com") != 0 {
		t.Error("partial code must not be verified")
	}
}

func TestVerifiedFreezesEmailAndCode(t *testing.T) {
	f := newFixture(t)
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)
	f.fns.NextCode("123456")
	w.SendCode(context.Background())
	w.SetCode("123456")
	if err := w.VerifyNow(context.Background()); err != nil {
		t.Fatalf("verify now: %v", err)
	}

	if err := w.SetEmail("other@x.com"); !errors.Is(err, ErrEmailLocked) {
		t.Errorf("set email = %v, want ErrEmailLocked", err)
	}
	if err := w.SetCode("654321"); !errors.Is(err, ErrEmailLocked) {
		t.Errorf("set code = %v, want ErrEmailLocked", err)
	}
	if w.State().Form.Email != "jane@x.com" {
		t.Errorf("email = %q", w.State().Form.Email)
	}
}

func TestResendCooldown(t *testing.T) {
	f := newFixture(t)
	w := NewWizard(f.admins, f.fns, f.flow, discard,
		WithEmailDebounce(time.Millisecond),
		WithResendCooldown(30*time.Millisecond),
	)
	defer w.Close()

	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)
	if err := w.SendCode(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := w.SendCode(context.Background()); !errors.Is(err, ErrCooldown) {
		t.Fatalf("resend = %v, want ErrCooldown", err)
	}

	time.Sleep(40 * time.Millisecond)
	if err := w.SendCode(context.Background()); err != nil {
		t.Errorf("resend after cooldown: %v", err)
	}
	if f.rec.Count("send-code jane@x.com") != 2 {
		t.Errorf("sends = %d, want 2", f.rec.Count("send-code jane@x.com"))
	}
}

func TestSendCodeFailure(t *testing.T) {
	f := newFixture(t)
	f.fns.SendErr = errors.New("Failed to send verification email")
	w := newTestWizard(f)
	defer w.Close()

	w.SetEmail("jane@x.com")
	waitState(t, w, emailSettled)
	if err := w.SendCode(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	s := w.State()
	if s.CodeSent || s.Sending || s.Cooldown > 0 {
		t.Errorf("state after failed send = %+v", s)
	}
	if s.Error != "Failed to send verification email" {
		t.Errorf("error = %q", s.Error)
	}
}

func TestCloseCancelsPendingCheck(t *testing.T) {
	f := newFixture(t)
	checker := &countingChecker{}
	w := NewWizard(checker, f.fns, f.flow, discard, WithEmailDebounce(20*time.Millisecond))

	w.SetEmail("jane@x.com")
	w.Close()
	time.Sleep(50 * time.Millisecond)

	if len(checker.checked()) != 0 {
		t.Error("check ran after close")
	}
	if err := w.SetEmail("x@y.com"); !errors.Is(err, ErrWizardClosed) {
		t.Errorf("set email after close = %v", err)
	}
}

func TestSubmitRequiresFinalStep(t *testing.T) {
	w := newTestWizard(newFixture(t))
	defer w.Close()

	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrWrongStep) {
		t.Errorf("submit = %v, want ErrWrongStep", err)
	}
}
