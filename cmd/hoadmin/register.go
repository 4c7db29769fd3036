package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/hoadmin/internal/functions"
	"github.com/dukerupert/hoadmin/internal/register"
)

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *prompter) say(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// askPosition offers the fixed list and returns the choice plus the
// free-text value when "Other" was picked.
func (p *prompter) askPosition() (string, string, error) {
	for i, pos := range register.Positions {
		p.say("  %d) %s", i+1, pos)
	}
	for {
		answer, err := p.ask("Position")
		if err != nil {
			return "", "", err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(register.Positions) {
			p.say("Pick a number between 1 and %d", len(register.Positions))
			continue
		}
		pos := register.Positions[n-1]
		if pos != register.PositionOther {
			return pos, "", nil
		}
		other, err := p.ask("Your position")
		return pos, other, err
	}
}

func runRegister(ctx context.Context, a *app, p *prompter) error {
	flow := register.NewFlow(a.client, a.admins, a.functions, a.coord, a.logger)
	w := register.NewWizard(a.admins, a.functions, flow, a.logger)
	defer w.Close()
	defer flow.Wait()

	p.say("Step 1 of 3: about you")
	for {
		first, err := p.ask("First name")
		if err != nil {
			return err
		}
		last, err := p.ask("Last name")
		if err != nil {
			return err
		}
		pos, other, err := p.askPosition()
		if err != nil {
			return err
		}
		w.SetIdentity(first, last, pos, other)
		if err := w.Next(); err != nil {
			p.say("%s", register.Message(err))
			continue
		}
		break
	}

	p.say("\nStep 2 of 3: verify your email")
	if err := verifyEmail(ctx, w, p); err != nil {
		return err
	}
	if err := w.Next(); err != nil {
		return err
	}

	p.say("\nStep 3 of 3: choose a password")
	for {
		pw, err := p.ask("Password")
		if err != nil {
			return err
		}
		confirm, err := p.ask("Confirm password")
		if err != nil {
			return err
		}
		w.SetPassword(pw, confirm)
		res, err := w.Submit(ctx)
		var fe *register.FieldError
		if errors.As(err, &fe) && (fe.Field == register.FieldPassword || fe.Field == register.FieldConfirmPassword) {
			p.say("%s", fe.Message)
			continue
		}
		if err != nil {
			p.say("%s", register.Message(err))
			return err
		}

		p.say("\nRegistration complete. Your admin ID is %s", res.AdminID)
		p.say("It has also been sent to your email. Use it to sign in.")
		waitRedirect(ctx, p)
		return nil
	}
}

// verifyEmail loops until the wizard holds an available, verified email.
func verifyEmail(ctx context.Context, w *register.Wizard, p *prompter) error {
	for {
		email, err := p.ask("Email")
		if err != nil {
			return err
		}
		if err := w.SetEmail(email); err != nil {
			return err
		}
		s, err := w.Wait(ctx, func(s register.State) bool {
			return s.EmailStatus != register.EmailChecking
		})
		if err != nil {
			return err
		}
		switch s.EmailStatus {
		case register.EmailUnchecked:
			p.say("Enter a valid email address")
			continue
		case register.EmailTaken, register.EmailCheckFailed:
			if s.Error != "" {
				p.say("%s", s.Error)
			} else {
				p.say("Could not check that email. Try again.")
			}
			continue
		}

		if err := w.SendCode(ctx); err != nil {
			p.say("Could not send the code: %s", codeMessage(err))
			continue
		}
		p.say("We sent a 6-digit code to %s", s.Form.Email)

		for {
			code, err := p.ask("Code (blank to resend)")
			if err != nil {
				return err
			}
			if code == "" {
				if err := w.SendCode(ctx); err != nil {
					p.say("%s", codeMessage(err))
				} else {
					p.say("A new code is on its way")
				}
				continue
			}
			if err := w.SetCode(code); err != nil {
				return err
			}
			if err := w.VerifyNow(ctx); err != nil {
				p.say("%s", codeMessage(err))
				continue
			}
			if w.State().Verified {
				p.say("Email verified")
				return nil
			}
		}
	}
}

func codeMessage(err error) string {
	var fe *register.FieldError
	var fnErr *functions.Error
	switch {
	case errors.As(err, &fe):
		return fe.Message
	case errors.As(err, &fnErr):
		return functions.Message(err)
	}
	return err.Error()
}

// waitRedirect runs the post-registration countdown. Pressing enter skips it.
func waitRedirect(ctx context.Context, p *prompter) {
	done := make(chan struct{})
	cd := register.NewCountdown(register.DefaultRedirectAfter, time.Second, func(left time.Duration) {
		fmt.Fprintf(p.out, "\rContinuing to sign-in in %ds (press enter to go now) ", int(left.Seconds()))
	}, func() { close(done) })
	cd.Start()
	defer cd.Stop()

	go func() {
		if p.in.Scan() {
			cd.GoNow()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	p.say("\nRun: hoadmin login <admin-id>")
}
