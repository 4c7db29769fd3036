// Package register runs new-admin registration: the three-step wizard, the
// submission handshake with the backend and the post-success countdown.
package register

import (
	"strings"
	"unicode"
)

const (
	FieldFirstName       = "first_name"
	FieldLastName        = "last_name"
	FieldPosition        = "position"
	FieldEmail           = "email"
	FieldCode            = "code"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirm_password"
)

const (
	MinPasswordLength = 8
	CodeLength        = 6

	// PositionOther selects the free-text position.
	PositionOther = "Other"

	passwordSymbols = `!@#$%^&*(),.?":{}|<>`
)

// Positions is the fixed list offered in step 1.
var Positions = []string{
	"President",
	"Vice President",
	"Secretary",
	"Treasurer",
	"Auditor",
	"Board Member",
	PositionOther,
}

// FieldError is a validation failure shown next to one field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

func fieldErr(field, msg string) *FieldError {
	return &FieldError{Field: field, Message: msg}
}

// Form is everything the wizard collects.
type Form struct {
	FirstName       string
	LastName        string
	Position        string
	OtherPosition   string
	Email           string
	Password        string
	ConfirmPassword string
}

// ResolvedPosition returns the free-text value when "Other" is selected.
func (f Form) ResolvedPosition() string {
	if f.Position == PositionOther {
		return strings.TrimSpace(f.OtherPosition)
	}
	return strings.TrimSpace(f.Position)
}

// ValidEmail is the loose syntactic check used before any backend call.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	return strings.Contains(email, "@") && strings.Contains(email, ".")
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidatePassword returns nil if pw satisfies the password policy.
func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return fieldErr(FieldPassword, "Password must be at least 8 characters")
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return fieldErr(FieldPassword, "Password must contain at least one uppercase letter")
	case !lower:
		return fieldErr(FieldPassword, "Password must contain at least one lowercase letter")
	case !digit:
		return fieldErr(FieldPassword, "Password must contain at least one number")
	case !symbol:
		return fieldErr(FieldPassword, "Password must contain at least one special character")
	}
	return nil
}

// ValidateField checks one field of form, with value as its current input.
func ValidateField(field, value string, form Form) error {
	switch field {
	case FieldFirstName:
		if strings.TrimSpace(value) == "" {
			return fieldErr(field, "First name is required")
		}
	case FieldLastName:
		if strings.TrimSpace(value) == "" {
			return fieldErr(field, "Last name is required")
		}
	case FieldPosition:
		if strings.TrimSpace(value) == "" {
			return fieldErr(field, "Position is required")
		}
		if value == PositionOther && strings.TrimSpace(form.OtherPosition) == "" {
			return fieldErr(field, "Please specify your position")
		}
	case FieldEmail:
		if strings.TrimSpace(value) == "" {
			return fieldErr(field, "Email is required")
		}
		if !ValidEmail(value) {
			return fieldErr(field, "Please enter a valid email address")
		}
	case FieldPassword:
		return ValidatePassword(value)
	case FieldConfirmPassword:
		if value == "" {
			return fieldErr(field, "Please confirm your password")
		}
		if value != form.Password {
			return fieldErr(field, "Passwords do not match")
		}
	}
	return nil
}

// ValidateStep checks the fields collected by one wizard step.
func ValidateStep(step int, form Form) error {
	var fields []string
	switch step {
	case 1:
		fields = []string{FieldFirstName, FieldLastName, FieldPosition}
	case 2:
		fields = []string{FieldEmail}
	case 3:
		fields = []string{FieldPassword, FieldConfirmPassword}
	}
	for _, f := range fields {
		if err := ValidateField(f, form.value(f), form); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every step.
func (f Form) Validate() error {
	for step := 1; step <= 3; step++ {
		if err := ValidateStep(step, f); err != nil {
			return err
		}
	}
	return nil
}

func (f Form) value(field string) string {
	switch field {
	case FieldFirstName:
		return f.FirstName
	case FieldLastName:
		return f.LastName
	case FieldPosition:
		return f.Position
	case FieldEmail:
		return f.Email
	case FieldPassword:
		return f.Password
	case FieldConfirmPassword:
		return f.ConfirmPassword
	}
	return ""
}
