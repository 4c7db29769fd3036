package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/hoadmin/internal/auth"
	"github.com/dukerupert/hoadmin/internal/model"
	"github.com/dukerupert/hoadmin/internal/store"
)

const (
	maxCodeAttempts = 5
	maxBodyBytes    = 4 << 10
)

// Mailer delivers the functions' emails.
type Mailer interface {
	SendVerificationCode(ctx context.Context, toEmail, code string, ttlMinutes int) error
	SendAdminID(ctx context.Context, toEmail, adminID, name string) error
}

// response is the envelope every function answers with.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type VerificationHandler struct {
	codes  *store.VerificationStore
	mailer Mailer
	logger *slog.Logger
}

func NewVerificationHandler(codes *store.VerificationStore, mailer Mailer, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{codes: codes, mailer: mailer, logger: logger}
}

type sendCodeRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type sendAdminIDRequest struct {
	Email   string `json:"email"`
	AdminID string `json:"admin_id"`
	Name    string `json:"name"`
}

// SendCode handles POST /send-verification-code
func (h *VerificationHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !decode(w, r, &req) {
		return
	}
	emailAddr := normalizeEmail(req.Email)
	if !validEmail(emailAddr) {
		fail(w, http.StatusBadRequest, "A valid email address is required")
		return
	}

	code, _, err := h.codes.Create(emailAddr, model.PurposeRegistration)
	if err != nil {
		h.logger.Error("create verification code", "error", err)
		fail(w, http.StatusInternalServerError, "Failed to create verification code")
		return
	}

	ttl := int(store.CodeTTL.Minutes())
	if err := h.mailer.SendVerificationCode(r.Context(), emailAddr, code, ttl); err != nil {
		h.logger.Error("send verification email", "error", err)
		fail(w, http.StatusBadGateway, "Failed to send verification email")
		return
	}

	writeJSON(w, http.StatusOK, response{Success: true, Message: "Verification code sent"})
}

// VerifyCode handles POST /verify-code
func (h *VerificationHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decode(w, r, &req) {
		return
	}
	emailAddr := normalizeEmail(req.Email)
	code := strings.TrimSpace(req.Code)

	if errMsg := h.validateCode(emailAddr, code); errMsg != "" {
		fail(w, http.StatusBadRequest, errMsg)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Email verified"})
}

// validateCode checks the code for the given email, handling attempts and
// expiry. Returns an error message string on failure.
func (h *VerificationHandler) validateCode(emailAddr, code string) string {
	if emailAddr == "" || code == "" {
		return "Email and code are required"
	}

	latest, err := h.codes.GetLatest(emailAddr, model.PurposeRegistration)
	if err != nil {
		h.logger.Error("validate code lookup", "error", err)
		return "Internal error"
	}
	if latest == nil {
		return "No verification code found. Please request a new one."
	}

	if latest.Attempts >= maxCodeAttempts {
		h.codes.MarkUsed(latest.ID)
		return "Too many incorrect attempts. Please request a new code."
	}

	if !h.codes.Matches(latest, code) {
		attempts, err := h.codes.IncrementAttempts(latest.ID)
		if err != nil {
			h.logger.Error("increment attempts", "error", err)
		}
		if attempts >= maxCodeAttempts {
			h.codes.MarkUsed(latest.ID)
			return "Too many incorrect attempts. Please request a new code."
		}
		return "Invalid verification code"
	}

	if err := h.codes.MarkVerified(latest.ID); err != nil {
		h.logger.Error("mark verified", "error", err)
		return "Internal error"
	}
	return ""
}

// SendAdminID handles POST /send-admin-id. The console signs out before
// mailing, so the caller is anonymous; only a recently verified email may
// receive an identifier.
func (h *VerificationHandler) SendAdminID(w http.ResponseWriter, r *http.Request) {
	var req sendAdminIDRequest
	if !decode(w, r, &req) {
		return
	}
	emailAddr := normalizeEmail(req.Email)
	adminID := strings.TrimSpace(req.AdminID)
	if !validEmail(emailAddr) || adminID == "" {
		fail(w, http.StatusBadRequest, "Email and admin ID are required")
		return
	}

	verified, err := h.codes.VerifiedRecently(emailAddr, model.PurposeRegistration)
	if err != nil {
		h.logger.Error("check verified email", "error", err)
		fail(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if !verified {
		fail(w, http.StatusForbidden, "Email has not been verified")
		return
	}
	h.logger.Info("send admin id", "admin_id", adminID, "caller", auth.Subject(r.Context()))

	if err := h.mailer.SendAdminID(r.Context(), emailAddr, adminID, strings.TrimSpace(req.Name)); err != nil {
		h.logger.Error("send admin id email", "error", err)
		fail(w, http.StatusBadGateway, "Failed to send admin ID email")
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Admin ID sent"})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	return strings.Contains(s, "@") && strings.Contains(s, ".")
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, response{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
