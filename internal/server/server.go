package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/hoadmin/internal/handler"
	"github.com/dukerupert/hoadmin/internal/middleware"
	"github.com/dukerupert/hoadmin/internal/store"
	ws "github.com/dukerupert/hoadmin/internal/websocket"
)

const (
	sendLimit   = 5
	verifyLimit = 10
	limitWindow = time.Minute
)

// Functions serves the registration endpoints the console calls during
// sign-up: code delivery, code verification, and the admin-ID mail.
type Functions struct {
	verificationH *handler.VerificationHandler
	codes         *store.VerificationStore
	rateLimiter   *middleware.RateLimiter
	jwtSecret     []byte
	logger        *slog.Logger
}

func NewFunctions(db *sql.DB, mailer handler.Mailer, jwtSecret []byte, logger *slog.Logger) *Functions {
	codes := store.NewVerificationStore(db)
	return &Functions{
		verificationH: handler.NewVerificationHandler(codes, mailer, logger.With("component", "verification")),
		codes:         codes,
		rateLimiter:   middleware.NewRateLimiter(),
		jwtSecret:     jwtSecret,
		logger:        logger,
	}
}

// VerificationStore returns the code store for cleanup tasks.
func (s *Functions) VerificationStore() *store.VerificationStore {
	return s.codes
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Functions) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Functions) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", healthHandler)

	bearer := middleware.RequireBearer(s.jwtSecret)
	outerMux.Handle("POST /send-verification-code", bearer(s.rateLimited(s.verificationH.SendCode, sendLimit)))
	outerMux.Handle("POST /verify-code", bearer(s.rateLimited(s.verificationH.VerifyCode, verifyLimit)))
	outerMux.Handle("POST /send-admin-id", bearer(s.rateLimited(s.verificationH.SendAdminID, sendLimit)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Functions) rateLimited(h http.HandlerFunc, limit int) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP, limit, limitWindow)(h)
}

// Console serves the local UI channel of a running console: the websocket
// event stream and device registration for push alerts.
type Console struct {
	hub            *ws.Hub
	pushH          *handler.PushHandler
	originPatterns []string
	logger         *slog.Logger
}

// NewConsole builds the local router. pushH may be nil when push alerts are
// not configured.
func NewConsole(hub *ws.Hub, pushH *handler.PushHandler, logger *slog.Logger, originPatterns ...string) *Console {
	return &Console{hub: hub, pushH: pushH, originPatterns: originPatterns, logger: logger}
}

func (s *Console) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket"), s.originPatterns...))

	if s.pushH != nil {
		mux.HandleFunc("POST /push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /push/subscribe", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /push/vapid-key", s.pushH.VAPIDKey)
	}

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
