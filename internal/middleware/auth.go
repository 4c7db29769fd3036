package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/hoadmin/internal/auth"
)

// backendClaims are the claims the hosted backend puts in its access tokens
// and in the anonymous project key.
type backendClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// RequireBearer verifies the HS256 bearer token signed with the backend's JWT
// secret and populates AuthContext. Anonymous project keys are accepted
// since registration runs before the admin has an account.
func RequireBearer(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing authorization token")
				return
			}

			var claims backendClaims
			_, err := parser.ParseWithClaims(strings.TrimSpace(h[len("Bearer "):]), &claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid authorization token")
				return
			}

			switch claims.Role {
			case auth.RoleAnon, auth.RoleAuthenticated:
			default:
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			ac := auth.AuthContext{
				Subject: claims.Subject,
				Email:   claims.Email,
				Role:    claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// writeError answers in the functions' JSON envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
