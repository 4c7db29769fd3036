package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/hoadmin/internal/backend"
)

// refreshSkew is how close to expiry a token may get before it is refreshed.
const refreshSkew = 60 * time.Second

var _ backend.Auth = (*Client)(nil)

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *backend.User `json:"user"`

	// Present when signup returns a bare user (email confirmation pending).
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (t *tokenResponse) user() backend.User {
	if t.User != nil {
		return *t.User
	}
	return backend.User{ID: t.ID, Email: t.Email, Metadata: t.UserMetadata}
}

func (t *tokenResponse) session() *backend.Session {
	return &backend.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.expiry(),
		User:         t.user(),
	}
}

func (t *tokenResponse) expiry() time.Time {
	switch {
	case t.ExpiresAt > 0:
		return time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		return time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tokenExpiry(t.AccessToken)
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client only uses it to schedule refreshes.
func tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// OnAuthStateChange registers fn for auth events. Events are delivered
// synchronously on the goroutine that caused them.
func (c *Client) OnAuthStateChange(fn func(backend.AuthEvent)) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Client) emit(evt backend.AuthEvent) {
	c.listenersMu.Lock()
	fns := make([]func(backend.AuthEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// setSession stores s in memory and in the session store.
func (c *Client) setSession(s *backend.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	if c.sessions == nil {
		return
	}
	if _, err := c.sessions.Save(s.User.ID, s.User.Email, s.AccessToken, s.RefreshToken, s.ExpiresAt); err != nil {
		c.logger.Error("persist session", "error", err)
	}
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	if c.sessions == nil {
		return
	}
	if err := c.sessions.Clear(); err != nil {
		c.logger.Error("clear persisted session", "error", err)
	}
}

func (c *Client) currentSession() *backend.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// GetSession returns the in-memory session, restoring it from the session
// store on first use. An expired session is refreshed; if that fails the
// stored session is discarded and nil is returned.
func (c *Client) GetSession(ctx context.Context) (*backend.Session, error) {
	sess := c.currentSession()
	if sess == nil && c.sessions != nil {
		stored, err := c.sessions.Load()
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if stored != nil {
			sess = &backend.Session{
				AccessToken:  stored.AccessToken,
				RefreshToken: stored.RefreshToken,
				ExpiresAt:    stored.ExpiresAt,
				User:         backend.User{ID: stored.UserID, Email: stored.Email},
			}
			c.mu.Lock()
			c.session = sess
			c.mu.Unlock()
		}
	}
	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(refreshSkew) {
		return sess, nil
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		c.logger.Warn("refresh restored session", "error", err)
		c.clearSession()
		return nil, nil
	}
	return refreshed, nil
}

// SignUp creates an auth identity. If the backend auto-confirms and returns
// a session, it becomes current and SIGNED_IN is emitted.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*backend.User, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	data, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   body,
		token:  c.anonKey,
	})
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decode sign up: %w", err)
	}
	user := tr.user()
	if user.ID == "" {
		return nil, fmt.Errorf("sign up: response carried no user")
	}

	if tr.AccessToken != "" {
		sess := tr.session()
		c.setSession(sess)
		c.emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: sess})
	}
	return &user, nil
}

// SignIn authenticates with email and password and emits SIGNED_IN.
func (c *Client) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
		token:  c.anonKey,
	})
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decode sign in: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("sign in: response carried no access token")
	}

	sess := tr.session()
	c.setSession(sess)
	c.emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: sess})
	return sess, nil
}

// RefreshSession exchanges the refresh token for a new session and emits
// TOKEN_REFRESHED.
func (c *Client) RefreshSession(ctx context.Context) (*backend.Session, error) {
	cur := c.currentSession()
	if cur == nil || cur.RefreshToken == "" {
		return nil, backend.ErrNoSession
	}

	data, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": cur.RefreshToken},
		token:  c.anonKey,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decode refresh: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("refresh session: response carried no access token")
	}

	sess := tr.session()
	if sess.User.ID == "" {
		sess.User = cur.User
	}
	c.setSession(sess)
	c.emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: sess})
	return sess, nil
}

// SignOut revokes the current session server-side (best effort), clears it
// locally and emits SIGNED_OUT. The local session is cleared even when the
// server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	cur := c.currentSession()

	var remoteErr error
	if cur != nil {
		_, remoteErr = c.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			query:  url.Values{"scope": {"local"}},
			token:  cur.AccessToken,
		})
	}

	c.clearSession()
	c.emit(backend.AuthEvent{Type: backend.EventSignedOut})

	if remoteErr != nil {
		return fmt.Errorf("sign out: %w", remoteErr)
	}
	return nil
}

// RunAutoRefresh refreshes the session shortly before it expires until ctx
// is cancelled.
func (c *Client) RunAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess := c.currentSession()
			if sess == nil || !sess.Expired(refreshSkew) {
				continue
			}
			if _, err := c.RefreshSession(ctx); err != nil {
				c.logger.Warn("auto refresh", "error", err)
			}
		}
	}
}
