// Package functions calls the verification and admin-id mail functions.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/hoadmin/internal/backend"
)

var _ backend.Functions = (*Client)(nil)

// Error is a failure reported by a function. Message is meant for the user.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Client struct {
	baseURL    string
	anonKey    string
	token      func() string
	httpClient *http.Client
}

type Option func(*Client)

// WithTokenSource sets where the bearer token comes from. The anon key is
// used when fn returns "".
func WithTokenSource(fn func() string) Option {
	return func(c *Client) {
		c.token = fn
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendVerificationCode asks the service to mail a fresh one-time code to email.
func (c *Client) SendVerificationCode(ctx context.Context, email string) error {
	return c.invoke(ctx, "send-verification-code", map[string]string{"email": email})
}

// VerifyCode checks code for email. A rejected code returns *Error carrying
// the service's message.
func (c *Client) VerifyCode(ctx context.Context, email, code string) error {
	return c.invoke(ctx, "verify-code", map[string]string{"email": email, "code": code})
}

// SendAdminID mails the generated admin identifier to the admin's contact address.
func (c *Client) SendAdminID(ctx context.Context, email, adminID, name string) error {
	return c.invoke(ctx, "send-admin-id", map[string]string{
		"email":    email,
		"admin_id": adminID,
		"name":     name,
	})
}

func (c *Client) bearer() string {
	if c.token != nil {
		if t := c.token(); t != "" {
			return t
		}
	}
	return c.anonKey
}

func (c *Client) invoke(ctx context.Context, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	var r response
	decodeErr := json.NewDecoder(resp.Body).Decode(&r)

	if resp.StatusCode != http.StatusOK || !r.Success {
		msg := r.Error
		if msg == "" {
			msg = r.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("%s: status %d", name, resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s response: %w", name, decodeErr)
	}
	return nil
}

// Message returns the user-facing text of err: the service's message when
// the function rejected the call, otherwise a generic retry hint.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "Something went wrong. Please try again."
}
