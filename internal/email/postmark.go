package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
)

const postmarkURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      postmarkURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

type postmarkError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// SendVerificationCode mails a one-time email verification code.
func (c *Client) SendVerificationCode(ctx context.Context, toEmail, code string, ttlMinutes int) error {
	text := fmt.Sprintf(
		"Your HOA admin verification code is:\n\n%s\n\nThis code expires in %d minutes. If you did not request it, ignore this email.",
		code, ttlMinutes,
	)
	body := fmt.Sprintf(
		`<p>Your HOA admin verification code is:</p><p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p><p>This code expires in %d minutes. If you did not request it, ignore this email.</p>`,
		html.EscapeString(code), ttlMinutes,
	)
	return c.send(ctx, postmarkEmail{
		To:       toEmail,
		Subject:  "Your verification code",
		HtmlBody: body,
		TextBody: text,
		Tag:      "verification-code",
	})
}

// SendAdminID mails a newly registered admin their login identifier.
func (c *Client) SendAdminID(ctx context.Context, toEmail, adminID, name string) error {
	greeting := "Hello,"
	if name != "" {
		greeting = fmt.Sprintf("Hello %s,", name)
	}
	text := fmt.Sprintf(
		"%s\n\nYour HOA admin account is ready. Sign in with this Admin ID:\n\n%s\n\nKeep it somewhere safe; you will need it with your password every time you sign in.",
		greeting, adminID,
	)
	body := fmt.Sprintf(
		`<p>%s</p><p>Your HOA admin account is ready. Sign in with this Admin ID:</p><p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p><p>Keep it somewhere safe; you will need it with your password every time you sign in.</p>`,
		html.EscapeString(greeting), html.EscapeString(adminID),
	)
	return c.send(ctx, postmarkEmail{
		To:       toEmail,
		Subject:  "Your HOA Admin ID",
		HtmlBody: body,
		TextBody: text,
		Tag:      "admin-id",
	})
}

func (c *Client) send(ctx context.Context, msg postmarkEmail) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	msg.From = c.fromEmail

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var pe postmarkError
		if json.NewDecoder(resp.Body).Decode(&pe) == nil && pe.Message != "" {
			return fmt.Errorf("postmark API error: status %d: %s", resp.StatusCode, pe.Message)
		}
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
