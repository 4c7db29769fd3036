package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendVerificationCode(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(response{Success: true, Message: "Verification code sent"})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "anon-key")
	if err := c.SendVerificationCode(context.Background(), "jane@x.com"); err != nil {
		t.Fatalf("send code: %v", err)
	}
	if gotPath != "/send-verification-code" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer anon-key" {
		t.Errorf("authorization = %q, want anon key", gotAuth)
	}
	if gotBody["email"] != "jane@x.com" {
		t.Errorf("email = %q", gotBody["email"])
	}
}

func TestVerifyCodeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(response{Error: "Invalid verification code"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon-key")
	err := c.VerifyCode(context.Background(), "jane@x.com", "000000")

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if fe.Status != http.StatusBadRequest {
		t.Errorf("status = %d", fe.Status)
	}
	if Message(err) != "Invalid verification code" {
		t.Errorf("message = %q", Message(err))
	}
}

func TestVerifyCodeSuccessFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Success: false, Message: "Code expired"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon-key")
	err := c.VerifyCode(context.Background(), "jane@x.com", "123456")
	if Message(err) != "Code expired" {
		t.Errorf("message = %q, want Code expired", Message(err))
	}
}

func TestSendAdminIDUsesTokenSource(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(response{Success: true})
	}))
	defer server.Close()

	c := NewClient(server.URL, "anon-key", WithTokenSource(func() string { return "user-token" }))
	if err := c.SendAdminID(context.Background(), "jane@x.com", "482193", "Jane Doe"); err != nil {
		t.Fatalf("send admin id: %v", err)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["admin_id"] != "482193" || gotBody["name"] != "Jane Doe" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestNetworkErrorGenericMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := NewClient(server.URL, "anon-key")
	err := c.SendVerificationCode(context.Background(), "jane@x.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if Message(err) != "Something went wrong. Please try again." {
		t.Errorf("message = %q", Message(err))
	}
}
