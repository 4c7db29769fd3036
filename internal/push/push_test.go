package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dukerupert/hoadmin/internal/alert"
	"github.com/dukerupert/hoadmin/internal/database"
	"github.com/dukerupert/hoadmin/internal/model"
	"github.com/dukerupert/hoadmin/internal/store"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	// Public key should be base64url-encoded, 65 bytes uncompressed P-256 point
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

// deviceKeys returns browser-side subscription keys.
func deviceKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}
	secret := make([]byte, 16)
	rand.Read(secret)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

type pushServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

// newPushServer answers 410 for endpoints ending in /gone and 201 otherwise.
func newPushServer(t *testing.T) *pushServer {
	ps := &pushServer{hits: map[string]int{}}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.hits[r.URL.Path]++
		ps.mu.Unlock()
		if !strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) count(path string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hits[path]
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("vapid: %v", err)
	}
	return NewService(pub, priv)
}

func TestNotifierPrunesExpired(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	subs := store.NewPushStore(db)
	ps := newPushServer(t)

	p1, a1 := deviceKeys(t)
	p2, a2 := deviceKeys(t)
	subs.CreateSubscription("482193", ps.URL+"/push/laptop", p1, a1, "Laptop")
	subs.CreateSubscription("482193", ps.URL+"/push/gone", p2, a2, "Old phone")

	n := NewNotifier(newTestService(t), subs, slog.New(slog.DiscardHandler))
	if err := n.Alert(context.Background(), alert.NewNotice("residents", "New registration", []string{"3"})); err != nil {
		t.Fatalf("alert: %v", err)
	}

	if ps.count("/push/laptop") != 1 || ps.count("/push/gone") != 1 {
		t.Errorf("hits = %v", ps.hits)
	}
	remaining, _ := subs.ListAll()
	if len(remaining) != 1 || remaining[0].DeviceName != "Laptop" {
		t.Errorf("remaining = %+v", remaining)
	}
}

type failingSubs struct{}

func (failingSubs) ListAll() ([]model.PushSubscription, error) {
	return nil, errors.New("db closed")
}

func (failingSubs) DeleteByEndpoint(string) error { return nil }

func TestNotifierListError(t *testing.T) {
	n := NewNotifier(newTestService(t), failingSubs{}, slog.New(slog.DiscardHandler))
	if err := n.Alert(context.Background(), alert.NewNotice("residents", "x", []string{"1"})); err == nil {
		t.Error("expected error")
	}
}
