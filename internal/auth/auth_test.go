package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSignInSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts:signUp" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"idToken":"tok-123"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "test-key"}, testLogger())

	results := make(chan bool, 4)
	defer c.OnChange(func(ok bool) { results <- ok })()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	select {
	case ok := <-results:
		if !ok {
			t.Fatal("expected authenticated=true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no auth callback")
	}
	if c.Token() != "tok-123" {
		t.Errorf("token = %q", c.Token())
	}
}

func TestSignInRetriesAfterFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"idToken":"tok-retry"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "k"}, testLogger())

	results := make(chan bool, 8)
	defer c.OnChange(func(ok bool) { results <- ok })()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	// First callback reports the failure, a later one the success.
	seenFailure := false
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ok := <-results:
			if !ok {
				seenFailure = true
				continue
			}
			if !seenFailure {
				t.Error("success arrived without a prior failure callback")
			}
			if c.Token() != "tok-retry" {
				t.Errorf("token = %q", c.Token())
			}
			return
		case <-deadline:
			t.Fatal("sign-in never succeeded")
		}
	}
}

func TestSignInMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "k"}, testLogger())
	if _, err := c.signInAnonymously(context.Background()); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestOnChangeUnsubscribe(t *testing.T) {
	c := NewClient(Config{}, testLogger())
	count := 0
	unsub := c.OnChange(func(bool) { count++ })
	c.notify(true)
	unsub()
	c.notify(true)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
