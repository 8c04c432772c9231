// Package auth implements the anonymous sign-in collaborator. The core only
// consumes its boolean authenticated signal; token refresh and retry policy
// live here, not in the session.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds the auth endpoint settings.
type Config struct {
	Endpoint string // base URL of the store's auth service
	APIKey   string
}

// Client performs anonymous sign-in and notifies listeners of the outcome.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	listeners map[uint64]func(bool)
	nextID    uint64
}

// NewClient creates an auth client. It does nothing until Start.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With("component", "auth"),
		listeners: make(map[uint64]func(bool)),
	}
}

// OnChange registers a listener for authentication transitions. Returns an
// unsubscribe function.
func (c *Client) OnChange(fn func(authenticated bool)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Token returns the current session token, empty until signed in.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Start runs the sign-in loop in a goroutine: each failed attempt notifies
// listeners with false and is retried with exponential backoff; the first
// success notifies true and ends the loop.
func (c *Client) Start(ctx context.Context) {
	go func() {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 0 // keep retrying until ctx is done
		err := backoff.Retry(func() error {
			token, err := c.signInAnonymously(ctx)
			if err != nil {
				c.logger.Warn("anonymous sign-in failed", "err", err)
				c.notify(false)
				return err
			}
			c.mu.Lock()
			c.token = token
			c.mu.Unlock()
			c.notify(true)
			return nil
		}, backoff.WithContext(bo, ctx))
		if err != nil && ctx.Err() == nil {
			c.logger.Error("sign-in loop stopped", "err", err)
		}
	}()
}

func (c *Client) signInAnonymously(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/v1/accounts:signUp?key=%s", c.cfg.Endpoint, c.cfg.APIKey)
	body := bytes.NewReader([]byte(`{"returnSecureToken":true}`))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sign-in status %d", resp.StatusCode)
	}

	var result struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode sign-in response: %w", err)
	}
	if result.IDToken == "" {
		return "", fmt.Errorf("sign-in response missing token")
	}
	return result.IDToken, nil
}

func (c *Client) notify(authenticated bool) {
	c.mu.Lock()
	listeners := make([]func(bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(authenticated)
	}
}
