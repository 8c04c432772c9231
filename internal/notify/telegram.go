// Package notify delivers best-effort user notifications. Delivery is
// fire-and-forget: a misconfigured or failing transport is skipped silently
// as far as callers are concerned.
package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TelegramConfig holds bot credentials and recipients.
type TelegramConfig struct {
	BotToken string
	ChatIDs  []string
}

// Telegram sends notifications through the Telegram bot API.
type Telegram struct {
	cfg    TelegramConfig
	api    string // base URL, overridable in tests
	http   *http.Client
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) *Telegram {
	return &Telegram{
		cfg:    cfg,
		api:    "https://api.telegram.org",
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "notify"),
	}
}

// Enabled reports whether the notifier is configured to deliver anything.
func (t *Telegram) Enabled() bool {
	return t.cfg.BotToken != "" && len(t.cfg.ChatIDs) > 0
}

// Notify sends the message to every configured chat ID. Fire-and-forget:
// failures are logged and never returned.
func (t *Telegram) Notify(title, body string) {
	if !t.Enabled() {
		return
	}
	msg := body
	if title != "" {
		msg = strings.ToUpper(title[:1]) + title[1:] + ": " + body
	}
	for _, chatID := range t.cfg.ChatIDs {
		go t.send(chatID, msg)
	}
}

func (t *Telegram) send(chatID, msg string) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.api, t.cfg.BotToken)
	payload := fmt.Sprintf(`{"chat_id":%q,"text":%q}`, chatID, msg)

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		t.logger.Error("telegram request create", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		t.logger.Error("telegram send", "err", err, "chat_id", chatID)
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("telegram send non-200", "status", resp.StatusCode, "chat_id", chatID)
	}
}
