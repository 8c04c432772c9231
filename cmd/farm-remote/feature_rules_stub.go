//go:build no_rules

package main

import (
	"log/slog"

	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/session"
)

type rulesStopper struct{}

func (r *rulesStopper) Stop() {}

func initRules(_ *eventlog.Log, _ eventlog.Notifier, _ *session.EventBus, _ *Config, _ *slog.Logger) *rulesStopper {
	return &rulesStopper{}
}
