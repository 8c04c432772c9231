//go:build !no_rules

package main

import (
	"log/slog"

	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/rules"
	"farm-go-remote/internal/session"
)

type rulesStopper struct {
	engine *rules.Engine
}

func (r *rulesStopper) Stop() {
	if r.engine != nil {
		r.engine.Stop()
	}
}

func initRules(log *eventlog.Log, notifier eventlog.Notifier, bus *session.EventBus, cfg *Config, logger *slog.Logger) *rulesStopper {
	engine := rules.NewEngine(log, notifier, logger)
	if err := engine.Start(cfg.RulesDir, bus); err != nil {
		logger.Error("rules engine", "err", err)
		return &rulesStopper{}
	}
	return &rulesStopper{engine: engine}
}
