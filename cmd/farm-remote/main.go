package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"farm-go-remote/internal/auth"
	"farm-go-remote/internal/device"
	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/history"
	"farm-go-remote/internal/model"
	"farm-go-remote/internal/notify"
	"farm-go-remote/internal/remote"
	"farm-go-remote/internal/schedule"
	"farm-go-remote/internal/session"
	"farm-go-remote/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Store struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		Offline     bool   `yaml:"offline"` // in-memory store, no broker
	} `yaml:"store"`
	Auth struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"auth"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Telegram struct {
		BotToken string   `yaml:"bot_token"`
		ChatIDs  []string `yaml:"chat_ids"`
	} `yaml:"telegram"`
	History struct {
		Path           string `yaml:"path"`
		RetentionHours int    `yaml:"retention_hours"`
	} `yaml:"history"`
	RulesDir string `yaml:"rules_dir"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if !c.Store.Offline {
		if c.Store.Broker == "" {
			return fmt.Errorf("store.broker is required")
		}
		if c.Auth.Endpoint == "" {
			return fmt.Errorf("auth.endpoint is required")
		}
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("farm-remote starting", "version", version)

	notifier := notify.NewTelegram(notify.TelegramConfig{
		BotToken: cfg.Telegram.BotToken,
		ChatIDs:  cfg.Telegram.ChatIDs,
	}, logger)
	log := eventlog.New(eventlog.WithNotifier(notifier))

	channel, err := createChannel(cfg, logger)
	if err != nil {
		logger.Error("connect store", "err", err)
		os.Exit(1)
	}
	defer channel.Close()

	devices := device.NewController(channel, log, device.SystemClock(), logger)
	sched := schedule.NewManager(channel, log)
	bus := session.NewEventBus(logger)
	sess := session.New(channel, devices, sched, log, bus, logger)

	// Sensor history is a consumer of snapshot events, not part of the sync
	// core.
	var hist *history.Store
	var histStop func()
	if cfg.History.Path != "" {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Error("open history", "err", err)
			os.Exit(1)
		}
		defer hist.Close()
		histStop = startHistory(hist, bus, cfg.History.RetentionHours, logger)
	}

	// Rule scripts (no-op when built with the no_rules tag).
	rulesEngine := initRules(log, notifier, bus, cfg, logger)

	ctx, cancelAuth := context.WithCancel(context.Background())
	defer cancelAuth()
	if cfg.Store.Offline {
		// No auth service offline; go straight to active.
		sess.HandleAuth(true)
	} else {
		authClient := auth.NewClient(auth.Config{
			Endpoint: cfg.Auth.Endpoint,
			APIKey:   cfg.Auth.APIKey,
		}, logger)
		defer authClient.OnChange(sess.HandleAuth)()
		authClient.Start(ctx)
	}

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if hist != nil {
		webOpts = append(webOpts, web.WithHistory(hist))
	}
	webOpts = append(webOpts, web.WithVersion(version))

	webServer := web.NewServer(sess, devices, sched, log, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancelAuth()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	rulesEngine.Stop()
	if histStop != nil {
		histStop()
	}
	// Close the session last among consumers; pending momentary reverts
	// still fire against the still-open channel.
	sess.Close()

	logger.Info("goodbye")
}

func createChannel(cfg *Config, logger *slog.Logger) (remote.Channel, error) {
	if cfg.Store.Offline {
		logger.Info("using in-memory store (offline mode)")
		return seedOfflineChannel(), nil
	}
	return remote.NewMQTTChannel(remote.MQTTConfig{
		Broker:      cfg.Store.Broker,
		ClientID:    cfg.Store.ClientID,
		Username:    cfg.Store.Username,
		Password:    cfg.Store.Password,
		TopicPrefix: cfg.Store.TopicPrefix,
	}, logger)
}

// seedOfflineChannel preloads the in-memory store with a plausible
// controller state so the UI has something to show.
func seedOfflineChannel() *remote.MemoryChannel {
	ch := remote.NewMemoryChannel()
	ch.Push("sensors", []byte(`{"temperature":24.5,"humidity":61.0,"ammonia":8.2,"feedLevel":73}`))
	ch.Push("controls", []byte(`{"fan":false,"heater":false,"led":true,"feed":false,"stepper1":false,"stepper2":false}`))
	ch.Push("schedule", []byte(`{"egg_time":"07:30","stool_time":"18:00","feed_time":"08:15","led_on":"06:00","led_off":"21:30"}`))
	return ch
}

// startHistory records every sensors event and prunes on an hourly tick.
// Returns a stop function.
func startHistory(hist *history.Store, bus *session.EventBus, retentionHours int, logger *slog.Logger) func() {
	if retentionHours <= 0 {
		retentionHours = 24 * 7
	}
	retention := time.Duration(retentionHours) * time.Hour

	unsub := bus.On(session.EventSensors, func(event session.Event) {
		snap, ok := event.Data.(model.SensorSnapshot)
		if !ok {
			return
		}
		if err := hist.Record(time.Now(), snap); err != nil {
			logger.Warn("record history", "err", err)
		}
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if n, err := hist.Prune(time.Now().Add(-retention)); err != nil {
					logger.Warn("prune history", "err", err)
				} else if n > 0 {
					logger.Debug("pruned history", "removed", n)
				}
			}
		}
	}()

	return func() {
		unsub()
		close(done)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.ClientID == "" {
		cfg.Store.ClientID = "farm-remote"
	}
	if cfg.Store.TopicPrefix == "" {
		cfg.Store.TopicPrefix = "farm"
	}
	if cfg.RulesDir == "" {
		cfg.RulesDir = "rules"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
