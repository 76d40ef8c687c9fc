package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/skyview-app/skyview/pkg/atproto"
	"github.com/skyview-app/skyview/pkg/authn"
	"github.com/skyview-app/skyview/pkg/config"
	"github.com/skyview-app/skyview/pkg/prettylog"
	"github.com/skyview-app/skyview/pkg/util"
	"github.com/skyview-app/skyview/pkg/web"
)

func main() {
	godotenv.Load()

	cfg := loadConfig()
	setupLogging(cfg)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout.Std()}

	states, sessions := buildStores(cfg)
	resolver := buildResolver(cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := authn.NewMetrics(registry)

	var recorder authn.Recorder
	hub := web.NewEventHub()
	if cfg.DevMode {
		recorder = hub
	}

	flow, err := authn.NewFlow(authn.FlowConfig{
		ClientID:    cfg.ClientID(),
		RedirectURI: cfg.RedirectURI(),
		Scope:       cfg.Scope,
		Resolver:    resolver,
		States:      states,
		Sessions:    sessions,
		HTTPClient:  httpClient,
	})
	if err != nil {
		slog.Error("Failed to build auth flow", "error", err)
		os.Exit(1)
	}

	factory, err := authn.NewFactory(authn.FactoryConfig{
		ClientID:   cfg.ClientID(),
		Sessions:   sessions,
		HTTPClient: httpClient,
		Metrics:    metrics,
		Recorder:   recorder,
	})
	if err != nil {
		slog.Error("Failed to build client factory", "error", err)
		os.Exit(1)
	}

	svc := authn.NewService(flow, factory, sessions, metrics, recorder)

	server, err := web.New(cfg, svc, hub, registry)
	if err != nil {
		slog.Error("Failed to build HTTP surface", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	server.MountRoutes(e)

	go func() {
		slog.Info("Starting skyview", "addr", cfg.Address, "dev_mode", cfg.DevMode, "client_id", cfg.ClientID())
		if err := e.Start(cfg.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}

func loadConfig() *config.Config {
	path := util.GetEnv("SKYVIEW_CONFIG_PATH", "config/skyview.yaml")

	if _, err := os.Stat(path); err != nil {
		slog.Info("No config file, using development defaults", "path", path)
		return config.Default()
	}

	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		slog.Error("Failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.DevMode {
		level = slog.LevelDebug
	}

	if cfg.DevMode && os.Getenv("PRETTY_LOGS") != "false" {
		slog.SetDefault(slog.New(prettylog.NewHandler(level)))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}
}

func buildStores(cfg *config.Config) (authn.StateStore, authn.SessionStore) {
	if cfg.RedisAddr == "" {
		slog.Info("Using in-memory stores")
		return authn.NewMemoryStateStore(cfg.StateTTL.Std()), authn.NewMemorySessionStore()
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	slog.Info("Using Redis stores", "addr", cfg.RedisAddr)
	return authn.NewRedisStateStore(rdb, cfg.StateTTL.Std()),
		authn.NewRedisSessionStore(rdb, cfg.SessionTTL.Std())
}

func buildResolver(cfg *config.Config) atproto.IssuerResolver {
	if cfg.DevMode {
		return &atproto.LocalhostResolver{PDSURL: cfg.DevPDSURL}
	}
	return atproto.NewDirectoryResolver(cfg.FallbackAuthServer, cfg.HTTPTimeout.Std())
}
