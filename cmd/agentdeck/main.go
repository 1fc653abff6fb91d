package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caracole/agentdeck/internal/ceremony"
	"github.com/caracole/agentdeck/internal/chat"
	"github.com/caracole/agentdeck/internal/config"
	"github.com/caracole/agentdeck/internal/gateway"
	"github.com/caracole/agentdeck/internal/health"
	"github.com/caracole/agentdeck/internal/livestats"
	"github.com/caracole/agentdeck/internal/metrics"
	"github.com/caracole/agentdeck/internal/mgmt"
	"github.com/caracole/agentdeck/internal/project"
	"github.com/caracole/agentdeck/internal/roster"
	"github.com/caracole/agentdeck/internal/store"
	"github.com/caracole/agentdeck/internal/tokens"
	"github.com/caracole/agentdeck/lru"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("db_path", cfg.DBPath).
		Bool("chat_enabled", cfg.ChatEnabled()).
		Msg("starting agentdeck")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data directory")
	}

	ds, err := store.New(cfg.DBPath, store.Options{SourcesDir: cfg.SourcesDir()}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer ds.Close()

	collector := metrics.New()
	checker := health.NewChecker(logger)
	checker.Register("sqlite", func(ctx context.Context) health.Status {
		if err := ds.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	rosterStore := roster.NewStore(ds, logger)
	projectStore := project.NewStore(ds, logger)
	live := livestats.NewSource(cfg.AgentsDir())

	rates := tokens.DefaultRates()
	if cfg.RatesFile != "" {
		if loaded, err := tokens.LoadRates(cfg.RatesFile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.RatesFile).Msg("failed to load rates file, using defaults")
		} else {
			rates = loaded
		}
	}
	ledger := tokens.NewStore(ds, rates, logger)
	usage := tokens.NewAggregator(ledger, rosterStore, projectStore, live, logger)

	// Chat service is optional: without it the dashboard runs read-only
	// with respect to ceremonies.
	var ceremonies project.CeremonyTrigger
	if cfg.ChatEnabled() {
		channelCache := lru.New[string, string](256)
		chatClient := chat.New(cfg.ChatToken, cfg.ChatTeamID, channelCache, logger)
		ceremonies = ceremony.New(chatClient, rosterStore, projectStore, ceremony.Config{
			SupervisorUserID: cfg.SupervisorUser,
			CoordinatorID:    cfg.CoordinatorID,
		}, logger)
		checker.Register("chat", func(ctx context.Context) health.Status {
			if err := chatClient.Ping(ctx); err != nil {
				return health.StatusDegraded
			}
			return health.StatusOK
		})
	} else {
		logger.Info().Msg("chat service not configured — ceremonies disabled")
	}

	runtime := gateway.New(cfg.GatewayBin, cfg.CoordinatorID, cfg.GatewayTimeout, logger)
	if !runtime.Available() {
		logger.Warn().Str("bin", cfg.GatewayBin).Msg("runtime CLI not found, nudges will not be delivered")
	}

	manager := project.NewManager(projectStore, project.ManagerConfig{
		Ceremonies:    ceremonies,
		Notifier:      runtime,
		Sink:          collector,
		Cooldown:      cfg.NudgeCooldown,
		CoordinatorID: cfg.CoordinatorID,
	}, logger)

	handlers := mgmt.NewHandlers(projectStore, manager, ledger, usage, rosterStore, live, checker, collector, logger)
	server := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
	}, handlers, checker, collector, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("api server error")
		}
	}

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	// Drain in-flight ceremony submissions before closing the store.
	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown with ceremonies in flight")
	}

	logger.Info().Msg("agentdeck stopped")
}
