package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/jarvis-hub/internal/api"
	"github.com/nidhogg/jarvis-hub/internal/breaker"
	"github.com/nidhogg/jarvis-hub/internal/command"
	"github.com/nidhogg/jarvis-hub/internal/config"
	"github.com/nidhogg/jarvis-hub/internal/fallback"
	"github.com/nidhogg/jarvis-hub/internal/gateway"
	"github.com/nidhogg/jarvis-hub/internal/metrics"
	"github.com/nidhogg/jarvis-hub/internal/orchestrator"
	"github.com/nidhogg/jarvis-hub/internal/provider"
	"github.com/nidhogg/jarvis-hub/internal/router"
	"github.com/nidhogg/jarvis-hub/internal/skill"
	"github.com/nidhogg/jarvis-hub/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Starting JARVIS hub...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Skills
	bindings := skill.NewBindings()
	skill.RegisterBuiltins(bindings)
	registry := skill.NewRegistry(cfg.Skills.Dir, bindings, logger)
	report, err := registry.Reload(ctx)
	if err != nil {
		logger.Fatal("failed to load skills", zap.String("dir", cfg.Skills.Dir), zap.Error(err))
	}
	for _, le := range report.Errors {
		logger.Warn("skill descriptor rejected", zap.String("file", le.File), zap.String("reason", le.Reason))
	}

	// Fallback LLM
	chain := buildChain(cfg.Fallback, logger)
	var llm provider.Provider
	if chain.Len() > 0 {
		llm = chain
	} else {
		logger.Warn("no fallback provider configured, unmatched requests will be declined")
	}
	fb := fallback.NewClient(llm, fallback.Config{
		Model:          cfg.Fallback.Model,
		MaxTokens:      cfg.Fallback.MaxTokens,
		Temperature:    cfg.Fallback.Temperature,
		MaxHistory:     cfg.Fallback.MaxHistory,
		HistoryTokens:  cfg.Fallback.HistoryTokens,
		MaxRetries:     cfg.Fallback.Retries(),
		InitialBackoff: cfg.Fallback.InitialBackoff(),
		MaxBackoff:     cfg.Fallback.MaxBackoff(),
		RatePerSecond:  cfg.Fallback.RatePerSecond,
		RateBurst:      cfg.Fallback.RateBurst,
	}, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Registry: registry,
		Router:   router.New(cfg.Router.MinConfidence),
		Executor: skill.NewExecutor(cfg.Skills.ExecutionTimeout(), logger),
		Fallback: fb,
		Metrics:  metrics.NewRecorder(logger),
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout(),
		},
	}, logger)
	orch.SetRequestTimeout(cfg.Server.RequestTimeout())

	// PostgreSQL conversation history
	var history *store.Store
	if cfg.Database.Postgres.DSN != "" {
		s, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without history", zap.Error(err))
		} else if err := s.Migrate(ctx); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		} else {
			history = s
			orch.SetHistory(history, cfg.Fallback.MaxHistory)
		}
	}

	// Redis event stream
	var events *orchestrator.EventBus
	if cfg.Database.Redis.URL != "" {
		bus, err := orchestrator.NewEventBus(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without events", zap.Error(err))
		} else {
			bus.Start(ctx)
			events = bus
			orch.SetEvents(events)
		}
	}

	// Chat gateways
	var gw *gateway.Gateway
	var bridge *gateway.Bridge
	if cfg.Gateway.Slack.Enabled || cfg.Gateway.Discord.Enabled {
		gw = gateway.NewGateway(logger)
		bridge = gateway.NewBridge(ctx, gw, orch, cfg.Gateway.Concurrency, cfg.Server.RequestTimeout(), logger)
		cmds := command.NewRegistry()
		command.RegisterBuiltins(cmds, orch, gw)
		if history != nil {
			command.RegisterForget(cmds, history)
		}
		bridge.SetCommands(cmds.Bind())
		if cfg.Gateway.Slack.Enabled {
			gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
		}
		if cfg.Gateway.Discord.Enabled {
			gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
		}
		if err := gw.ConnectAll(ctx); err != nil {
			logger.Warn("some gateway adapters failed to connect", zap.Error(err))
		}
	}

	handler := api.NewHandler(orch, gw, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("JARVIS hub listening",
			zap.Int("port", cfg.Server.Port),
			zap.Int("skills", report.Loaded),
			zap.Bool("fallback", fb.Available()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down JARVIS hub...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if gw != nil {
		gw.Close()
		bridge.Wait()
	}
	if events != nil {
		if err := events.Close(); err != nil {
			logger.Warn("event bus close", zap.Error(err))
		}
	}
	if history != nil {
		history.Close()
	}
}

func newLogger(sc config.ServerConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if sc.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(sc.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

// buildChain registers every provider that carries a credential, in config
// order.
func buildChain(fc config.FallbackConfig, logger *zap.Logger) *provider.Chain {
	chain := provider.NewChain(logger)
	for _, pc := range fc.ConfiguredProviders() {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: pc.Timeout(),
		}
		switch pc.Type {
		case "openai":
			chain.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			chain.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	return chain
}
