// FragmentForge server entrypoint: wires config, persistence, the event
// bus, the agent workflows and the HTTP surface together.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fragmentforge/internal/ai"
	"fragmentforge/internal/auth"
	"fragmentforge/internal/cache"
	"fragmentforge/internal/config"
	"fragmentforge/internal/events"
	"fragmentforge/internal/gateway"
	"fragmentforge/internal/logging"
	"fragmentforge/internal/store"
	"fragmentforge/internal/tools"
	"fragmentforge/internal/usage"
	"fragmentforge/internal/workflows"
	"fragmentforge/internal/ws"

	"fragmentforge/internal/httpapi"
)

func main() {
	// No .env is normal outside local development.
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration invalid", zap.Error(err))
	}
	log.Info("configuration loaded", zap.String("config", cfg.String()))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer st.Close()

	var redisClient cache.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, using in-memory cache only", zap.Error(err))
			redisClient = nil
		}
	}
	sharedCache := cache.New(redisClient)
	defer sharedCache.Close()

	bus := events.NewBus()
	defer bus.Close()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	tracker := usage.NewTracker(st)
	defer tracker.Close()

	gw := gateway.NewClient(cfg.ContainerAPIURL, cfg.ContainerAPIToken)
	toolset := tools.NewSet(gw, tools.WithSettleDelay(cfg.SettleDelay))

	codeClient, routingClient := buildClients(cfg)

	engine, err := workflows.NewEngine(workflows.Deps{
		Store:         st,
		Bus:           bus,
		Toolset:       toolset,
		CodeClient:    codeClient,
		RoutingClient: routingClient,
		Hub:           hub,
		Transcripts:   cache.NewTranscriptCache(sharedCache),
		Usage:         tracker,
	}, workflows.Options{
		CodeModel:     cfg.CodeModel,
		RoutingModel:  cfg.RoutingModel,
		MaxIterations: cfg.MaxIterations,
	})
	if err != nil {
		log.Fatal("workflow engine init failed", zap.Error(err))
	}

	// Subscriptions must exist before the API can publish.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	if err := engine.Register(runCtx); err != nil {
		log.Fatal("workflow subscription failed", zap.Error(err))
	}

	api := httpapi.NewServer(st, bus, auth.NewService(cfg.JWTSecret), hub, tracker)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildClients picks a provider by available keys; Claude is preferred,
// OpenAI serves when it holds the only key. Config guarantees at least
// one key is present.
func buildClients(cfg *config.Config) (codeClient, routingClient ai.ChatClient) {
	if cfg.AnthropicAPIKey != "" {
		claude := ai.NewClaudeClient(cfg.AnthropicAPIKey)
		return claude, claude
	}
	openai := ai.NewOpenAIClient(cfg.OpenAIAPIKey)
	return openai, openai
}
