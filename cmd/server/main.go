// Chat broker server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/chatbroker/internal/api"
	"github.com/ashureev/chatbroker/internal/broker"
	"github.com/ashureev/chatbroker/internal/cache"
	"github.com/ashureev/chatbroker/internal/config"
	"github.com/ashureev/chatbroker/internal/gateway"
	"github.com/ashureev/chatbroker/internal/identity"
	"github.com/ashureev/chatbroker/internal/logging"
	"github.com/ashureev/chatbroker/internal/middleware"
	"github.com/ashureev/chatbroker/internal/presence"
	"github.com/ashureev/chatbroker/internal/queue"
	"github.com/ashureev/chatbroker/internal/session"
	"github.com/ashureev/chatbroker/internal/store"
)

func main() {
	logging.Setup()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting chat broker", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	var sessCache cache.SessionCache = cache.NoopCache{}
	if cfg.UsesRedis() {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(context.Background()); err != nil {
			slog.Warn("redis cache unreachable, falling back to no-op cache", "error", err)
		} else {
			sessCache = redisCache
			slog.Info("redis session cache connected", "addr", cfg.RedisAddr)
			defer redisCache.Close()
		}
	}

	// Initialize services (C2-C6).
	pres := presence.New(repo)
	if err := pres.Rehydrate(context.Background()); err != nil {
		slog.Error("failed to rehydrate agent presence", "error", err)
		os.Exit(1)
	}

	b := broker.New(cfg.BrokerPoolCapacity)
	defer b.Shutdown()

	machine := session.New(repo, pres, b)
	machine.SetCache(sessCache)

	dispatcher := queue.NewDispatcher(repo, pres, machine, cfg.AutoAssignEnabled, cfg.DispatchPoolSize, cfg.DispatchPoolCap)
	defer dispatcher.Shutdown()

	reaper := queue.NewReaper(repo, machine, cfg.ChatIdleTimeout, cfg.IdleReaperInterval)

	authn := identity.NewJWTAuthenticator(cfg.JWTSecret)

	// Connection gateway (C1).
	gw := gateway.New(repo, pres, b, machine, dispatcher, authn, gateway.Config{
		AllowedOrigin:   cfg.FrontendURL,
		IsDev:           cfg.IsDevelopment(),
		DefaultMaxChats: cfg.DefaultMaxChatsPerAgent,
	})

	baseHandler := api.NewHandler(repo, pres, machine, dispatcher, authn)
	chatHandler := api.NewChatHandler(baseHandler)
	agentHandler := api.NewAgentHandler(baseHandler)
	healthHandler := api.NewHealthHandler(baseHandler)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(middleware.CORS([]string{cfg.FrontendURL}))

	healthHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws/customer", gw.ServeCustomer)
	r.Get("/ws/cs", gw.ServeAgent)
	r.Get("/ws/admin", gw.ServeAdmin)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websockets need to stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher.Run(ctx)
	reaper.Run(ctx)
	slog.Info("dispatcher and idle reaper started",
		"auto_assign", cfg.AutoAssignEnabled, "idle_timeout", cfg.ChatIdleTimeout)

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	pres.Flush(shutdownCtx)
	slog.Info("server stopped successfully")
}
