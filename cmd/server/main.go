// consultd - conversational medical assistant gateway
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
	"github.com/medai/consultd/internal/api"
	"github.com/medai/consultd/internal/chat"
	"github.com/medai/consultd/internal/config"
	"github.com/medai/consultd/internal/identity"
	"github.com/medai/consultd/internal/ingest"
	"github.com/medai/consultd/internal/middleware"
	"github.com/medai/consultd/internal/store"
	"github.com/medai/consultd/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Backend clients. A failed probe is not fatal: the backend may come
	// up after us, and every turn surfaces its own transport error.
	backend := chat.NewClient(chat.ClientConfig{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
	}, logger)
	if err := backend.Ping(context.Background()); err != nil {
		slog.Warn("CDSS backend not reachable at startup", "url", cfg.Backend.BaseURL, "error", err)
	} else {
		slog.Info("CDSS backend connected", "url", cfg.Backend.BaseURL)
	}

	convClient := ingest.NewConvertClient(ingest.ConvertClientConfig{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
	}, logger)

	// Initialize services.
	chatSvc := chat.NewService(backend, repo, cfg.Welcome, logger)
	pipeline := ingest.NewPipeline(convClient, chatSvc, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, chatSvc, pipeline)
	consultHandler := api.NewConsultHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, backend)
	voiceHandler := ingest.NewVoiceHandler(pipeline, cfg.MaxClipMB<<20, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	consultHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/voice", voiceHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server. WriteTimeout stays generous because a turn waits on
	// the generative backend.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Backend.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chatSvc.StartSweeper(ctx, 5*time.Minute, cfg.SessionTTL)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
