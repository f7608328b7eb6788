// Companion - elder-care conversational backend.
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

	"github.com/elderlink/companion/internal/api"
	"github.com/elderlink/companion/internal/chat"
	"github.com/elderlink/companion/internal/config"
	"github.com/elderlink/companion/internal/emotion"
	"github.com/elderlink/companion/internal/health"
	"github.com/elderlink/companion/internal/llm"
	"github.com/elderlink/companion/internal/middleware"
	"github.com/elderlink/companion/internal/notify"
	"github.com/elderlink/companion/internal/rag"
	"github.com/elderlink/companion/internal/reminder"
	"github.com/elderlink/companion/internal/session"
	"github.com/elderlink/companion/internal/store"
	"github.com/elderlink/companion/internal/transcript"
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

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.LLM.Model)

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

	if err := repo.SeedCuratedAnswers(context.Background(), rag.DefaultCuratedAnswers()); err != nil {
		slog.Error("Failed to seed curated answers", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	extractor := emotion.NewExtractor()
	transcripts := transcript.NewStore(cfg.HistoryDir, extractor.ExtractNeeds)
	sessions := session.NewRegistry()

	completer := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout, logger)
	answerRouter := chat.NewRouter(rag.NewService(repo), completer, repo, logger)

	hub := notify.NewHub()
	reminders := reminder.NewManager(repo, hub)

	svc := chat.NewService(chat.Config{
		Repo:        repo,
		Transcripts: transcripts,
		Sessions:    sessions,
		Classify:    extractor.ExtractNeeds,
		Router:      answerRouter,
		Reminders:   reminders,
		Health:      health.NewLogger(repo),
		Logger:      logger,
	})

	// Initialize handlers.
	wsHandler := notify.NewHandler(hub, repo)
	handler := api.NewHandler(svc, hub, repo, wsHandler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	handler.RegisterRoutes(r)

	// Create server.
	// Note: no WriteTimeout; notification WebSockets stay open indefinitely.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start reminder dispatcher.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reminders.Start(ctx)

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
