// LearnItAll - Coding Tutor Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/learnitall/internal/api"
	"github.com/ashureev/learnitall/internal/config"
	"github.com/ashureev/learnitall/internal/health"
	"github.com/ashureev/learnitall/internal/identity"
	"github.com/ashureev/learnitall/internal/lesson"
	"github.com/ashureev/learnitall/internal/live"
	"github.com/ashureev/learnitall/internal/logging"
	"github.com/ashureev/learnitall/internal/middleware"
	"github.com/ashureev/learnitall/internal/ollama"
	"github.com/ashureev/learnitall/internal/prompts"
	"github.com/ashureev/learnitall/internal/store"
	"github.com/ashureev/learnitall/internal/tutor"
	"github.com/ashureev/learnitall/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	mode, err := tutor.ParseMode(cfg.Tutor.Mode)
	if err != nil {
		slog.Error("Invalid tutor mode", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting server", "port", cfg.Port, "mode", string(mode), "dev", cfg.IsDevelopment())

	content, err := lesson.Load(cfg.Tutor.LessonFile)
	if err != nil {
		slog.Error("Failed to load lesson", "error", err)
		os.Exit(1)
	}
	promptSet, err := prompts.Load(cfg.Tutor.PromptsFile)
	if err != nil {
		slog.Error("Failed to load prompts", "error", err)
		os.Exit(1)
	}
	promptSet = promptSet.WithWordLimit(cfg.Tutor.ReviewWordLimit)
	slog.Info("Lesson loaded", "title", content.Title, "script_entries", len(content.Script), "exercises", len(content.Exercises))

	models := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Ollama.BaseURL,
		APIKey:         cfg.Ollama.APIKey,
		RequestTimeout: cfg.Ollama.RequestTimeout,
	}, logger)
	if err := models.Ping(context.Background()); err != nil {
		slog.Warn("Model backend unreachable, chat will fail until it is up", "url", models.BaseURL(), "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Transcript journal (optional).
	var (
		repo     store.Repository
		recorder *store.Recorder
		journal  tutor.Journal
	)
	checks := []api.Check{{Name: "ollama", Pinger: models}}
	if cfg.Transcript.Enabled {
		sqlite, err := store.NewSQLite(cfg.Transcript.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := sqlite.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.Transcript.DBPath)

		repo = sqlite
		recorder = store.NewRecorder(sqlite, cfg.Transcript.QueueSize, logger)
		journal = recorder
		checks = append(checks, api.Check{Name: "database", Pinger: sqlite, Required: true})

		store.StartRetentionWorker(ctx, sqlite, cfg.Transcript.Retention)
		slog.Info("Retention worker started", "retention", cfg.Transcript.Retention)
	}

	hub := live.NewHub()
	var backend tutor.ModelBackend = models
	registry := tutor.NewRegistry(func(key string) (*tutor.Session, error) {
		s, err := tutor.NewSession(backend, tutor.Options{
			Mode:          mode,
			Script:        content.Script,
			Exercises:     content.Exercises,
			Prompts:       promptSet,
			DefaultModel:  cfg.Tutor.DefaultModel,
			PlaybackDelay: cfg.Tutor.PlaybackDelay,
			Journal:       journal,
			Logger:        logger.With("session_key", key),
		})
		if err != nil {
			return nil, err
		}
		s.SetRenderer(hub.Renderer(s.ID()))
		return s, nil
	}, cfg.Tutor.PlaybackAutostart, logger)
	registry.StartIdleSweeper(ctx, cfg.Tutor.SessionIdleTTL)

	// Initialize handlers.
	apiHandler := api.NewHandler(registry, models, repo, api.Options{
		Mode:              mode,
		DefaultModel:      cfg.Tutor.DefaultModel,
		PlaybackDelay:     cfg.Tutor.PlaybackDelay,
		LessonTitle:       content.Title,
		Prompts:           promptSet,
		KeepAliveInterval: cfg.SSE.KeepAliveInterval,
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
	}, logger)
	healthHandler := api.NewHealthHandler(5*time.Second, checks...)
	wsHandler := live.NewWebSocketHandler(hub, registry, cfg.FrontendURL, cfg.IsDevelopment(), 30*time.Second)

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Route("/api", apiHandler.RegisterRoutes)

	// WebSocket endpoint.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var grpcHealth *health.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		grpcHealth = health.NewServer(healthHandler, 15*time.Second, logger)
		go grpcHealth.Watch(ctx)
		go func() {
			if err := grpcHealth.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

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
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	registry.Close()
	apiHandler.Close()

	if recorder != nil {
		if err := recorder.Close(); err != nil {
			slog.Error("Failed to flush transcripts", "error", err)
		}
		written, dropped := recorder.Stats()
		slog.Info("Transcript journal closed", "written", written, "dropped", dropped)
	}

	slog.Info("Server stopped successfully")
}
