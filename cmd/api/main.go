// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/opencampus/campus/internal/api"
	"github.com/opencampus/campus/internal/audit"
	"github.com/opencampus/campus/internal/auth"
	"github.com/opencampus/campus/internal/config"
	"github.com/opencampus/campus/internal/db"
	"github.com/opencampus/campus/internal/health"
	"github.com/opencampus/campus/internal/image"
	"github.com/opencampus/campus/internal/middleware"
	"github.com/opencampus/campus/internal/token"
	"github.com/opencampus/campus/internal/tracing"
	"github.com/opencampus/campus/internal/upload"
)

const serviceName = "campus-api"

// logMailer is a development stand-in for a real mail transport. It records
// that a reset token was issued without exposing the token itself.
type logMailer struct {
	logger *slog.Logger
}

func (m *logMailer) SendResetToken(ctx context.Context, email, plaintext string) error {
	m.logger.InfoContext(ctx, "password reset token issued", "email", email)
	return nil
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Campus API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	// Initialize logger
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	ctx := context.Background()

	// Tracing
	traceProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-http",
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Database
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Metrics registry
	registry := prometheus.NewRegistry()
	mwMetrics := middleware.NewMetrics()
	if err := mwMetrics.Register(registry); err != nil {
		logger.Error("failed to register middleware metrics", "error", err)
		os.Exit(1)
	}
	auditMetrics := audit.NewMetrics()
	if err := auditMetrics.Register(registry); err != nil {
		logger.Error("failed to register audit metrics", "error", err)
		os.Exit(1)
	}

	// Rate limit store: Redis-backed when configured, in-memory otherwise
	var rateLimitStore middleware.RateLimitStore
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient).WithMetrics(mwMetrics)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		rateLimitStore = memStore
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
	}

	// Audit pipeline
	auditRepo := audit.NewPostgresRepository(conn)
	pipeline := audit.NewPipeline(auditRepo, logger, auditMetrics)

	// Auth
	jwts := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.PreviousJWTSecret)
	userStore := auth.NewPostgresUserStore(conn)
	verifier := auth.NewVerifier(userStore)
	resetStore := token.NewInMemoryResetStore()
	authHandlers := api.NewAuthHandlers(jwts, verifier, resetStore, &logMailer{logger: logger}, pipeline)

	// Uploads
	guard, err := upload.NewGuard(cfg.UploadsDir, logger)
	if err != nil {
		logger.Error("failed to initialize upload guard", "error", err)
		os.Exit(1)
	}
	sanitizer := image.NewProcessor(image.AvatarConfig())
	uploadHandlers := api.NewUploadHandlers(guard, sanitizer).
		WithCeilings(int64(cfg.MaxAvatarUploadMB)<<20, int64(cfg.MaxVideoUploadMB)<<20)

	// Audit queries
	auditHandlers := api.NewAuditHandlers(auditRepo)

	// Health
	healthConfig := api.HealthHandlersConfig{
		DBChecker: health.NewDBChecker(conn),
	}
	if redisClient != nil {
		healthConfig.RedisChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	// Per-route middleware
	authLimit := middleware.RateLimiter(rateLimitStore, middleware.DefaultAuthLimit(), middleware.IPKeyFunc(), mwMetrics)
	uploadLimit := middleware.RateLimiter(rateLimitStore, middleware.DefaultUploadLimit(), middleware.UserKeyFunc(), mwMetrics)
	authenticate := middleware.Authenticate(jwts)
	adminOnly := middleware.RequireRole("admin")

	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/auth/login", authLimit(http.HandlerFunc(authHandlers.Login)))
	mux.Handle("POST /api/v1/auth/refresh", authLimit(http.HandlerFunc(authHandlers.Refresh)))
	mux.Handle("POST /api/v1/auth/password-reset", authLimit(http.HandlerFunc(authHandlers.PasswordReset)))
	mux.Handle("POST /api/v1/auth/password-reset/confirm", authLimit(http.HandlerFunc(authHandlers.PasswordResetConfirm)))

	mux.Handle("POST /api/v1/uploads/avatar", authenticate(uploadLimit(http.HandlerFunc(uploadHandlers.UploadAvatar))))
	mux.Handle("POST /api/v1/uploads/image", authenticate(uploadLimit(http.HandlerFunc(uploadHandlers.UploadImage))))
	mux.Handle("POST /api/v1/uploads/document", authenticate(uploadLimit(http.HandlerFunc(uploadHandlers.UploadDocument))))
	mux.Handle("POST /api/v1/uploads/video", authenticate(uploadLimit(http.HandlerFunc(uploadHandlers.UploadVideo))))

	mux.Handle("GET /api/v1/audit/users/{id}", authenticate(adminOnly(http.HandlerFunc(auditHandlers.QueryByUser))))
	mux.Handle("GET /api/v1/audit/resources/{resource}/{id}", authenticate(adminOnly(http.HandlerFunc(auditHandlers.QueryByResource))))

	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Root: service banner on exact /, structured 404 elsewhere
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"campus-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Global middleware chain, outermost first:
	// RequestID -> Tracing -> HTTPMetrics -> Logging -> CORS -> RateLimiter -> Audit
	var handler http.Handler = pipeline.Middleware(mux)
	handler = middleware.RateLimiter(rateLimitStore, middleware.DefaultGlobalLimit(), middleware.UserKeyFunc(), mwMetrics)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowCredentials: true,
		MaxAge:           300,
	})(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.Env == "development",
		Environment: cfg.Env,
	})(handler)
	handler = middleware.HTTPMetrics(mwMetrics)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight audit writes drain before the process exits
	pipeline.Wait()

	if err := traceProvider.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
