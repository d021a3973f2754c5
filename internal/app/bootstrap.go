package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"inventory-auth/internal/auth"
	"inventory-auth/internal/db"
	"inventory-auth/internal/maintenance"
	"inventory-auth/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	policy := auth.LockoutPolicy{
		MaxAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LockDuration: envSecondsOrDefault("LOGIN_LOCK_SECONDS", 900),
	}

	codec, err := auth.NewTokenCodec(
		jwtSecret,
		envSecondsOrDefault("ACCESS_TOKEN_TTL_SECONDS", 900),
		envSecondsOrDefault("REFRESH_TOKEN_TTL_SECONDS", 604800),
		logger,
	)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	authRepo := auth.NewRepository(database, policy, envMinutesOrDefault("SESSION_TTL_MINUTES", 480))
	authService := auth.NewService(authRepo, authRepo, authRepo, auth.BcryptVerifier{}, codec, policy, logger)
	authHandler := auth.NewHandler(authService)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("SESSION_RETENTION_DAYS", 14),
		envDaysOrDefault("LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	adminEmail := strings.TrimSpace(strings.ToLower(os.Getenv("ADMIN_EMAIL")))
	adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	if adminEmail != "" || adminPassword != "" {
		if adminEmail == "" || adminPassword == "" {
			_ = database.Close()
			return nil, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
		}
		if err := authRepo.BootstrapAdmin(context.Background(), adminEmail, adminPassword); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.Handle("POST /auth/logout", auth.Middleware(codec, http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /auth/sessions", auth.Middleware(codec, http.HandlerFunc(authHandler.Sessions)))
	mux.Handle("DELETE /auth/sessions/{id}", auth.Middleware(codec, http.HandlerFunc(authHandler.TerminateSession)))
	mux.Handle("POST /admin/accounts/unlock", auth.Middleware(codec, auth.RequireRole("ADMIN", http.HandlerFunc(authHandler.UnlockAccount))))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
