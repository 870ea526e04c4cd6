// Package app wires configuration, the credential store, the bootstrap
// seeder and the HTTP surface into a Runtime.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"medvoll-identity/internal/auth"
	"medvoll-identity/internal/db"
	"medvoll-identity/internal/identity"
	"medvoll-identity/internal/maintenance"
	"medvoll-identity/internal/observability"
	"medvoll-identity/internal/security"
	"medvoll-identity/internal/seed"
)

const seedTimeout = 30 * time.Second

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	// Logger defaults to a stdout JSON logger.
	Logger *observability.Logger
}

type Runtime struct {
	Handler    http.Handler
	Config     Config
	Cleaner    *maintenance.Cleaner
	SeedReport seed.Report
	Close      func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	store, closeStore, err := openStore(cfg, options.RunMigrations, logger)
	if err != nil {
		return nil, err
	}

	var report seed.Report
	if cfg.SeedOnStartup {
		report = runSeed(store, cfg, logger.With(map[string]any{"component": "seed"}))
	}

	tokens := auth.NewSessionTokens(cfg.SessionSecret)
	authService := auth.NewService(store, cfg.Policy, tokens, cfg.BcryptCost)
	csrf := auth.NewCSRF(cfg.Policy.CSRF, cfg.Policy.Cookie.Secure, cfg.SessionSecret)
	authHandler := auth.NewHandler(authService, csrf)
	loginLimiter := auth.NewLoginRateLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)

	cleaner := maintenance.NewCleaner(store, cfg.SessionRetention, cfg.CleanupBatchSize)
	cleanupHandler := maintenance.NewCleanupHandler(cleaner, logger, cfg.CronSecret)

	paths := cfg.Policy.Paths
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/csrf", authHandler.CSRFToken)
	mux.Handle("POST "+paths.Login, loginLimiter.Middleware(csrf.Middleware(http.HandlerFunc(authHandler.Login))))
	mux.Handle("POST "+paths.Logout, csrf.Middleware(http.HandlerFunc(authHandler.Logout)))
	mux.HandleFunc("GET "+paths.AccessDenied, authHandler.AccessDenied)
	mux.Handle("GET /account/me", authHandler.RequireSession(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /admin/accounts/unlock", authHandler.RequireSession(
		authHandler.RequireRole("Admin", csrf.Middleware(http.HandlerFunc(authHandler.Unlock))),
	))
	mux.Handle("GET /admin/roles/{name}/accounts", authHandler.RequireSession(
		authHandler.RequireRole("Admin", http.HandlerFunc(authHandler.RoleMembers)),
	))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(store))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			security.Headers(mux)))

	return &Runtime{
		Handler:    handler,
		Config:     cfg,
		Cleaner:    cleaner,
		SeedReport: report,
		Close: func() error {
			observability.FlushSentry()
			return closeStore()
		},
	}, nil
}

func openStore(cfg Config, runMigrations bool, logger *observability.Logger) (identity.Store, func() error, error) {
	if cfg.StoreDriver == StoreDriverMemory {
		logger.Warn("memory_store_in_use", map[string]any{"environment": cfg.Environment})
		return identity.NewMemoryStore(), func() error { return nil }, nil
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo := identity.NewRepository(database)

	// database/sql reconnects lazily, so an unreachable database is served
	// degraded: /health reports it and handlers answer 503 until it is back.
	// Migrations wait for the next start.
	if err := repo.Ping(ctx); err != nil {
		logger.Error("store_unavailable", map[string]any{
			"error": err.Error(),
			"kind":  string(seed.KindStoreUnavailable),
		})
		observability.CaptureError(err, map[string]string{"component": "store"})
		return repo, database.Close, nil
	}

	if runMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	return repo, database.Close, nil
}

// runSeed applies the bootstrap plan. Failures are logged and reported but
// never stop the process from serving.
func runSeed(store identity.Store, cfg Config, logger *observability.Logger) seed.Report {
	plan, err := seed.LoadPlan(cfg.SeedFile)
	if err != nil {
		logger.Error("seed_plan_invalid", map[string]any{"error": err.Error(), "seed_file": cfg.SeedFile})
		observability.CaptureError(err, map[string]string{"component": "seed"})
		return seed.Report{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	seeder := seed.NewSeeder(store, cfg.Policy, seed.WithBcryptCost(cfg.BcryptCost))
	report, err := seeder.Run(ctx, plan)
	for _, o := range report.Outcomes {
		logOutcome(logger, o)
	}

	failures := report.Failures()
	fields := map[string]any{"outcomes": len(report.Outcomes), "failures": len(failures)}
	if err != nil {
		fields["error"] = err.Error()
		if errors.Is(err, identity.ErrUnavailable) {
			fields["kind"] = string(seed.KindStoreUnavailable)
		}
		observability.CaptureError(err, map[string]string{"component": "seed"})
		logger.Error("seed_aborted", fields)
		return report
	}
	if len(failures) > 0 {
		logger.Warn("seed_completed_with_failures", fields)
		return report
	}
	logger.Info("seed_completed", fields)
	return report
}

func logOutcome(logger *observability.Logger, o seed.Outcome) {
	fields := map[string]any{
		"step":   string(o.Step),
		"entity": o.Entity,
		"status": string(o.Status),
	}
	if o.Role != "" {
		fields["role"] = o.Role
	}
	if o.Kind != seed.KindNone {
		fields["kind"] = string(o.Kind)
	}
	if o.Err != nil {
		fields["error"] = o.Err.Error()
	}

	if o.Failed() {
		logger.Warn("seed_outcome", fields)
		return
	}
	logger.Info("seed_outcome", fields)
}

func healthHandler(store identity.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
