package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pbc/internal/domain/auth"
	"pbc/internal/domain/notify"
	"pbc/internal/domain/org"
	"pbc/internal/domain/pbc"
	"pbc/internal/domain/report"
	"pbc/internal/domain/review"
	"pbc/internal/platform/config"
	"pbc/internal/platform/db"
	authhandler "pbc/internal/transport/http/handlers/auth"
	dingtalkhandler "pbc/internal/transport/http/handlers/dingtalk"
	orghandler "pbc/internal/transport/http/handlers/org"
	pbchandler "pbc/internal/transport/http/handlers/pbc"
	reporthandler "pbc/internal/transport/http/handlers/report"
	reviewhandler "pbc/internal/transport/http/handlers/review"
	"pbc/internal/transport/http/middleware"
)

type App struct {
	Config config.Config
	Pool   *pgxpool.Pool
	Router http.Handler
}

// New connects to the database, optionally runs migrations and the seed,
// wires the domain services and builds the router.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, "migrations"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	app := &App{Config: cfg, Pool: pool}
	app.Router = buildRouter(cfg, pool)
	return app, nil
}

func (a *App) Close() {
	a.Pool.Close()
}

func buildRouter(cfg config.Config, pool *pgxpool.Pool) http.Handler {
	appsService := notify.NewService(pool)

	var (
		identity      org.IdentityLookup
		goalNotifier  pbc.Notifier
		replyNotifier review.Notifier
	)
	if cfg.DingtalkEnabled {
		dispatcher := notify.NewDispatcher(appsService)
		identity = dispatcher
		goalNotifier = dispatcher
		replyNotifier = dispatcher
	} else {
		noop := notify.Noop{}
		identity = noop
		goalNotifier = noop
		replyNotifier = noop
	}

	orgService := org.NewService(org.NewStore(pool), identity, cfg.DefaultPassword)
	goalService := pbc.NewService(pbc.NewStore(pool), orgService, goalNotifier)
	reviewService := review.NewService(goalService, orgService, replyNotifier)
	authService := auth.NewService(pool, cfg.JWTSecret, cfg.TokenTTL)
	reportService := report.NewService(goalService, orgService, cfg.ReportDir)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	loginLimit := middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute, middleware.LoginKey)
	idemStore := middleware.NewIdempotencyStore(pool)

	router.Route("/api/v1", func(r chi.Router) {
		authhandler.NewHandler(authService, orgService, loginLimit).RegisterRoutes(r)
		orghandler.NewHandler(orgService).RegisterRoutes(r)
		pbchandler.NewHandler(goalService, orgService, idemStore).RegisterRoutes(r)
		reviewhandler.NewHandler(reviewService, idemStore).RegisterRoutes(r)
		dingtalkhandler.NewHandler(appsService).RegisterRoutes(r)
		reporthandler.NewHandler(reportService, orgService).RegisterRoutes(r)
	})

	return router
}

func Run() {
	cfg := config.Load()

	ctx := context.Background()
	app, err := New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.Close()

	log.Printf("PBC server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, app.Router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
