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

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lgu-emis/emis-web/internal/app"
	"github.com/lgu-emis/emis-web/internal/audit"
	audithttp "github.com/lgu-emis/emis-web/internal/audit/http"
	"github.com/lgu-emis/emis-web/internal/auth"
	"github.com/lgu-emis/emis-web/internal/chrome"
	"github.com/lgu-emis/emis-web/internal/dashboard"
	"github.com/lgu-emis/emis-web/internal/emisapi"
	"github.com/lgu-emis/emis-web/internal/observability"
	"github.com/lgu-emis/emis-web/internal/platform/cache"
	"github.com/lgu-emis/emis-web/internal/platform/db"
	"github.com/lgu-emis/emis-web/internal/realtime"
	"github.com/lgu-emis/emis-web/internal/reports"
	"github.com/lgu-emis/emis-web/internal/shared"
	"github.com/lgu-emis/emis-web/internal/token"
	"github.com/lgu-emis/emis-web/internal/users"
	"github.com/lgu-emis/emis-web/internal/view"
	"github.com/lgu-emis/emis-web/jobs"
)

const rememberCookie = "emis_remember"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	var repo auth.Repository = auth.NopRepository{}
	if cfg.PGDSN != "" {
		if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
			logger.Error("migrate session registry", slog.Any("error", err))
			os.Exit(1)
		}
		var pool *pgxpool.Pool
		pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		repo = auth.NewRepository(pool)
	} else {
		logger.Info("PG_DSN not set, session registry disabled")
	}
	registry := app.NewSessionRegistry(repo, metrics)

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	remember := shared.NewRememberMe(rememberCookie, cfg.RememberSecret, cfg.IsProduction())

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	api := emisapi.NewClient(cfg.APIURL, cfg.APITimeout, emisapi.WithObserver(metrics.ObserveAPI))

	redisOpt := jobs.RedisOpt(redisClient.Options())
	jobClient := jobs.NewClient(redisOpt, cfg.TokenVerifyInterval)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	guard := chrome.NewGuard(chrome.Config{
		Logger:    logger,
		Sessions:  sessionManager,
		CSRF:      csrfManager,
		Templates: templates,
		Inspector: token.NewInspector(),
		API:       api,
		Scheduler: jobClient,
		Registry:  registry,
	})

	authHandler := auth.NewHandler(logger, auth.NewService(api, registry), guard, remember)

	statsCache := dashboard.NewCache(redisClient, cfg.StatsCacheTTL)
	go func() {
		if err := statsCache.ListenForInvalidation(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("dashboard cache listener", slog.Any("error", err))
		}
	}()
	dashboardHandler := dashboard.NewHandler(logger, dashboard.NewService(api, statsCache), guard)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(api), guard)
	usersHandler := users.NewHandler(logger, users.NewService(api), guard)
	reportsHandler := reports.NewHandler(logger, api, guard)

	transport := realtime.NewRedisTransport(redisClient, cfg.RealtimeChannelPrefix)
	realtimeHandler := realtime.NewHandler(logger, transport, realtime.NewHub(), metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Guard:            guard,
		AuthHandler:      authHandler,
		DashboardHandler: dashboardHandler,
		AuditHandler:     auditHandler,
		UsersHandler:     usersHandler,
		ReportsHandler:   reportsHandler,
		RealtimeHandler:  realtimeHandler,
		Metrics:          metrics,
	})
	adminRouter := app.NewAdminRouter(app.AdminParams{
		Metrics:    metrics,
		JobHandler: jobs.NewHandler(inspector, logger),
	})

	// WriteTimeout stays zero: page deadlines come from the router and the
	// event stream must outlive any fixed write window.
	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	adminServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           adminRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting admin server", slog.String("addr", cfg.AdminAddr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("admin server", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	_ = adminServer.Shutdown(shutdownCtx)
}
