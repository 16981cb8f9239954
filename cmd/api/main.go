// Package main is the entrypoint for the crudmeter API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crudmeter/crudmeter/internal/cache"
	"github.com/crudmeter/crudmeter/internal/config"
	"github.com/crudmeter/crudmeter/internal/gate"
	"github.com/crudmeter/crudmeter/internal/handler"
	"github.com/crudmeter/crudmeter/internal/metrics"
	"github.com/crudmeter/crudmeter/internal/middleware"
	"github.com/crudmeter/crudmeter/internal/repository"
	"github.com/crudmeter/crudmeter/internal/server"
	"github.com/crudmeter/crudmeter/internal/service"
	"github.com/crudmeter/crudmeter/internal/usage"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewPrometheus(registry)

	// Credit gate and usage pipeline
	creditGate := gate.New(repo, cacheClient, logger, recorder, cfg.StorageTimeout)
	usageRepo := repository.NewUsageRepository(repo)
	usagePublisher := usage.NewPublisher(cacheClient.Client(), logger, recorder)

	// Services
	itemService := service.NewItemService(repo, recorder)
	userService := service.NewUserService(repo, cfg.InitialCredits, cfg.KeyEnv(), logger)
	rechargeService := service.NewRechargeService(repo, usageRepo, cfg.RechargeCredits, cfg.StorageTimeout, logger, recorder)

	// Handlers
	healthHandler := handler.NewHealthHandler(repo, cacheClient)
	itemHandler := handler.NewItemHandler(itemService, logger)
	userHandler := handler.NewUserHandler(userService, cfg.SessionSecret, cfg.SessionTTL, logger)
	rechargeHandler := handler.NewRechargeHandler(rechargeService, logger)

	r := setupRouter(routerDeps{
		health:    healthHandler,
		items:     itemHandler,
		users:     userHandler,
		recharge:  rechargeHandler,
		gate:      creditGate,
		publisher: usagePublisher,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	})

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// In-process usage worker drains the stream into Postgres. Registered
	// before Run so it shuts down after the HTTP server stops accepting.
	if cfg.UsageWorkerEnabled {
		worker := usage.NewWorker(cacheClient.Client(), usageRepo, logger, usage.NewConsumerID(), recorder)
		workerCtx, workerCancel := context.WithCancel(ctx)
		defer workerCancel()

		go func() {
			if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
				logger.Error("usage worker exited", "error", err)
			}
		}()
		srv.OnShutdown("usage-worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"initial_credits", cfg.InitialCredits,
		"recharge_credits", cfg.RechargeCredits,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routerDeps struct {
	health    *handler.HealthHandler
	items     *handler.ItemHandler
	users     *handler.UserHandler
	recharge  *handler.RechargeHandler
	gate      *gate.Gate
	publisher *usage.Publisher
	registry  *prometheus.Registry
	cfg       *config.Config
	logger    *slog.Logger
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(deps routerDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.logger))
	r.Use(middleware.Recoverer(deps.logger))

	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.IsDevelopment = deps.cfg.IsDevelopment()
	r.Use(middleware.Security(securityCfg))
	r.Use(middleware.MaxBodySize(deps.cfg.MaxRequestBodySize))

	if origins := deps.cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		corsCfg := middleware.DefaultCORSConfig()
		corsCfg.AllowedOrigins = origins
		r.Use(middleware.CORS(corsCfg))
	}

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", deps.health.Healthz)
	r.Get("/readyz", deps.health.Readyz)
	r.Method("GET", "/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))

	// Root info endpoint
	r.Get("/", handler.Root)

	r.Route("/api/v1", func(r chi.Router) {
		// Sign-in callback is the only public API route.
		r.Post("/auth/callback", deps.users.Callback)

		// Dashboard surface: session-authenticated, never charged.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(middleware.SessionConfig{
				Secret: deps.cfg.SessionSecret,
				Logger: deps.logger,
			}))
			r.Get("/me", deps.users.Me)
			r.Post("/credits/recharge", deps.recharge.Recharge)
		})

		// Metered surface: API-key authenticated, one credit per request.
		r.Route("/items", func(r chi.Router) {
			r.Use(middleware.Metered(middleware.GateConfig{
				Gate:      deps.gate,
				Publisher: deps.publisher,
				Logger:    deps.logger,
			}))
			r.Post("/", deps.items.Create)
			r.Get("/", deps.items.List)
			r.Get("/tx/{txHash}", deps.items.GetByTxHash)
			r.Get("/{id}", deps.items.Get)
			r.Put("/{id}", deps.items.Update)
			r.Delete("/{id}", deps.items.Delete)
		})
	})

	// 404 and 405 handlers
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
