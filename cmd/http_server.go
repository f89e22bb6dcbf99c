package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/internal/alerts"
	alertspostgres "github.com/mistic96/payment-broker/internal/alerts/postgres"
	"github.com/mistic96/payment-broker/internal/cache"
	"github.com/mistic96/payment-broker/internal/core/events"
	"github.com/mistic96/payment-broker/internal/depositcode"
	depositcodepostgres "github.com/mistic96/payment-broker/internal/depositcode/postgres"
	"github.com/mistic96/payment-broker/internal/gateway"
	gatewaypostgres "github.com/mistic96/payment-broker/internal/gateway/postgres"
	"github.com/mistic96/payment-broker/internal/ledger"
	"github.com/mistic96/payment-broker/internal/payment"
	paymentpostgres "github.com/mistic96/payment-broker/internal/payment/postgres"
	"github.com/mistic96/payment-broker/internal/provider"
	"github.com/mistic96/payment-broker/internal/refund"
	"github.com/mistic96/payment-broker/internal/transport/rest"
	"github.com/mistic96/payment-broker/internal/webhook"
	webhookpostgres "github.com/mistic96/payment-broker/internal/webhook/postgres"
	"github.com/mistic96/payment-broker/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests and provider webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config    *internal.Config
	DB        *sqlx.DB
	Cache     *cache.Cache
	Router    *chi.Mux
	EventBus  *events.EventBus
	Sandboxes []*provider.Sandbox
	Refunds   *refund.Client
	Logger    *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		shutdownDependencies(ctx, deps)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func shutdownDependencies(ctx context.Context, deps *Dependencies) {
	for _, sb := range deps.Sandboxes {
		sb.Shutdown()
	}
	if deps.Refunds != nil {
		deps.Refunds.Shutdown()
	}
	if err := deps.EventBus.Drain(ctx); err != nil {
		slog.Error("Event bus drain error", "error", err)
	}
	if deps.Cache != nil {
		if err := deps.Cache.Close(); err != nil {
			slog.Error("Cache close error", "error", err)
		}
	}
	if err := deps.DB.Close(); err != nil {
		slog.Error("Database close error", "error", err)
	}
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	cacheClient, err := cache.New(config.Redis.URL, config.Redis.DefaultTTL, log)
	if err != nil {
		// The cache is best-effort; a missing redis must not block startup.
		log.Warn("cache unavailable, running without it", "error", err)
		cacheClient = nil
	}

	eventBus := events.NewEventBus(log)

	var mirror ledger.Mirror
	if config.Ledger.Enabled {
		mirror = ledger.NewHTTPMirror(config.Ledger.BaseURL, config.Ledger.APIKey, config.Ledger.Timeout, log)
	}

	var refunds *refund.Client
	if config.Treasury.Enabled {
		refunds = refund.NewClient(refund.Config{
			BaseURL:        config.Treasury.BaseURL,
			APIKey:         config.Treasury.APIKey,
			Timeout:        config.Treasury.Timeout,
			MaxWorkers:     config.Payment.MaxWorkers,
			JobQueueSize:   config.Payment.JobQueueSize,
			WorkerPoolSize: config.Payment.WorkerPoolSize,
		}, log)
	}

	registry, sandboxes := buildProviderRegistry(config, log)

	gatewayRepo := gatewaypostgres.NewGatewayRepository(gormDB)
	healthTracker := gateway.NewHealthTracker(cacheClient, log)
	gatewayService := gateway.NewService(gatewayRepo, healthTracker, log)
	gatewayRouter := gateway.NewRouter(log)
	gatewayHandler := gateway.NewHandler(gatewayService, log)

	codeRepo := depositcodepostgres.NewDepositCodeRepository(gormDB)
	codeService := depositcode.NewService(codeRepo, mirror, eventBus, log)
	codeHandler := depositcode.NewHandler(codeService, log)

	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)
	var paymentCache payment.CacheAPI
	if cacheClient != nil {
		paymentCache = cacheClient
	}
	var refundSender payment.RefundSender
	if refunds != nil {
		refundSender = refunds
	}
	paymentService := payment.NewService(
		paymentRepo,
		paymentCache,
		codeService,
		gatewayRouter,
		gatewayService,
		registry,
		refundSender,
		eventBus,
		&config.Payment,
		log,
	)
	paymentHandler := payment.NewHandler(paymentService, log)

	webhookRepo := webhookpostgres.NewWebhookRepository(gormDB)
	verifier := webhook.NewVerifier(config.Webhook.Secrets, log)
	webhookService := webhook.NewService(webhookRepo, paymentService, verifier, log)
	webhookHandler := webhook.NewHandler(webhookService, log)

	alertStats := alertspostgres.NewStatsRepository(gormDB)
	alertService := alerts.NewService(alertStats, &config.Alerts, log)
	go alertService.Run(context.Background())

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, db.DB, rest.Handlers{
		Payment:     paymentHandler,
		DepositCode: codeHandler,
		Gateway:     gatewayHandler,
		Webhook:     webhookHandler,
	}, config.Server.AllowedOrigins, log)

	return &Dependencies{
		Config:    config,
		Logger:    log,
		DB:        db,
		Cache:     cacheClient,
		Router:    router,
		EventBus:  eventBus,
		Sandboxes: sandboxes,
		Refunds:   refunds,
	}, nil
}

// buildProviderRegistry registers a REST integration for every provider with
// a configured endpoint and a sandbox for the rest, so test-mode gateways
// settle through the signed callback loop.
func buildProviderRegistry(config *internal.Config, log *slog.Logger) (*provider.Registry, []*provider.Sandbox) {
	registry := provider.NewRegistry()
	var sandboxes []*provider.Sandbox

	configured := make(map[provider.Type]bool)
	for name, pc := range config.Providers {
		t := provider.Type(name)
		if !t.Valid() {
			log.Warn("ignoring unknown provider in config", "provider", name)
			continue
		}
		registry.Register(t, provider.NewRESTIntegration(provider.RESTConfig{
			ProviderType: t,
			BaseURL:      pc.BaseURL,
			APIKey:       pc.APIKey,
			Timeout:      pc.Timeout,
		}, log))
		configured[t] = true
	}

	callbackURL := config.Payment.SandboxCallbackURL
	if callbackURL == "" {
		callbackURL = config.Server.BaseURL + "/webhooks"
	}

	for _, t := range []provider.Type{
		provider.TypeSquare,
		provider.TypePIX,
		provider.TypeMoonPay,
		provider.TypeCoinbase,
		provider.TypeDots,
		provider.TypeInternalWallet,
	} {
		if configured[t] {
			continue
		}
		sb := provider.NewSandbox(provider.SandboxConfig{
			ProviderType:   t,
			CallbackURL:    callbackURL,
			SigningSecret:  config.Webhook.Secrets[string(t)],
			MaxWorkers:     config.Payment.MaxWorkers,
			JobQueueSize:   config.Payment.JobQueueSize,
			WorkerPoolSize: config.Payment.WorkerPoolSize,
		}, log)
		registry.Register(t, sb)
		sandboxes = append(sandboxes, sb)
	}

	return registry, sandboxes
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
