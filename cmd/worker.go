package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mistic96/payment-broker/internal/alerts"
	alertspostgres "github.com/mistic96/payment-broker/internal/alerts/postgres"
	"github.com/mistic96/payment-broker/internal/core/events"
	"github.com/mistic96/payment-broker/internal/depositcode"
	depositcodepostgres "github.com/mistic96/payment-broker/internal/depositcode/postgres"
	"github.com/mistic96/payment-broker/internal/gateway"
	gatewaypostgres "github.com/mistic96/payment-broker/internal/gateway/postgres"
	"github.com/mistic96/payment-broker/internal/ledger"
	"github.com/mistic96/payment-broker/internal/payment"
	paymentpostgres "github.com/mistic96/payment-broker/internal/payment/postgres"
	"github.com/mistic96/payment-broker/internal/provider"
	"github.com/mistic96/payment-broker/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Run the expiry sweeps and operational alert checks as a standalone process`,
	Run: func(cmd *cobra.Command, args []string) {
		startWorker()
	},
}

var sweepInterval time.Duration

func startWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open gorm session: %v\n", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(log)

	var mirror ledger.Mirror
	if config.Ledger.Enabled {
		mirror = ledger.NewHTTPMirror(config.Ledger.BaseURL, config.Ledger.APIKey, config.Ledger.Timeout, log)
	}

	codeRepo := depositcodepostgres.NewDepositCodeRepository(gormDB)
	codeService := depositcode.NewService(codeRepo, mirror, eventBus, log)

	gatewayRepo := gatewaypostgres.NewGatewayRepository(gormDB)
	healthTracker := gateway.NewHealthTracker(nil, log)
	gatewayService := gateway.NewService(gatewayRepo, healthTracker, log)
	gatewayRouter := gateway.NewRouter(log)

	// The sweep only transitions expired rows, it never executes attempts,
	// so an empty provider registry is enough here.
	paymentRepo := paymentpostgres.NewPaymentRepository(gormDB)
	paymentService := payment.NewService(
		paymentRepo,
		nil,
		codeService,
		gatewayRouter,
		gatewayService,
		provider.NewRegistry(),
		nil,
		eventBus,
		&config.Payment,
		log,
	)

	alertStats := alertspostgres.NewStatsRepository(gormDB)
	alertService := alerts.NewService(alertStats, &config.Alerts, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go alertService.Run(ctx)

	interval := sweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runSweep(ctx, paymentService, codeService, log)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("worker started", "sweep_interval", interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("received signal, shutting down worker", "signal", sig)
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := eventBus.Drain(drainCtx); err != nil {
		log.Error("event bus drain error", "error", err)
	}
	log.Info("worker shutdown complete")
}

func runSweep(ctx context.Context, payments *payment.Service, codes *depositcode.Service, log *slog.Logger) {
	expired, err := payments.ExpirePending(ctx)
	if err != nil {
		log.Error("payment expiry sweep failed", "error", err)
	} else if expired > 0 {
		log.Info("expired stale payments", "count", expired)
	}

	staleCodes, err := codes.ExpireStale(ctx)
	if err != nil {
		log.Error("deposit code expiry sweep failed", "error", err)
	} else if staleCodes > 0 {
		log.Info("expired stale deposit codes", "count", staleCodes)
	}
}

func init() {
	workerCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "Interval between expiry sweeps")

	rootCmd.AddCommand(workerCmd)
}
