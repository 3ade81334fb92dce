package main

import (
	"context"
	"os"
	"time"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/infrastructure/cache"
	"github.com/pinstor/backend/internal/infrastructure/config"
	"github.com/pinstor/backend/internal/infrastructure/ledger"
	"github.com/pinstor/backend/internal/infrastructure/logger"
	"github.com/pinstor/backend/internal/infrastructure/persistence"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Runs one billing batch for the most recently closed window and exits.
// Intended for manual runs and catch-up after missed scheduler windows;
// per-user failures are reported but do not fail the run, since re-running
// is the recovery mechanism.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting billing batch run", zap.String("env", cfg.App.Env))

	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	userRepo := persistence.NewUserRepository(db.DB)
	userFileRepo := persistence.NewUserFileRepository(db.DB)
	snapshotRepo := persistence.NewUsageSnapshotRepository(db.DB)

	loc, err := time.LoadLocation(cfg.Billing.Timezone)
	if err != nil {
		log.Fatal("Failed to load billing timezone", zap.Error(err))
	}
	anchor := billing.NewPeriodAnchor(cfg.Billing.AnchorDay, cfg.Billing.AnchorHour, loc)

	var rate billing.RatePolicy
	if cfg.Billing.PricePerByte != "" {
		price, err := decimal.NewFromString(cfg.Billing.PricePerByte)
		if err != nil {
			log.Fatal("Invalid billing.price_per_byte", zap.Error(err))
		}
		rate = billing.PerByteRatePolicy{PricePerByte: price}
	}

	// The batch shares the period lock key space with running API
	// instances, so a recompute never interleaves with an interactive
	// delta for the same user and month.
	var locker appbilling.PeriodLocker
	redisLock, err := cache.NewRedisPeriodLock(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		if cfg.App.Env == "production" {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		log.Warn("Redis unavailable, falling back to in-process period lock", zap.Error(err))
		locker = cache.NewInMemoryPeriodLock()
	} else {
		locker = redisLock
		defer func() {
			if err := redisLock.Close(); err != nil {
				log.Error("Error closing Redis period lock", zap.Error(err))
			}
		}()
	}

	var ledgerClient billing.LedgerClient
	if cfg.Ledger.RPCURL != "" {
		client, err := ledger.NewClient(&cfg.Ledger, log)
		if err != nil {
			log.Fatal("Failed to initialize ledger client", zap.Error(err))
		}
		ledgerClient = client
	} else {
		log.Warn("No ledger RPC configured, using noop ledger client")
		ledgerClient = ledger.NewNoopClient(log)
	}

	aggregator := appbilling.NewUsageAggregator(userFileRepo, log)
	snapshotService := appbilling.NewSnapshotService(snapshotRepo, userRepo, aggregator, locker, rate, anchor, log)
	committer := appbilling.NewLedgerCommitter(ledgerClient, snapshotRepo, log)
	runner := appbilling.NewBillingBatchRunner(userRepo, aggregator, snapshotService, committer, locker, anchor, log, nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.JobTimeout)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		log.Error("Billing batch failed", zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}

	log.Info("Billing batch finished",
		zap.Int("year", report.Year),
		zap.Int("month", report.Month),
		zap.Int("total_users", report.TotalUsers),
		zap.Int("committed", report.Committed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)

	for _, result := range report.Results {
		if result.Error != "" {
			log.Warn("User billing failed",
				zap.String("user_id", result.UserID.String()),
				zap.String("error", result.Error),
			)
		}
	}
}
