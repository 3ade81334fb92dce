package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	appstorage "github.com/pinstor/backend/internal/application/storage"
	"github.com/pinstor/backend/internal/domain/billing"
	"github.com/pinstor/backend/internal/infrastructure/cache"
	"github.com/pinstor/backend/internal/infrastructure/config"
	"github.com/pinstor/backend/internal/infrastructure/fingerprint"
	"github.com/pinstor/backend/internal/infrastructure/ledger"
	"github.com/pinstor/backend/internal/infrastructure/logger"
	"github.com/pinstor/backend/internal/infrastructure/persistence"
	"github.com/pinstor/backend/internal/infrastructure/scheduler"
	blobstorage "github.com/pinstor/backend/internal/infrastructure/storage"
	"github.com/pinstor/backend/internal/interfaces/http/handler"
	"github.com/pinstor/backend/internal/interfaces/http/middleware"
	"github.com/pinstor/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
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

	log.Info("Starting Pinstor Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize repositories
	userRepo := persistence.NewUserRepository(db.DB)
	fileRepo := persistence.NewFileRepository(db.DB)
	userFileRepo := persistence.NewUserFileRepository(db.DB)
	snapshotRepo := persistence.NewUsageSnapshotRepository(db.DB)

	// Billing window anchor; the timezone was validated at config load
	loc, err := time.LoadLocation(cfg.Billing.Timezone)
	if err != nil {
		log.Fatal("Failed to load billing timezone", zap.Error(err))
	}
	anchor := billing.NewPeriodAnchor(cfg.Billing.AnchorDay, cfg.Billing.AnchorHour, loc)

	// Rate policy: a configured unit price overrides the 1:1 default
	var rate billing.RatePolicy
	if cfg.Billing.PricePerByte != "" {
		price, err := decimal.NewFromString(cfg.Billing.PricePerByte)
		if err != nil {
			log.Fatal("Invalid billing.price_per_byte", zap.Error(err))
		}
		rate = billing.PerByteRatePolicy{PricePerByte: price}
	}

	// Period lock serializing snapshot writers across instances
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
		log.Info("Redis period lock connected", zap.String("addr", cfg.Redis.Addr()))
	}

	// Blob store: S3-compatible object storage, or an in-process store when
	// no credentials are configured
	var blobs appstorage.BlobStore
	if cfg.Storage.AccessKey != "" || cfg.Storage.Endpoint != "" {
		s3Store, err := blobstorage.NewS3BlobStore(&cfg.Storage)
		if err != nil {
			log.Fatal("Failed to initialize S3 blob store", zap.Error(err))
		}
		ensureCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s3Store.EnsureBucket(ensureCtx); err != nil {
			cancel()
			log.Fatal("Failed to ensure blob bucket", zap.Error(err))
		}
		cancel()
		blobs = s3Store
		log.Info("S3 blob store initialized",
			zap.String("bucket", cfg.Storage.Bucket),
			zap.String("region", cfg.Storage.Region),
		)
	} else {
		if cfg.App.Env == "production" {
			log.Fatal("Blob storage credentials are required in production")
		}
		log.Warn("No blob storage configured, using in-memory store")
		blobs = blobstorage.NewMemoryBlobStore(cfg.Storage.GatewayBaseURL)
	}

	// Ledger client: settlement gateway RPC, or a noop stand-in when no
	// endpoint is configured
	var ledgerClient billing.LedgerClient
	if cfg.Ledger.RPCURL != "" {
		client, err := ledger.NewClient(&cfg.Ledger, log)
		if err != nil {
			log.Fatal("Failed to initialize ledger client", zap.Error(err))
		}
		ledgerClient = client
		log.Info("Ledger client initialized", zap.String("rpc_url", cfg.Ledger.RPCURL))
	} else {
		log.Warn("No ledger RPC configured, using noop ledger client")
		ledgerClient = ledger.NewNoopClient(log)
	}

	// Initialize application services
	aggregator := appbilling.NewUsageAggregator(userFileRepo, log)
	snapshotService := appbilling.NewSnapshotService(snapshotRepo, userRepo, aggregator, locker, rate, anchor, log)
	committer := appbilling.NewLedgerCommitter(ledgerClient, snapshotRepo, log)
	reconciler := appbilling.NewSettlementReconciler(ledgerClient, snapshotRepo, log)
	batchRunner := appbilling.NewBillingBatchRunner(userRepo, aggregator, snapshotService, committer, locker, anchor, log, nil)
	fileService := appstorage.NewFileService(userRepo, fileRepo, userFileRepo, blobs, fingerprint.NewSHA256Fingerprinter(), snapshotService, log, nil)

	// Billing batch scheduler (if enabled)
	if cfg.Scheduler.Enabled {
		billingScheduler := scheduler.NewBillingScheduler(batchRunner, anchor, log, scheduler.BillingSchedulerConfig{
			Enabled:       cfg.Scheduler.Enabled,
			CheckInterval: cfg.Scheduler.CheckInterval,
			JobTimeout:    cfg.Scheduler.JobTimeout,
		}, nil)
		if err := billingScheduler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start billing scheduler", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := billingScheduler.Stop(stopCtx); err != nil {
				log.Error("Error stopping billing scheduler", zap.Error(err))
			}
		}()
		log.Info("Billing scheduler started",
			zap.Duration("check_interval", cfg.Scheduler.CheckInterval),
			zap.Duration("job_timeout", cfg.Scheduler.JobTimeout),
		)
	}

	// Initialize HTTP handlers
	systemHandler := handler.NewSystemHandler()
	fileHandler := handler.NewFileHandler(fileService, fileService)
	userHandler := handler.NewUserHandler(fileService, snapshotService, nil)
	billingHandler := handler.NewBillingHandler(userRepo, snapshotRepo, committer, reconciler, batchRunner)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Security - Add security headers
	// 5. CORS - Handle cross-origin requests
	// 6. BodyLimit - Limit request body size
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check with database connectivity
	engine.GET("/health", healthHandler(db, log))

	// Register API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(systemHandler, fileHandler, userHandler, billingHandler)
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
