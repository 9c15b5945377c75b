package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/repairshop-worker/internal/api/handler"
	"github.com/cuongbtq/repairshop-worker/internal/api/router"
	"github.com/cuongbtq/repairshop-worker/internal/config"
	"github.com/cuongbtq/repairshop-worker/internal/engine"
	"github.com/cuongbtq/repairshop-worker/internal/engine/amqpgw"
	"github.com/cuongbtq/repairshop-worker/internal/engine/memory"
	"github.com/cuongbtq/repairshop-worker/internal/handlers"
	"github.com/cuongbtq/repairshop-worker/internal/invoicing"
	"github.com/cuongbtq/repairshop-worker/internal/membership"
	"github.com/cuongbtq/repairshop-worker/internal/scheduling"
	"github.com/cuongbtq/repairshop-worker/internal/worker"
	"github.com/cuongbtq/repairshop-worker/internal/worker/correlation"
	"github.com/cuongbtq/repairshop-worker/internal/worker/metrics"
	"github.com/cuongbtq/repairshop-worker/internal/worker/outcome"
	"github.com/cuongbtq/repairshop-worker/internal/worker/registry"
	"github.com/cuongbtq/repairshop-worker/internal/worker/storage"
	"github.com/cuongbtq/repairshop-worker/shared/logger"
	"github.com/cuongbtq/repairshop-worker/shared/postgresql"
	"github.com/cuongbtq/repairshop-worker/shared/rabbitmq"
	"github.com/cuongbtq/repairshop-worker/shared/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// database is the SQL client selected by database.driver
type database interface {
	GetDB() *sqlx.DB
	HealthCheck(ctx context.Context) error
	Close() error
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("engine_mode", cfg.Engine.Mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := make(map[string]handler.HealthChecker)

	// Initialize database
	db, err := initDatabase(ctx, &cfg.Database, cfg.App.Name, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if db != nil {
		defer db.Close()
		checks["database"] = db
	}

	store, err := initStore(ctx, db, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize side-effect store: %w", err)
	}

	ledger, err := initLedger(ctx, &cfg.Membership, db, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize membership ledger: %w", err)
	}

	policy, err := membership.ParsePolicy(cfg.Membership.InvalidNumberPolicy)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	counters := metrics.New()

	links := scheduling.NewLinkBuilder(&scheduling.Config{
		BookingURL: cfg.Scheduling.BookingURL,
		SlotLength: cfg.Scheduling.SlotLength,
		Logger:     appLogger.Logger,
	})

	// Domain handlers are registered first: the AMQP queue bindings are
	// derived from the registered task types.
	domainHandlers := handlers.New(&handlers.Deps{
		Ledger:    ledger,
		Policy:    policy,
		Invoicing: initInvoicing(&cfg.Invoicing, appLogger.Logger),
		Store:     store,
		Links:     links,
		Pricing: handlers.Pricing{
			Deposit:               cfg.Pricing.Deposit,
			MemberDiscountPercent: cfg.Pricing.MemberDiscountPercent,
			DefaultRepairCost:     cfg.Pricing.DefaultRepairCost,
		},
		Eligibility: handlers.Eligibility{
			MinTripAge: cfg.Eligibility.MinTripAge,
			AdultAge:   cfg.Eligibility.AdultAge,
		},
		TowArrival: cfg.Scheduling.EstimatedTowArrival,
		Logger:     appLogger.Logger,
		Metrics:    counters,
	})

	// Initialize engine connection
	eng, closeEngine, err := initEngine(cfg, domainHandlers.TaskTypes(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer closeEngine()
	if checker, ok := eng.(handler.HealthChecker); ok {
		checks["engine"] = checker
	}

	reg := registry.New(&registry.Config{
		Reporter: outcome.NewReporter(&outcome.Config{
			Client:  eng,
			Logger:  appLogger.Logger,
			Metrics: counters,
		}),
		Publisher: correlation.NewPublisher(&correlation.Config{
			Client:            eng,
			Logger:            appLogger.Logger,
			Metrics:           counters,
			RetryAttempts:     cfg.Correlation.RetryAttempts,
			RetryInterval:     cfg.Correlation.RetryInterval,
			BackoffMultiplier: cfg.Correlation.BackoffMultiplier,
			MaxInterval:       cfg.Correlation.MaxInterval,
		}),
		Logger:         appLogger.Logger,
		Metrics:        counters,
		JobTimeout:     cfg.Worker.JobTimeout,
		ReportTimeout:  cfg.Worker.ReportTimeout,
		PublishTimeout: cfg.Worker.PublishTimeout,
	})
	if err := domainHandlers.Register(reg); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Subscriber:  eng,
		Registry:    reg,
		Concurrency: cfg.Worker.Concurrency,
	})

	// Start status server
	var srv *http.Server
	if cfg.Server.Enabled {
		srv = initServer(cfg, &handler.Dependencies{
			Logger:      appLogger.Logger,
			ServiceName: cfg.App.Name,
			WorkerID:    workerInstance.ID(),
			Metrics:     counters,
			TaskTypes:   reg.TaskTypes,
			Links:       links,
			Checks:      checks,
		})

		go func() {
			appLogger.Info("Status server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Status server failed", slog.Any("error", err))
				cancel()
			}
		}()
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerInstance.ID()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Any("task_types", reg.TaskTypes()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	workerDone := false
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		workerDone = true
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			runErr = err
		}
	case <-ctx.Done():
		runErr = fmt.Errorf("status server stopped")
	}

	// Stop worker; in-flight jobs finish and report before Start returns
	if !workerDone {
		workerInstance.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer shutdownCancel()

		select {
		case err := <-errChan:
			if err != nil && runErr == nil {
				runErr = err
			}
			appLogger.Info("Worker stopped gracefully")
		case <-shutdownCtx.Done():
			appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
		}
	}

	if srv != nil {
		serverCtx, serverCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer serverCancel()
		if err := srv.Shutdown(serverCtx); err != nil {
			appLogger.Error("Status server forced to shutdown", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete",
		slog.Any("stats", counters.Snapshot()),
	)
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initDatabase opens the configured SQL database; nil when the driver is none
func initDatabase(ctx context.Context, cfg *config.DatabaseConfig, appName string, logger *slog.Logger) (database, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		client, err := postgresql.NewClient(ctx, &postgresql.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			SSLMode:         cfg.SSLMode,
			ApplicationName: appName,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			ConnectTimeout:  cfg.ConnectTimeout,
			ConnectRetries:  cfg.ConnectRetries,
			RetryInterval:   cfg.RetryInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.DriverSQLite:
		client, err := sqlite.NewClient(ctx, &sqlite.Config{Path: cfg.SQLitePath}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, nil
	}
}

// initStore returns the SQL side-effect store when a database is configured
func initStore(ctx context.Context, db database, logger *slog.Logger) (storage.Store, error) {
	if db == nil {
		logger.Warn("No database configured, side effects are remembered in memory only")
		return storage.NewMemoryStore(), nil
	}

	store := storage.NewSQLStore(db.GetDB(), logger)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initLedger returns the configured membership ledger
func initLedger(ctx context.Context, cfg *config.MembershipConfig, db database, logger *slog.Logger) (membership.Ledger, error) {
	if cfg.Backend != config.LedgerSQL {
		return membership.NewFileLedger(cfg.FilePath, logger), nil
	}

	ledger := membership.NewSQLLedger(db.GetDB(), logger)
	if err := ledger.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// initInvoicing selects the Stripe provider or the offline test mode
func initInvoicing(cfg *config.InvoicingConfig, logger *slog.Logger) *invoicing.Service {
	var provider invoicing.Provider
	if cfg.TestMode {
		logger.Info("Invoicing runs in test mode")
		provider = invoicing.NewTestModeProvider(logger)
	} else {
		provider = invoicing.NewStripeProvider(&invoicing.StripeConfig{
			APIURL:       cfg.APIURL,
			SecretKey:    cfg.StripeSecretKey,
			Timeout:      cfg.Timeout,
			DaysUntilDue: cfg.DaysUntilDue,
			Logger:       logger,
		})
	}

	return invoicing.NewService(&invoicing.ServiceConfig{
		Provider: provider,
		Currency: cfg.Currency,
		Logger:   logger,
	})
}

// initEngine connects to the engine selected by engine.mode
func initEngine(cfg *config.Config, taskTypes []string, logger *slog.Logger) (engine.Engine, func(), error) {
	if cfg.Engine.Mode == config.EngineModeMemory {
		logger.Warn("Using the simulated in-process engine")
		eng := memory.New(memory.Config{
			Logger:       logger,
			LeaseTimeout: cfg.Engine.LeaseTimeout,
		})
		return eng, func() {}, nil
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, amqpgw.JobRoutingKeys(taskTypes), cfg.Worker.Concurrency, logger)
	if err != nil {
		return nil, nil, err
	}

	consumerTag := cfg.Engine.ConsumerTag
	if consumerTag == "" {
		consumerTag = cfg.App.Name
	}

	gw := &healthyGateway{
		Gateway: amqpgw.New(&amqpgw.Config{
			Broker:      rabbitClient,
			Logger:      logger,
			ConsumerTag: consumerTag,
		}),
		client: rabbitClient,
	}

	return gw, func() {
		if err := rabbitClient.Close(); err != nil {
			logger.Error("Failed to close RabbitMQ client", slog.Any("error", err))
		}
	}, nil
}

// healthyGateway exposes the RabbitMQ connection state to /health
type healthyGateway struct {
	*amqpgw.Gateway
	client *rabbitmq.Client
}

func (g *healthyGateway) HealthCheck(ctx context.Context) error {
	return g.client.HealthCheck(ctx)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, routingKeys []string, prefetch int, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKeys:        routingKeys,
		PrefetchCount:      prefetch,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initServer builds the gin status server
func initServer(cfg *config.Config, deps *handler.Dependencies) *http.Server {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
