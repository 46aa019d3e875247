package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-api/internal/config"
	"account-api/internal/controller"
	"account-api/internal/database"
	"account-api/internal/external"
	"account-api/internal/ledger"
	"account-api/internal/messaging"
	"account-api/internal/middleware"
	"account-api/internal/monitoring"
	"account-api/internal/scheduler"
	"account-api/internal/service"
	"account-api/pkg/logger"
)

// @title Account API
// @version 1.0
// @description Payment account and balance ledger service

// @host localhost:8080
// @BasePath /api

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Logging)

	log.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
	}).Info("Starting Account API")

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	cancel()
	log.Info("Server exited")
}

// Application holds all application dependencies
type Application struct {
	config  *config.Config
	router  *gin.Engine
	cleanup func()
}

func initializeApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*Application, error) {
	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	metrics := monitoring.NewMetricsService()

	var publisher ledger.EventPublisher
	var publisherCloser func() error
	if cfg.RabbitMQ.EnablePublisher {
		p, err := messaging.NewBalanceEventPublisher(messaging.PublisherConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		publisher = p
		publisherCloser = p.Close
	}

	engine := ledger.NewEngine(
		db.Repositories.Account,
		db.Repositories.Balance,
		db.Repositories.Audit,
		db.Repositories.Sequence,
		db,
		publisher,
		metrics,
		log,
		ledger.Config{MaxRetries: cfg.Ledger.MaxRetries},
	)

	owners := external.NewOwnerClient(&external.OwnerClientConfig{
		UserServiceURL:    cfg.External.UserServiceURL,
		ProjectServiceURL: cfg.External.ProjectServiceURL,
		Timeout:           cfg.External.Timeout,
	})

	accountService := service.NewAccountService(
		db.Repositories.Account,
		db.Repositories.Balance,
		db.Repositories.Sequence,
		owners,
		db,
		log,
	)

	var consumerCloser func() error
	if cfg.RabbitMQ.EnableConsumer {
		consumer, err := messaging.NewPaymentEventConsumer(messaging.ConsumerConfig{
			URL:                cfg.RabbitMQ.URL,
			Exchange:           cfg.RabbitMQ.Exchange,
			Queue:              cfg.RabbitMQ.PaymentQueue,
			RoutingKey:         cfg.RabbitMQ.PaymentRoutingKey,
			DeadLetterExchange: cfg.RabbitMQ.DeadLetterExchange,
			PrefetchCount:      cfg.RabbitMQ.PrefetchCount,
		}, engine, metrics, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize payment consumer: %w", err)
		}
		if err := consumer.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start payment consumer: %w", err)
		}
		consumerCloser = consumer.Close
	}

	reconciler := scheduler.NewReconciler(db.Repositories.Balance, db.Repositories.Audit, log, cfg.Reconciliation)
	if err := reconciler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start reconciler: %w", err)
	}

	health := monitoring.NewHealthChecker()
	health.RegisterCheck("databases", db.HealthCheck)

	router := setupRouter(cfg, log, metrics, health, engine, accountService)

	cleanup := func() {
		log.Info("Cleaning up application resources...")
		reconciler.Stop()
		if consumerCloser != nil {
			if err := consumerCloser(); err != nil {
				log.WithError(err).Warn("Failed to close payment consumer")
			}
		}
		if publisherCloser != nil {
			if err := publisherCloser(); err != nil {
				log.WithError(err).Warn("Failed to close event publisher")
			}
		}
		if err := db.Close(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to close database connections")
		}
	}

	return &Application{
		config:  cfg,
		router:  router,
		cleanup: cleanup,
	}, nil
}

// setupRouter configures the Gin router with all routes and middleware
func setupRouter(
	cfg *config.Config,
	log *logrus.Logger,
	metrics monitoring.MetricsService,
	health *monitoring.HealthChecker,
	engine ledger.Engine,
	accountService service.AccountService,
) *gin.Engine {
	router := gin.New()
	_ = router.SetTrustedProxies(cfg.Server.TrustedProxies)

	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(cors.Default())
	router.Use(middleware.RequestLogging(log, "/health", "/ready", cfg.Monitoring.MetricsPath))
	if cfg.Monitoring.EnableMetrics {
		router.Use(monitoring.HTTPMetrics(metrics))
	}

	router.GET("/health", health.LivenessHandler())
	router.GET("/ready", health.ReadinessHandler())
	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, metrics.Handler())
	}

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
			"service":    "account-api",
		})
	})

	accounts := controller.NewAccountController(accountService)
	balances := controller.NewBalanceController(engine)

	api := router.Group("/api")
	{
		accountRoutes := api.Group("/accounts")
		{
			accountRoutes.POST("", accounts.OpenAccount)
			accountRoutes.GET("", accounts.ListAccounts)
			accountRoutes.GET("/:number", accounts.GetAccount)
			accountRoutes.POST("/:number/suspend", accounts.SuspendAccount)
			accountRoutes.POST("/:number/activate", accounts.ActivateAccount)
			accountRoutes.POST("/:number/close", accounts.CloseAccount)
		}

		balanceRoutes := api.Group("/balances")
		{
			balanceRoutes.POST("/transfer", balances.Transfer)
			balanceRoutes.GET("/:number", balances.GetBalance)
			balanceRoutes.POST("/:number/operations", balances.ApplyOperation)
			balanceRoutes.GET("/:number/audit", balances.GetAuditTrail)
		}
	}

	return router
}
