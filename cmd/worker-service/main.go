package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-trade-dispatcher/internal/worker/config"
	delivery "golang-trade-dispatcher/internal/worker/delivery/http"
	"golang-trade-dispatcher/internal/worker/repository"
	"golang-trade-dispatcher/internal/worker/service"
	"golang-trade-dispatcher/pkg/logger"
	"golang-trade-dispatcher/pkg/postgres"
	"golang-trade-dispatcher/pkg/redis"
	"golang-trade-dispatcher/pkg/telegram"
	"golang-trade-dispatcher/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the trade dispatch worker",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Worker Service", logger.Field("name", cfg.App.Name))

	// Initialize database
	postgresCfg := postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		TimeZone:        cfg.Database.TimeZone,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	db, err := postgres.NewDB(postgresCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Initialize Redis
	redisCfg := redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}
	redisClient, err := redis.NewClient(redisCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize Telegram notifier; alerts degrade to log-only without a token
	var notifier telegram.Notifier = telegram.NoopNotifier{}
	if cfg.Telegram.BotToken != "" {
		notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			appLogger.Fatal("Failed to initialize Telegram notifier", logger.ErrorField(err))
		}
	}

	// Initialize repositories
	newsEventRepo := repository.NewNewsEventRepository(db.DB)
	recommendationRepo := repository.NewRecommendationRepository(db.DB)
	executionRepo := repository.NewExecutionRepository(db.DB)
	positionRepo := repository.NewPositionRepository(db.DB)
	runRepo := repository.NewDispatcherRunRepository(db.DB)
	watchlistRepo := repository.NewWatchlistRepository(db.DB)
	newsFeedRepo := repository.NewNewsFeedRepository(appLogger)
	sentimentRepo := repository.NewSentimentRepository(cfg, appLogger)
	brokerRepo := repository.NewAlpacaRepository(cfg, appLogger)
	marketDataRepo, err := repository.NewYahooFinanceRepository(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize market data repository", logger.ErrorField(err))
	}

	// Initialize services
	ingestSvc := service.NewIngestService(cfg, appLogger, newsFeedRepo, newsEventRepo)
	classifierSvc := service.NewClassifierService(cfg, appLogger, newsEventRepo, watchlistRepo, sentimentRepo, recommendationRepo)
	dispatchSvc := service.NewDispatchService(cfg, appLogger, recommendationRepo, executionRepo, runRepo, brokerRepo, marketDataRepo)
	monitorSvc := service.NewPositionMonitorService(cfg, appLogger, executionRepo, positionRepo, brokerRepo, marketDataRepo, redisClient, notifier)
	reconciliationSvc := service.NewReconciliationService(cfg, appLogger, positionRepo, brokerRepo, redisClient, notifier)

	// Schedule the worker entry points. Every tick gets its own bounded
	// context so a stuck collaborator cannot wedge the scheduler.
	scheduler := cron.New()
	ticks := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"ingest", cfg.Worker.IngestSchedule, ingestSvc.Run},
		{"classify", cfg.Worker.ClassifySchedule, classifierSvc.Run},
		{"dispatch", cfg.Worker.DispatchSchedule, dispatchSvc.Run},
		{"monitor", cfg.Worker.MonitorSchedule, monitorSvc.Run},
		{"reconcile", cfg.Worker.ReconcileSchedule, reconciliationSvc.Run},
	}
	for _, tick := range ticks {
		tick := tick
		_, err := scheduler.AddFunc(tick.schedule, func() {
			tickCtx, cancel := context.WithTimeout(ctx, cfg.Worker.TickTimeout)
			defer cancel()
			tick.run(tickCtx)
		})
		if err != nil {
			appLogger.Fatal("Failed to schedule tick",
				logger.StringField("tick", tick.name),
				logger.StringField("schedule", tick.schedule),
				logger.ErrorField(err))
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize Echo server
	e := echo.New()
	e.HideBanner = true

	// Initialize handlers and routes
	apiV1 := e.Group("/api/v1")

	recommendationHandler := delivery.NewRecommendationHandler(recommendationRepo, appLogger)
	recommendationHandler.RegisterRoutes(apiV1.Group("/recommendations"))

	positionHandler := delivery.NewPositionHandler(positionRepo, runRepo, appLogger)
	positionHandler.RegisterRoutes(apiV1.Group("/positions"))
	positionHandler.RegisterRunRoutes(apiV1.Group("/dispatcher-runs"))

	// Start server
	utils.GoSafe(func() {
		addr := fmt.Sprintf(":%d", cfg.API.Port)
		appLogger.Info("HTTP server starting", logger.Field("address", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed to start", logger.ErrorField(err))
			stop() // trigger shutdown
		}
	})

	// Wait for shutdown signal
	<-ctx.Done()

	appLogger.Info("Shutting down server...")

	// Gracefully shutdown the server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	appLogger.Info("Server exiting")
}

func main() {
	rootCmd := &cobra.Command{Use: "worker-service"}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config-worker.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing worker-service CLI: %s\n", err)
		os.Exit(1)
	}
}
