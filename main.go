// Package main provides the main entry point for the omni-channel sequence engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/leadpulse/sequence-engine/app/handlers"
	"github.com/leadpulse/sequence-engine/app/middleware"
	"github.com/leadpulse/sequence-engine/app/router"
	"github.com/leadpulse/sequence-engine/app/scheduler"
	"github.com/leadpulse/sequence-engine/app/services"
	businessflow "github.com/leadpulse/sequence-engine/business_flow"
	"github.com/leadpulse/sequence-engine/channel"
	"github.com/leadpulse/sequence-engine/config"
	"github.com/leadpulse/sequence-engine/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting sequence engine...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB and password if provided in config
	opt.DB = cfg.RedisDB
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// initializeChannelRegistry builds adapters for every enabled channel
func initializeChannelRegistry(cfg *config.ProductionConfig) (*channel.Registry, error) {
	var adapters []channel.Adapter

	if cfg.Channels.Email.Enabled {
		adapters = append(adapters, channel.NewEmailAdapter(channel.EmailConfig{
			Host:        cfg.Channels.Email.Host,
			Port:        cfg.Channels.Email.Port,
			Username:    cfg.Channels.Email.Username,
			Password:    cfg.Channels.Email.Password,
			FromAddress: cfg.Channels.Email.FromAddress,
			FromName:    cfg.Channels.Email.FromName,
			SkipTLS:     cfg.Channels.Email.SkipTLS,
		}))
	}
	if cfg.Channels.SMS.Enabled {
		adapters = append(adapters, channel.NewSMSAdapter(channel.SMSConfig{
			BaseURL:    cfg.Channels.SMS.BaseURL,
			APIKey:     cfg.Channels.SMS.APIKey,
			SenderName: cfg.Channels.SMS.SenderName,
			Timeout:    cfg.Channels.SMS.Timeout,
		}))
	}
	if cfg.Channels.Social.Enabled {
		adapters = append(adapters, channel.NewSocialAdapter(channel.SocialConfig{
			BaseURL: cfg.Channels.Social.BaseURL,
			APIKey:  cfg.Channels.Social.APIKey,
			Timeout: cfg.Channels.Social.Timeout,
		}))
	}
	if cfg.Channels.Voice.Enabled {
		adapters = append(adapters, channel.NewVoiceAdapter(channel.VoiceConfig{
			BaseURL:        cfg.Channels.Voice.BaseURL,
			APIKey:         cfg.Channels.Voice.APIKey,
			DefaultAgentID: cfg.Channels.Voice.DefaultAgentID,
			Timeout:        cfg.Channels.Voice.Timeout,
		}))
	}

	return channel.NewRegistry(adapters...)
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	sequenceRepo := repository.NewSequenceRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	executionRepo := repository.NewStepExecutionRepository(db)
	analyticsRepo := repository.NewStepAnalyticsRepository(db)
	eventRepo := repository.NewChannelEventRepository(db)
	txMgr := repository.NewTxManager(db)

	// Initialize channel adapters
	registry, err := initializeChannelRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize channel registry: %w", err)
	}

	// Initialize services
	templateStore := services.NewHTTPTemplateStore(cfg.Templates.BaseURL, cfg.Templates.APIKey, cfg.Templates.Timeout)
	resolver := services.NewTemplateResolver(templateStore, rc, cfg.Cache.TemplateTTL)
	leadService := services.NewHTTPLeadService(cfg.CRM.BaseURL, cfg.CRM.APIKey, cfg.CRM.Timeout)
	outcomes := scheduler.NewOutcomeCache(rc, cfg.Cache.OutcomeTTL)
	evaluator := scheduler.NewConditionEvaluator(log.Default())

	// Initialize token service
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.RefreshTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Initialize scheduler. The instance always exists so the triggered run
	// endpoint works; the ticker loop only starts when enabled.
	executor := scheduler.NewStepExecutor(
		enrollmentRepo,
		sequenceRepo,
		executionRepo,
		analyticsRepo,
		eventRepo,
		txMgr,
		registry,
		resolver,
		leadService,
		evaluator,
		outcomes,
		nil,
		cfg.Scheduler.SendTimeout,
	)
	sched := scheduler.NewSequenceScheduler(enrollmentRepo, executor, scheduler.Config{
		Interval:  cfg.Scheduler.Interval,
		BatchSize: cfg.Scheduler.BatchSize,
		Workers:   cfg.Scheduler.Workers,
		LeaseTTL:  cfg.Scheduler.LeaseTTL,
		LogPath:   cfg.Logging.SchedulerLog,
	}, nil)
	if cfg.Scheduler.Enabled {
		stopScheduler := sched.Start(context.Background())
		stopFuncs = append(stopFuncs, stopScheduler)
	}

	// Initialize flows
	sequenceFlow := businessflow.NewSequenceFlow(sequenceRepo, txMgr)
	enrollmentFlow := businessflow.NewEnrollmentFlow(enrollmentRepo, sequenceRepo)
	webhookFlow := businessflow.NewWebhookFlow(eventRepo, executionRepo, analyticsRepo, outcomes, txMgr, log.Default())
	analyticsFlow := businessflow.NewAnalyticsFlow(sequenceRepo, analyticsRepo)

	// Initialize handlers
	sequenceHandler := handlers.NewSequenceHandler(sequenceFlow)
	enrollmentHandler := handlers.NewEnrollmentHandler(enrollmentFlow)
	webhookHandler := handlers.NewWebhookHandler(webhookFlow)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsFlow)
	schedulerHandler := handlers.NewSchedulerHandler(sched)

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	// Initialize router
	appRouter := router.NewFiberRouter(
		cfg,
		authMiddleware,
		sequenceHandler,
		enrollmentHandler,
		webhookHandler,
		analyticsHandler,
		schedulerHandler,
	)

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
