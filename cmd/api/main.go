package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"rental-portal/internal/auth"
	"rental-portal/internal/calendar"
	"rental-portal/internal/cleanup"
	"rental-portal/internal/config"
	"rental-portal/internal/database"
	"rental-portal/internal/handlers"
	"rental-portal/internal/importer"
	"rental-portal/internal/logging"
	"rental-portal/internal/media"
	"rental-portal/internal/progress"
	"rental-portal/internal/ratelimit"
	"rental-portal/internal/scheduler"
	"rental-portal/internal/scraper"
	"rental-portal/internal/search"
)

func main() {
	// Load configuration
	configPath := config.GetEnv("CONFIG_PATH", "config/config.yaml")
	appConfig, err := config.LoadConfig(configPath)
	if err != nil {
		slog.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		appConfig = config.DefaultConfig()
	}
	applyEnvOverrides(appConfig)

	logger := logging.New(logging.Config{Level: appConfig.Logging.Level, JSON: appConfig.Logging.JSON})
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "path", configPath, "database", appConfig.Database.Type, "job_store", appConfig.Import.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	gormDB, err := database.Open(appConfig.Database, logger.With("component", "database"))
	if err != nil {
		fatal(logger, "failed to connect to database", err)
	}
	defer gormDB.Close()

	if err := gormDB.InitSchema(); err != nil {
		fatal(logger, "failed to initialize schema", err)
	}

	// Import runner and its optional collaborators
	validator, err := importer.NewValidator()
	if err != nil {
		fatal(logger, "failed to compile import schemas", err)
	}

	listingScraper := scraper.NewScraper(scraper.Config{
		Timeout:      appConfig.Scraper.GetTimeout(),
		MaxRetries:   appConfig.Scraper.MaxRetries,
		RetryDelay:   appConfig.Scraper.GetRetryDelay(),
		RequestDelay: appConfig.Scraper.GetRequestDelay(),
		Headless:     appConfig.Scraper.Headless,
		ChromePath:   appConfig.Scraper.ChromePath,
		UserAgent:    appConfig.Scraper.UserAgent,
		ListingHosts: appConfig.Scraper.ListingHosts,
		DefaultCity:  appConfig.Import.DefaultListingCity,
	}, logger.With("component", "scraper"))

	runnerOpts := []importer.RunnerOption{
		importer.WithLogger(logger.With("component", "runner")),
		importer.WithListings(listingScraper),
	}

	var searchClient *search.SearchClient
	if appConfig.Search.Meilisearch.Enabled {
		msCfg := appConfig.Search.Meilisearch
		searchClient = search.NewSearchClient(msCfg.Host, msCfg.APIKey, msCfg.Index)
		if err := searchClient.InitIndex(); err != nil {
			logger.Warn("failed to initialize search index", "error", err)
		}
		runnerOpts = append(runnerOpts, importer.WithIndexer(searchClient))
	}

	var objectStore *media.S3Store
	if appConfig.Media.Bucket != "" {
		objectStore, err = media.NewS3Store(ctx, appConfig.Media)
		if err != nil {
			logger.Warn("media storage unavailable, media downloads will be reported as errors", "error", err)
			objectStore = nil
		} else {
			processor := media.NewProcessor(objectStore, appConfig.Media.MaxBytes, appConfig.Media.ThumbnailWidth,
				appConfig.Media.GetTimeout(), logger.With("component", "media"))
			runnerOpts = append(runnerOpts, importer.WithMedia(processor))
		}
	}

	runner := importer.NewRunner(validator, gormDB, runnerOpts...)

	// Job state
	var (
		jobStore    progress.Store
		redisClient *redis.Client
	)
	switch appConfig.Import.Store {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     appConfig.Redis.Addr,
			Password: appConfig.Redis.Password,
			DB:       appConfig.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			fatal(logger, "failed to connect to redis", err)
		}
		jobStore = progress.NewRedisStore(redisClient, appConfig.Import.GetRetention(), appConfig.Import.GetMaxJobDuration())
	default:
		jobStore = progress.NewMemoryStore(appConfig.Import.GetRetention(), appConfig.Import.GetMaxJobDuration())
	}
	jobs := progress.NewService(jobStore, runner, gormDB, appConfig.Import.GetMaxJobDuration(), logger.With("component", "jobs"))

	// Auth and rate limiting
	tokens, err := auth.NewTokenService(appConfig.Auth.JWTSecret, appConfig.Auth.Issuer)
	if err != nil {
		fatal(logger, "auth is not configured", err)
	}

	rateLimiter := ratelimit.NewRateLimiter(
		appConfig.RateLimit.RequestsPerMinute,
		appConfig.RateLimit.RequestsPerHour,
		appConfig.RateLimit.RequestsPerDay,
		appConfig.RateLimit.Enabled,
	)
	logger.Info("rate limiter initialized",
		"per_minute", appConfig.RateLimit.RequestsPerMinute,
		"per_hour", appConfig.RateLimit.RequestsPerHour,
		"per_day", appConfig.RateLimit.RequestsPerDay,
		"enabled", appConfig.RateLimit.Enabled)

	calendars := calendar.NewService(gormDB, appConfig.Calendar.GetTimeout(), logger.With("component", "calendar"))
	cleanupService := cleanup.NewService(gormDB, logger.With("component", "cleanup"))

	// Scheduler
	appScheduler := scheduler.NewScheduler(logger.With("component", "scheduler"))
	tasks := []struct {
		name    string
		spec    string
		timeout time.Duration
		fn      scheduler.TaskFunc
	}{
		{scheduler.TaskSweepJobs, "@every " + appConfig.Import.SweepInterval, time.Minute, scheduler.SweepJobs(jobs, logger)},
		{scheduler.TaskSyncCalendars, appConfig.Calendar.SyncSpec, 10 * time.Minute, scheduler.SyncCalendars(calendars, logger)},
		{scheduler.TaskPurgeImportLogs, "@daily", 10 * time.Minute, scheduler.PurgeImportLogs(cleanupService, appConfig.Import.LogRetentionDays)},
		{scheduler.TaskPruneRateLimits, "@hourly", time.Minute, scheduler.PruneRateLimits(rateLimiter)},
	}
	for _, t := range tasks {
		if err := appScheduler.AddTask(t.name, t.spec, t.timeout, t.fn); err != nil {
			fatal(logger, "failed to schedule task", err)
		}
	}
	appScheduler.Start()

	// Handlers
	importHandler := handlers.NewImportHandler(jobs, validator, listingScraper, appConfig.Import.MaxFileBytes,
		appConfig.Server.GetSyncWait(), logger.With("component", "import"))
	calendarHandler := handlers.NewCalendarHandler(calendars, logger.With("component", "calendar"))
	adminHandler := handlers.NewAdminHandler(gormDB, rateLimiter, appScheduler, cleanupService, logger.With("component", "admin"))

	var searcher handlers.PropertySearcher
	if searchClient != nil {
		searcher = searchClient
	}
	propertyHandler := handlers.NewPropertyHandler(gormDB, searcher)

	healthChecks := []handlers.HealthCheck{{Name: "database", Check: gormDB.Ping}}
	if redisClient != nil {
		healthChecks = append(healthChecks, handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	if objectStore != nil {
		healthChecks = append(healthChecks, handlers.HealthCheck{Name: "media", Check: objectStore.Ping})
	}
	if searchClient != nil {
		healthChecks = append(healthChecks, handlers.HealthCheck{Name: "search", Check: func(ctx context.Context) error {
			if !searchClient.Healthy() {
				return errors.New("meilisearch is not healthy")
			}
			return nil
		}})
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if appConfig.Logging.LogRequests {
		r.Use(handlers.RequestLogger(logger.With("component", "http")))
	}

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     appConfig.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.MaxMultipartMemory = appConfig.Import.MaxFileBytes

	// Routes
	r.GET("/health", handlers.Health(healthChecks...))
	r.POST("/api/import/validate", handlers.RateLimit(rateLimiter), importHandler.Validate)

	api := r.Group("/api", auth.Middleware(tokens))
	{
		api.POST("/import", handlers.RateLimit(rateLimiter), importHandler.StartImport)
		api.POST("/import/url", handlers.RateLimit(rateLimiter), importHandler.StartURLImport)
		api.GET("/import/status", importHandler.GetStatus)

		api.POST("/calendar-sync", calendarHandler.ConfigureSync)
		api.GET("/calendar-sync", calendarHandler.ListSyncs)

		api.GET("/properties", propertyHandler.List)
		api.GET("/properties/search", propertyHandler.Search)
		api.GET("/properties/:id", propertyHandler.Get)

		admin := api.Group("/admin")
		admin.GET("/imports", adminHandler.GetImports)
		admin.GET("/stats", adminHandler.GetStats)
		admin.POST("/tasks/:task", adminHandler.TriggerTask)
		admin.POST("/cleanup/run", adminHandler.RunCleanup)
		admin.POST("/rate-limit/reset", adminHandler.ResetRateLimit)
	}

	port := config.GetEnv("PORT", appConfig.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "failed to start server", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	appScheduler.Stop(shutdownCtx)
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("imports still running at shutdown were abandoned", "error", err)
	}
}

// applyEnvOverrides lets the environment pick the database and fill connection settings left empty in the file
func applyEnvOverrides(cfg *config.Config) {
	cfg.Database.Type = config.GetEnv("DB_TYPE", cfg.Database.Type)
	cfg.Database.SQLite.Path = config.GetEnv("SQLITE_PATH", cfg.Database.SQLite.Path)

	switch cfg.Database.Type {
	case "mysql":
		m := &cfg.Database.MySQL
		m.Host = config.GetEnvOrConfig(m.Host, "DB_HOST", "mysql")
		m.Port = envPort(m.Port, 3306)
		m.User = config.GetEnvOrConfig(m.User, "DB_USER", "rental_user")
		m.Password = config.GetEnvOrConfig(m.Password, "DB_PASSWORD", "")
		m.Database = config.GetEnvOrConfig(m.Database, "DB_NAME", "rental_db")
	case "postgres":
		p := &cfg.Database.Postgres
		p.Host = config.GetEnvOrConfig(p.Host, "DB_HOST", "db")
		p.Port = envPort(p.Port, 5432)
		p.User = config.GetEnvOrConfig(p.User, "DB_USER", "rental_user")
		p.Password = config.GetEnvOrConfig(p.Password, "DB_PASSWORD", "")
		p.Database = config.GetEnvOrConfig(p.Database, "DB_NAME", "rental_db")
	}

	cfg.Redis.Addr = config.GetEnvOrConfig(cfg.Redis.Addr, "REDIS_ADDR", "localhost:6379")
	cfg.Search.Meilisearch.Host = config.GetEnvOrConfig(cfg.Search.Meilisearch.Host, "MEILISEARCH_HOST", "http://meilisearch:7700")
	cfg.Search.Meilisearch.APIKey = config.GetEnvOrConfig(cfg.Search.Meilisearch.APIKey, "MEILISEARCH_KEY", "")
	cfg.Media.Endpoint = config.GetEnvOrConfig(cfg.Media.Endpoint, "S3_ENDPOINT", "")
	cfg.Media.AccessKey = config.GetEnvOrConfig(cfg.Media.AccessKey, "S3_ACCESS_KEY", "")
	cfg.Media.SecretKey = config.GetEnvOrConfig(cfg.Media.SecretKey, "S3_SECRET_KEY", "")
	cfg.Auth.JWTSecret = config.GetEnvOrConfig(cfg.Auth.JWTSecret, "JWT_SECRET", "")
	cfg.Auth.Issuer = config.GetEnvOrConfig(cfg.Auth.Issuer, "JWT_ISSUER", "")
}

func envPort(current, def int) int {
	if current > 0 {
		return current
	}
	if v, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil {
		return v
	}
	return def
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
