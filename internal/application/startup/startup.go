// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/application/container"
	schema "github.com/AtRiskMedia/assetsign/internal/infrastructure/database"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/security"
	"github.com/AtRiskMedia/assetsign/internal/presentation/http/server"
	"github.com/AtRiskMedia/assetsign/pkg/config"
)

// Initialize performs the complete startup sequence and blocks until shutdown
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("\033[32m" + `
  ▄▀█ █▀ █▀ █▀▀ ▀█▀ █▀ █ █▀▀ █▄ █
  █▀█ ▄█ ▄█ ██▄  █  ▄█ █ █▄█ █ ▀█
` + "\033[97m" + `
  made by At Risk Media
` + "\033[0m")

	// Step 1: Create the channeled logger
	log.Println("Initializing logging...")
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()
	logger.Startup().Info("Channeled logging ready - switching from bootstrap logging")

	// Step 2: Open the asset store
	phaseStart := time.Now()
	db, err := openDatabase(logger)
	if err != nil {
		logger.LogStartupPhase("database", time.Since(phaseStart), false, map[string]any{"error": err.Error()})
		return err
	}
	defer db.Close()

	if err := schema.NewTableCreator().CreateSchema(db.DB); err != nil {
		logger.LogStartupPhase("schema", time.Since(phaseStart), false, map[string]any{"error": err.Error()})
		return fmt.Errorf("failed to create schema: %w", err)
	}
	database.CheckAndLogSlowQuery(logger, "SCHEMA_CREATE", time.Since(phaseStart))
	logger.LogStartupPhase("database", time.Since(phaseStart), true, map[string]any{"driver": db.Driver})

	// Step 3: Create dependency injection container
	phaseStart = time.Now()
	settings := container.SettingsFromConfig()
	if settings.Signing.Secret == "" {
		secret, err := security.GenerateSecureKey(64)
		if err != nil {
			return fmt.Errorf("failed to generate signing secret: %w", err)
		}
		settings.Signing.Secret = secret
		logger.Startup().Warn("SIGNING_SECRET not set - using an ephemeral secret; signed URLs will not survive a restart")
	}
	if settings.AdminKeyHash == "" {
		logger.Startup().Warn("ADMIN_KEY_HASH not set - admin routes will reject every request")
	}

	perfTracker := performance.NewTracker(performance.DefaultTrackerConfig())
	appContainer := container.NewContainer(db, settings, nil, logger, perfTracker)
	logger.LogStartupPhase("container", time.Since(phaseStart), true, map[string]any{
		"signEndpoint": settings.SignEndpoint,
		"cacheMaxSize": settings.Cache.MaxSize,
	})

	// Step 4: Start background workers
	go appContainer.PruneWorker.Start(ctx)
	go appContainer.Broadcaster.Run(ctx)

	// Step 5: Start HTTP server
	httpServer := server.New(config.Port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+config.Port)
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port)

	// Wait for shutdown signal or a listener failure
	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			return err
		}
	}

	shutdownStart := time.Now()

	// Cancel background tasks and abandon pending sign calls
	cancelBackgroundTasks()
	if n := appContainer.Coalescer.CancelAll(); n > 0 {
		logger.Shutdown().Info("Cancelled pending sign requests", "count", n)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

func newLogger() (*logging.ChanneledLogger, error) {
	loggerConfig := logging.DefaultLoggerConfig()
	loggerConfig.DefaultLevel = logging.ParseLevel(config.LogLevel)
	loggerConfig.JSONFormat = config.LogJSON
	if config.LogDirectory != "" {
		loggerConfig.OutputToFile = true
		loggerConfig.LogDirectory = config.LogDirectory
	}
	return logging.NewChanneledLogger(loggerConfig)
}

// openDatabase prefers Turso when configured and falls back to the local driver
func openDatabase(logger *logging.ChanneledLogger) (*database.DB, error) {
	pool := database.PoolConfig{
		MaxOpenConns:    config.DBMaxOpenConns,
		MaxIdleConns:    config.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(config.DBConnMaxLifetimeMinutes) * time.Minute,
	}

	if config.TursoDatabaseURL != "" {
		if err := database.TestTursoConnectionWithLogger(config.TursoDatabaseURL, config.TursoAuthToken, logger); err != nil {
			return nil, fmt.Errorf("turso connection test failed: %w", err)
		}
		return database.NewConnectionWithLogger("libsql",
			database.TursoDSN(config.TursoDatabaseURL, config.TursoAuthToken), pool, logger)
	}

	db, err := database.NewConnectionWithLogger(config.DBDriver, config.DBDSN, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.DBDriver, err)
	}
	return db, nil
}

// setupLogging configures bootstrap logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
