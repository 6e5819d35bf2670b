package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nestline/chatnest/internal/api"
	"github.com/nestline/chatnest/internal/assistant"
	"github.com/nestline/chatnest/internal/auth"
	"github.com/nestline/chatnest/internal/config"
	"github.com/nestline/chatnest/internal/metrics"
	"github.com/nestline/chatnest/internal/storage/postgres"
	"github.com/nestline/chatnest/internal/storage/redis"
	"github.com/nestline/chatnest/internal/systemd"
	"github.com/nestline/chatnest/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the ChatNest server",
	Long:  `Start the ChatNest API server with the usage meter, retention scheduler and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting ChatNest")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize relational storage
	store, err := postgres.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database")
		}
	}()

	logger.Info().Msg("Database initialized")

	// Initialize the usage event log
	eventLog, err := redis.Open(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize event log: %w", err)
	}
	defer func() {
		if err := eventLog.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close event log")
		}
	}()

	logger.Info().
		Str("redis_host", cfg.Redis.Host).
		Int("redis_port", cfg.Redis.Port).
		Msg("Usage event log initialized")

	// Initialize the usage meter
	meter := usage.NewMeter(eventLog.UsageEvents(), usage.RealClock{}, logger)

	logger.Info().Msg("Usage meter initialized")

	// Initialize the retention scheduler
	retention, err := usage.NewRetentionScheduler(
		eventLog.UsageEvents(),
		store.Chats(),
		cfg.Usage.RetentionRunTime,
		cfg.Usage.RetentionDays,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}

	retention.Start()
	logger.Info().
		Str("run_time", cfg.Usage.RetentionRunTime).
		Int("retention_days", cfg.Usage.RetentionDays).
		Msg("Retention scheduler started")

	// Initialize authentication
	authService := auth.NewAuthService(
		store.Parents(),
		store.Children(),
		meter,
		cfg.Auth.JWTSecret,
		parseDuration(cfg.Auth.TokenExpiration, auth.DefaultTokenExpiration),
		logger,
	)
	authService.StartSessionCleanup(15 * time.Minute)

	// Initialize the assistant client
	assistantClient := assistant.NewClient(assistant.Config{
		Endpoint:  cfg.Assistant.Endpoint,
		APIKey:    cfg.Assistant.APIKey,
		Timeout:   parseDuration(cfg.Assistant.Timeout, 30*time.Second),
		CacheSize: cfg.Assistant.CacheSize,
		CacheTTL:  parseDuration(cfg.Assistant.CacheTTL, 10*time.Minute),
	}, logger)

	logger.Info().Str("endpoint", cfg.Assistant.Endpoint).Msg("Assistant client initialized")

	// Initialize the API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:      apiAddr,
		RateLimit:       cfg.Auth.RateLimit,
		RateLimitWindow: parseDuration(cfg.Auth.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, store, meter, authService, assistantClient, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info().Str("addr", apiAddr).Msg("API server started")

	// Initialize the metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")

	logger.Info().Msg("ChatNest startup complete")
	logger.Info().Msgf("API: http://%s", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			// No hot-reloadable state yet, log and keep serving
			logger.Info().Msg("SIGHUP received, nothing to reload")
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	retention.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("ChatNest stopped")

	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
