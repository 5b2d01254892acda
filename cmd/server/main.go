package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/contentops/stt-pipeline/internal/api"
	"github.com/contentops/stt-pipeline/internal/cache"
	"github.com/contentops/stt-pipeline/internal/config"
	"github.com/contentops/stt-pipeline/internal/dispatch"
	"github.com/contentops/stt-pipeline/internal/ratelimit"
	"github.com/contentops/stt-pipeline/internal/storage/sqlite"
	"github.com/contentops/stt-pipeline/internal/stt"
	"github.com/contentops/stt-pipeline/internal/websocket"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting STT pipeline server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Create SQLite storage
	store, err := sqlite.NewStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create the shared Redis cache. A nil cache means Redis is unreachable
	// and the pipeline runs without caching or cross-process rate limiting.
	sharedCache := cache.New(cfg.Redis, log)
	if sharedCache == nil {
		log.Warn("Redis unavailable, running without cache and shared rate limiting",
			logger.String("url", cfg.Redis.URL))
	} else {
		defer sharedCache.Close()
	}

	// Create rate limiter and transcription provider
	limiter := ratelimit.New(sharedCache, time.Duration(cfg.Redis.RateLimitWindowSecs)*time.Second, log)
	provider := stt.NewAssemblyAIClient(cfg.STT, log)

	// Create the transcription orchestrator
	service := stt.NewService(provider, sharedCache, limiter, stt.ServiceConfig{
		ProviderName:      "assemblyai",
		RateLimitRequests: cfg.STT.RateLimitRequests,
		MaxAttempts:       cfg.STT.RetryMaxAttempts,
		InitialDelayMs:    cfg.STT.RetryInitialDelayMs,
		BackoffMultiplier: cfg.STT.RetryBackoffMultiplier,
	}, log)

	// Create WebSocket server for item status events
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Create the invocation handler
	handler := stt.NewHandler(service, store, sharedCache, wsServer, log)

	// Create the Step Functions client only when the step transport is active
	var starter dispatch.ExecutionStarter
	if cfg.Dispatch.Mode == config.DispatchModeStep {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Dispatch.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Dispatch.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			log.Error("Failed to load AWS configuration", logger.Error(err))
			os.Exit(1)
		}
		starter = sfn.NewFromConfig(awsCfg)
	}

	// Create the invocation dispatcher
	dispatcher, err := dispatch.New(cfg.Dispatch, handler, starter, log)
	if err != nil {
		log.Error("Failed to create dispatcher", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Dispatch transport configured", logger.String("mode", cfg.Dispatch.Mode))

	// Create API router
	router := api.NewRouter(store, dispatcher, handler, sharedCache, wsServer, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server stopped.")
	}

	log.Info("Server shutdown complete")
}
