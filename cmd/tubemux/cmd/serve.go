package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tubemux/tubemux/internal/catalog"
	"github.com/tubemux/tubemux/internal/config"
	"github.com/tubemux/tubemux/internal/database"
	"github.com/tubemux/tubemux/internal/ffmpeg"
	internalhttp "github.com/tubemux/tubemux/internal/http"
	"github.com/tubemux/tubemux/internal/http/handlers"
	"github.com/tubemux/tubemux/internal/observability"
	"github.com/tubemux/tubemux/internal/pipeline"
	"github.com/tubemux/tubemux/internal/repository"
	"github.com/tubemux/tubemux/internal/service"
	"github.com/tubemux/tubemux/internal/session"
	"github.com/tubemux/tubemux/internal/upstream"
	"github.com/tubemux/tubemux/internal/version"
	"github.com/tubemux/tubemux/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tubemux server",
	Long: `Start the tubemux HTTP server and API.

The server provides:
- Format catalog lookups for media locators
- Streaming downloads with on-the-fly muxing and transcoding
- Download history, health check, and Prometheus metrics endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "tubemux.db", "History database file path")
	serveCmd.Flags().String("ffmpeg-binary", "", "Path to the ffmpeg binary (default: PATH lookup)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.path", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("ffmpeg.binary", serveCmd.Flags().Lookup("ffmpeg-binary"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	// History database
	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("initializing history database: %w", err)
	}
	defer db.Close()

	downloadRepo := repository.NewDownloadRepository(db.DB)
	recorder := service.NewHistoryRecorder(downloadRepo, logger)

	// Upstream HTTP clients: a bounded one for metadata calls and an
	// unbounded one for stream bodies that live as long as a download.
	apiHTTPConfig := httpclient.DefaultConfig()
	apiHTTPConfig.Timeout = cfg.Upstream.Timeout
	apiHTTPConfig.CircuitThreshold = cfg.Upstream.CircuitThreshold
	apiHTTPConfig.CircuitTimeout = cfg.Upstream.CircuitResetTimeout
	apiHTTPConfig.UserAgent = version.UserAgent()
	apiHTTPConfig.Logger = observability.WithComponent(logger, "httpclient")
	apiHTTP := httpclient.New(apiHTTPConfig)

	mediaHTTPConfig := apiHTTPConfig
	mediaHTTPConfig.Timeout = 0
	mediaHTTPConfig.EnableDecompression = false
	mediaHTTP := httpclient.New(mediaHTTPConfig)

	source := upstream.NewInnertubeSource(cfg.Upstream.BaseURL, apiHTTP, observability.WithComponent(logger, "innertube"))
	cache := catalog.NewCache(cfg.Cache.CatalogTTL, observability.WithComponent(logger, "cache"))
	client := upstream.NewClient(source, mediaHTTP, cache, catalog.Build, upstream.RetryPolicy{
		Attempts:     cfg.Upstream.RetryAttempts,
		InitialDelay: cfg.Upstream.RetryInitialDelay,
	}, observability.WithComponent(logger, "upstream")).
		WithStreamOpenTimeout(cfg.Upstream.StreamOpenTimeout)

	// Transcoder
	transcoder, err := ffmpeg.NewTranscoder(cfg.FFmpeg, observability.WithComponent(logger, "ffmpeg"))
	if err != nil {
		return fmt.Errorf("initializing transcoder: %w", err)
	}

	// Pipeline and service
	registry := session.NewRegistry()
	pl := pipeline.New(client, transcoder, registry, recorder, observability.WithComponent(logger, "pipeline"))
	mediaService := service.NewMediaService(client, pl, downloadRepo, cfg.Database.HistoryLimit, logger)

	// Periodic cache sweep
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Cache.SweepInterval), func() {
		cache.Sweep()
	}); err != nil {
		return fmt.Errorf("scheduling cache sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP server
	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	// Streaming routes are raw Chi handlers with docs-only API registration.
	// The docs registration must come first: both bind the same method and
	// path on the router, and Chi serves the last registration.
	catalogHandler := handlers.NewCatalogHandler(mediaService, logger)
	catalogHandler.Register(server.API())
	catalogHandler.RegisterChiRoutes(server.Router())

	downloadHandler := handlers.NewDownloadHandler(mediaService, logger)
	downloadHandler.Register(server.API())
	downloadHandler.RegisterChiRoutes(server.Router())

	downloadsHandler := handlers.NewDownloadsHandler(mediaService, logger)
	downloadsHandler.Register(server.API())

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithBreaker("upstream-api", apiHTTP.Breaker()).
		WithBreaker("upstream-media", mediaHTTP.Breaker()).
		WithRegistry(registry).
		WithDB(db)
	healthHandler.Register(server.API())

	versionHandler := handlers.NewVersionHandler()
	versionHandler.Register(server.API())

	server.Router().Handle("/metrics", promhttp.Handler())

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting tubemux server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
		slog.String("upstream", cfg.Upstream.BaseURL),
	)

	err = server.ListenAndServe(ctx)

	// Settle any downloads still in flight so their ffmpeg processes and
	// upstream streams are released before exit.
	registry.TeardownAll("server shutting down")

	return err
}
