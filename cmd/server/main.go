package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/maneesh/songdrop/internal/auth"
	"github.com/maneesh/songdrop/internal/config"
	"github.com/maneesh/songdrop/internal/handlers"
	"github.com/maneesh/songdrop/internal/logging"
	"github.com/maneesh/songdrop/internal/slug"
	"github.com/maneesh/songdrop/internal/storage"
	"github.com/maneesh/songdrop/internal/tracing"
	"github.com/maneesh/songdrop/internal/upload"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// No logger yet
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting songdrop service",
		zap.String("service", cfg.ServiceName),
		zap.String("port", cfg.ServicePort),
	)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(logger, cfg.ServiceName, cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	logger.Info("Connecting to MinIO...")
	minioClient, err := storage.NewMinioClient(
		logger,
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOUseSSL,
		cfg.MinIOSongsBucket,
		cfg.MinIOImagesBucket,
	)
	if err != nil {
		logger.Fatal("Failed to initialize MinIO client", zap.Error(err))
	}

	logger.Info("Connecting to TiDB...")
	tidbClient, err := storage.NewTiDBClient(cfg.GetDSN())
	if err != nil {
		logger.Fatal("Failed to initialize TiDB client", zap.Error(err))
	}
	defer tidbClient.Close()
	if err := tidbClient.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to prepare schema", zap.Error(err))
	}

	logger.Info("Connecting to Redis...")
	redisClient, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.GetLibraryCacheTTL())
	if err != nil {
		logger.Fatal("Failed to initialize Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	orchestrator := upload.NewOrchestrator(
		minioClient,
		tidbClient,
		redisClient,
		upload.NewLogNotifier(logger.Named("notify")),
		slug.NewGenerator(nil, nil),
		logger.Named("upload"),
		upload.Options{
			SongsBucket:  cfg.MinIOSongsBucket,
			ImagesBucket: cfg.MinIOImagesBucket,
			CacheControl: cfg.CacheControl,
		},
	)

	uploadHandler := handlers.NewUploadHandler(orchestrator, cfg.GetMaxUploadBytes(), logger.Named("http"))
	libraryHandler := handlers.NewLibraryHandler(
		tidbClient,
		redisClient,
		minioClient,
		handlers.Buckets{Songs: cfg.MinIOSongsBucket, Images: cfg.MinIOImagesBucket},
		cfg.GetURLExpiry(),
		logger.Named("http"),
	)
	verifier := auth.NewVerifier(cfg.AuthSecret)

	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", handlers.Health).Methods("GET")

	secured := func(h http.Handler, operation string) http.Handler {
		return otelhttp.NewHandler(verifier.Middleware(h), operation)
	}
	router.Handle("/songs", secured(uploadHandler, "POST /songs")).Methods("POST")
	router.Handle("/songs", secured(http.HandlerFunc(libraryHandler.List), "GET /songs")).Methods("GET")
	router.Handle("/songs/{song_id}", secured(http.HandlerFunc(libraryHandler.Get), "GET /songs/{song_id}")).Methods("GET")

	// CORS wraps the router so preflight requests never reach method matching
	withCORS := cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      withCORS(router),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("port", cfg.ServicePort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
