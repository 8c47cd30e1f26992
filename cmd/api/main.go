package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/analytics"
	"github.com/your-org/storelens/internal/api"
	"github.com/your-org/storelens/internal/api/handlers"
	"github.com/your-org/storelens/internal/api/ws"
	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/ingest"
	"github.com/your-org/storelens/internal/observability"
	"github.com/your-org/storelens/internal/queue"
	"github.com/your-org/storelens/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting storelens API", zap.Int("port", cfg.Server.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		log.Fatal("connect to minio", zap.Error(err))
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		log.Warn("ensure minio bucket", zap.Error(err))
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("connect to nats", zap.Error(err))
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		log.Warn("ensure nats streams", zap.Error(err))
	}

	// WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run(ctx.Done())

	// Forward persisted visits to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("create visit consumer", zap.Error(err))
	}
	defer consumer.Close()

	err = consumer.ConsumeVisits(ctx, "api-visits", func(ctx context.Context, msg jetstream.Msg) error {
		v, err := queue.DecodeVisit(msg.Data())
		if err != nil {
			log.Warn("drop malformed visit event", zap.Error(err))
			return nil
		}
		hub.BroadcastVisit(v)
		return nil
	})
	if err != nil {
		log.Warn("start visit consumer", zap.Error(err))
	}

	submitter := ingest.NewSubmitter(minioStore, producer, log).WithMaxPixels(cfg.Enhance.MaxPixels)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Submitter:      submitter,
		Visits:         db,
		Analytics:      analytics.NewService(db, log),
		Cameras:        producer,
		Hub:            hub,
		Checks: []handlers.Check{
			{Name: "postgres", Ping: db.Ping},
			{Name: "minio", Ping: minioStore.Ping},
			{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }},
		},
		Logger: log,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("API server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down API server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("API server stopped")
}
