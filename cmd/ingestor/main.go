package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/ingest"
	"github.com/your-org/storelens/internal/models"
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

	log.Info("starting storelens ingestor", zap.Int("cameras", len(cfg.Ingest.Cameras)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	submitter := ingest.NewSubmitter(minioStore, producer, log).WithMaxPixels(cfg.Enhance.MaxPixels)
	manager := ingest.NewCameraManager(submitter, cfg.Ingest.Cameras, cfg.Ingest.FrameWidth, log)

	// Camera start/stop over core NATS
	consumer, err := queue.NewConsumer(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("create consumer", zap.Error(err))
	}
	defer consumer.Close()

	_, err = consumer.SubscribeControl(func(cmd models.CameraCommand) {
		log.Info("received command", zap.String("action", cmd.Action), zap.Int("camera_id", cmd.CameraID))
		if err := manager.HandleCommand(ctx, cmd); err != nil {
			log.Error("handle command", zap.Error(err), zap.String("action", cmd.Action), zap.Int("camera_id", cmd.CameraID))
		}
	})
	if err != nil {
		log.Fatal("subscribe to control", zap.Error(err))
	}

	if err := manager.StartAll(ctx); err != nil {
		log.Error("start cameras", zap.Error(err))
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, `{"status":"ok","active_cameras":%d}`, manager.ActiveCount())
		})
		log.Info("ingestor metrics listening", zap.String("addr", cfg.Ingest.MetricsAddr))
		if err := http.ListenAndServe(cfg.Ingest.MetricsAddr, mux); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down ingestor")
	cancel()
	manager.StopAll()
	log.Info("ingestor stopped")
}
