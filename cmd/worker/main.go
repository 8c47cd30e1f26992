package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/analysis"
	"github.com/your-org/storelens/internal/catalog"
	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/observability"
	"github.com/your-org/storelens/internal/pipeline"
	"github.com/your-org/storelens/internal/queue"
	"github.com/your-org/storelens/internal/storage"
	"github.com/your-org/storelens/internal/vision"
)

// Staged uploads older than this were orphaned by a crashed API or worker.
const stagingRetention = time.Hour

func sweepStaging(ctx context.Context, minio *storage.MinIOStore, log *zap.Logger) {
	keys, err := minio.StaleObjects(ctx, storage.StagingPrefix, time.Now().Add(-stagingRetention))
	if err != nil {
		log.Warn("cleanup: list staged objects", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := minio.DeleteObjects(ctx, keys); err != nil {
		log.Warn("cleanup: delete staged objects", zap.Error(err))
		return
	}
	log.Info("cleanup: deleted orphaned staged images", zap.Int("deleted", len(keys)))
}

func newAnalyzer(ctx context.Context, cfg config.AnalysisConfig, log *zap.Logger) (analysis.Analyzer, func(), error) {
	switch cfg.Provider {
	case config.ProviderONNX:
		a, err := vision.NewAnalyzer(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	default:
		a, err := analysis.NewRekognitionAnalyzer(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return a, func() {}, nil
	}
}

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

	log.Info("starting storelens worker",
		zap.Int("workers", cfg.Pipeline.WorkerCount),
		zap.Int("cpu_cores", runtime.NumCPU()),
		zap.String("provider", cfg.Analysis.Provider),
	)

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
		log.Fatal("connect to nats producer", zap.Error(err))
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		log.Warn("ensure nats streams", zap.Error(err))
	}

	analyzer, closeAnalyzer, err := newAnalyzer(ctx, cfg.Analysis, log)
	if err != nil {
		log.Fatal("init analyzer", zap.Error(err))
	}
	defer closeAnalyzer()

	enhancer, err := imaging.NewEnhancer(imaging.OptionsFromConfig(cfg.Enhance))
	if err != nil {
		log.Fatal("init enhancer", zap.Error(err))
	}

	// Category lookups, optionally cached in Redis
	var resolver catalog.CategoryResolver = catalog.NewResolver(db)
	rdb, err := catalog.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	switch {
	case err != nil:
		log.Warn("redis unavailable, category cache disabled", zap.Error(err))
	case rdb != nil:
		defer rdb.Close()
		resolver = catalog.NewCachedResolver(resolver, rdb, cfg.Catalog.CacheTTL, log)
		log.Info("category cache enabled", zap.Duration("ttl", cfg.Catalog.CacheTTL))
	}

	coordinator := pipeline.NewCoordinator(pipeline.Deps{
		Enhancer:  enhancer,
		Uploader:  minioStore,
		Analyzer:  analyzer,
		Resolver:  resolver,
		Sequences: db,
		Visits:    db,
	}, cfg.Pipeline, log)

	tasks := pipeline.NewTaskHandler(coordinator, minioStore, producer, log)

	consumer, err := queue.NewConsumer(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal("create consumer", zap.Error(err))
	}
	defer consumer.Close()

	err = consumer.ConsumeTasks(ctx, "pipeline-workers", func(ctx context.Context, msg jetstream.Msg) error {
		return tasks.Handle(ctx, msg.Data())
	}, cfg.Pipeline.WorkerCount)
	if err != nil {
		log.Fatal("start task consumer", zap.Error(err))
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		log.Info("worker metrics listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	// Periodically report queue depth and sweep orphaned uploads
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		sweep := time.NewTicker(10 * time.Minute)
		defer sweep.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			case <-sweep.C:
				sweepStaging(ctx, minioStore, log)
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancel()
	if !consumer.Drain(cfg.Pipeline.DrainTimeout) {
		log.Warn("shutdown timed out, unfinished tasks will be redelivered")
	}
	log.Info("worker stopped")
}
