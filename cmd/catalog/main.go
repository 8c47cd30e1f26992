// Command catalog applies schema migrations and imports the static
// camera/product reference data.
//
//	catalog migrate
//	catalog import -file configs/catalog.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/catalog"
	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/observability"
	"github.com/your-org/storelens/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: catalog [-config path] <migrate|import> [-file seed.yaml]\n")
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

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

	switch flag.Arg(0) {
	case "migrate":
		if err := storage.RunMigrations(cfg.Database.DSN(), log); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		file := fs.String("file", "configs/catalog.yaml", "catalog seed file")
		_ = fs.Parse(flag.Args()[1:])
		if err := runImport(cfg, *file, log); err != nil {
			log.Fatal("import catalog", zap.Error(err))
		}
	default:
		usage()
	}
}

func runImport(cfg *config.Config, file string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	seed, err := catalog.LoadSeed(file)
	if err != nil {
		return err
	}
	for _, m := range seed.Dangling() {
		log.Warn("camera maps to unknown product type",
			zap.Int("camera_id", m.CameraID), zap.String("product_type", m.ProductType))
	}

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := catalog.Import(ctx, db, seed); err != nil {
		return err
	}
	log.Info("catalog imported",
		zap.Int("product_types", len(seed.ProductTypes)),
		zap.Int("cameras", len(seed.Cameras)))

	// Drop cached categories so workers pick up the new mapping.
	rdb, err := catalog.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("redis unavailable, cached categories expire on their own", zap.Error(err))
		return nil
	}
	if rdb == nil {
		return nil
	}
	defer rdb.Close()
	return catalog.NewCachedResolver(nil, rdb, 0, log).Invalidate(ctx)
}
