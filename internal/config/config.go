package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is loaded from a YAML file; every field can be overridden from the
// environment (SL_ prefix). Secrets are only read from the environment.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Redis    RedisConfig    `yaml:"redis"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Enhance  EnhanceConfig  `yaml:"enhance"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port           int    `yaml:"port" env:"SL_SERVER_PORT" env-default:"8080"`
	APIKey         string `yaml:"-" env:"SL_API_KEY"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" env:"SL_MAX_UPLOAD_BYTES" env-default:"10485760"`
	MetricsAddr    string `yaml:"metrics_addr" env:"SL_METRICS_ADDR" env-default:":8082"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"SL_DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"SL_DB_PORT" env-default:"5432"`
	Name     string `yaml:"name" env:"SL_DB_NAME" env-default:"storelens"`
	User     string `yaml:"user" env:"SL_DB_USER" env-default:"storelens"`
	Password string `yaml:"-" env:"SL_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"SL_DB_SSLMODE" env-default:"disable"`
	MaxConns int    `yaml:"max_conns" env:"SL_DB_MAX_CONNS" env-default:"20"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type NATSConfig struct {
	URL string `yaml:"url" env:"SL_NATS_URL" env-default:"nats://localhost:4222"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"SL_MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKey string `yaml:"-" env:"SL_MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"-" env:"SL_MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"SL_MINIO_BUCKET" env-default:"storelens"`
	UseSSL    bool   `yaml:"use_ssl" env:"SL_MINIO_USE_SSL" env-default:"false"`
	// PublicURL is the base used to build retrievable image URLs. Defaults
	// to the endpoint with the right scheme.
	PublicURL string `yaml:"public_url" env:"SL_MINIO_PUBLIC_URL"`
}

type RedisConfig struct {
	// Addr empty disables the category cache.
	Addr     string `yaml:"addr" env:"SL_REDIS_ADDR"`
	Password string `yaml:"-" env:"SL_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"SL_REDIS_DB" env-default:"0"`
}

const (
	ProviderRekognition = "rekognition"
	ProviderONNX        = "onnx"
)

type AnalysisConfig struct {
	Provider string `yaml:"provider" env:"SL_ANALYSIS_PROVIDER" env-default:"rekognition"`

	// Rekognition
	Region          string `yaml:"region" env:"SL_AWS_REGION" env-default:"us-west-2"`
	AccessKeyID     string `yaml:"-" env:"SL_AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"SL_AWS_SECRET_ACCESS_KEY"`

	// ONNX
	ModelsDir          string  `yaml:"models_dir" env:"SL_MODELS_DIR" env-default:"models"`
	DetectionThreshold float64 `yaml:"detection_threshold" env:"SL_DETECTION_THRESHOLD" env-default:"0.5"`
	ONNXLibraryPath    string  `yaml:"onnx_library_path" env:"SL_ONNX_LIBRARY_PATH"`
}

// EnhanceConfig holds the tunable constants of the enhancement filter chain.
type EnhanceConfig struct {
	TileGrid          int     `yaml:"tile_grid" env:"SL_ENHANCE_TILE_GRID" env-default:"8"`
	ClipLimit         float64 `yaml:"clip_limit" env:"SL_ENHANCE_CLIP_LIMIT" env-default:"2.0"`
	BilateralDiameter int     `yaml:"bilateral_diameter" env:"SL_ENHANCE_BILATERAL_DIAMETER" env-default:"5"`
	SigmaColor        float64 `yaml:"sigma_color" env:"SL_ENHANCE_SIGMA_COLOR" env-default:"50"`
	SigmaSpace        float64 `yaml:"sigma_space" env:"SL_ENHANCE_SIGMA_SPACE" env-default:"50"`
	Contrast          float64 `yaml:"contrast" env:"SL_ENHANCE_CONTRAST" env-default:"1.1"`
	SharpenAmount     float64 `yaml:"sharpen_amount" env:"SL_ENHANCE_SHARPEN_AMOUNT" env-default:"0.5"`
	JPEGQuality       int     `yaml:"jpeg_quality" env:"SL_ENHANCE_JPEG_QUALITY" env-default:"95"`
	// MaxPixels bounds width*height of accepted images, checked from the header.
	MaxPixels         int     `yaml:"max_pixels" env:"SL_ENHANCE_MAX_PIXELS" env-default:"40000000"`
}

type PipelineConfig struct {
	// WorkerCount 0 means one worker per CPU core.
	WorkerCount    int           `yaml:"worker_count" env:"SL_WORKER_COUNT" env-default:"0"`
	MaxAttempts    int           `yaml:"max_attempts" env:"SL_PIPELINE_MAX_ATTEMPTS" env-default:"3"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"SL_PIPELINE_INITIAL_BACKOFF" env-default:"200ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"SL_PIPELINE_MAX_BACKOFF" env-default:"3s"`
	UploadTimeout  time.Duration `yaml:"upload_timeout" env:"SL_PIPELINE_UPLOAD_TIMEOUT" env-default:"15s"`
	AnalyzeTimeout time.Duration `yaml:"analyze_timeout" env:"SL_PIPELINE_ANALYZE_TIMEOUT" env-default:"20s"`
	StoreTimeout   time.Duration `yaml:"store_timeout" env:"SL_PIPELINE_STORE_TIMEOUT" env-default:"5s"`
	SequenceName   string        `yaml:"sequence_name" env:"SL_SEQUENCE_NAME" env-default:"persona_id"`
	// DrainTimeout is how long shutdown waits for in-flight tasks.
	DrainTimeout   time.Duration `yaml:"drain_timeout" env:"SL_PIPELINE_DRAIN_TIMEOUT" env-default:"25s"`
}

type CatalogConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"SL_CATALOG_CACHE_TTL" env-default:"5m"`
}

// CameraConfig describes one in-store camera polled by the ingestor.
type CameraConfig struct {
	ID       int           `yaml:"id"`
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

type IngestConfig struct {
	Cameras     []CameraConfig `yaml:"cameras"`
	FrameWidth  int            `yaml:"frame_width" env:"SL_INGEST_FRAME_WIDTH" env-default:"1280"`
	MetricsAddr string         `yaml:"metrics_addr" env:"SL_INGEST_METRICS_ADDR" env-default:":8081"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"SL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"SL_LOG_FORMAT" env-default:"json"`
}

// Load reads config from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadEnv builds the config from environment variables only.
func LoadEnv() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Pipeline.WorkerCount <= 0 {
		c.Pipeline.WorkerCount = runtime.NumCPU()
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 1
	}
	for i := range c.Ingest.Cameras {
		if c.Ingest.Cameras[i].Interval <= 0 {
			c.Ingest.Cameras[i].Interval = 10 * time.Second
		}
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Analysis.Provider {
	case ProviderRekognition, ProviderONNX:
	default:
		return fmt.Errorf("analysis.provider: unknown provider %q", c.Analysis.Provider)
	}
	if c.Enhance.TileGrid <= 0 {
		return fmt.Errorf("enhance.tile_grid must be positive")
	}
	if c.Enhance.ClipLimit <= 0 {
		return fmt.Errorf("enhance.clip_limit must be positive")
	}
	if c.Enhance.BilateralDiameter <= 0 {
		return fmt.Errorf("enhance.bilateral_diameter must be positive")
	}
	if c.Enhance.JPEGQuality < 1 || c.Enhance.JPEGQuality > 100 {
		return fmt.Errorf("enhance.jpeg_quality must be within 1..100")
	}
	if c.Enhance.MaxPixels <= 0 {
		return fmt.Errorf("enhance.max_pixels must be positive")
	}
	if c.Pipeline.SequenceName == "" {
		return fmt.Errorf("pipeline.sequence_name is required")
	}
	seen := make(map[int]bool, len(c.Ingest.Cameras))
	for _, cam := range c.Ingest.Cameras {
		if cam.URL == "" {
			return fmt.Errorf("ingest.cameras[%d]: url is required", cam.ID)
		}
		if seen[cam.ID] {
			return fmt.Errorf("ingest.cameras: duplicate camera id %d", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}
