package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/analytics"
	"github.com/your-org/storelens/internal/api/handlers"
	"github.com/your-org/storelens/internal/api/ws"
	"github.com/your-org/storelens/internal/auth"
)

type RouterConfig struct {
	APIKey         string
	MaxUploadBytes int64
	Submitter      handlers.ImageSubmitter
	Visits         handlers.VisitReader
	Analytics      *analytics.Service
	Cameras        handlers.CameraController
	Hub            *ws.Hub
	Checks         []handlers.Check
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(cfg.Logger.Named("http")))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
	}))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	keyAuth := auth.APIKeyMiddleware(cfg.APIKey)
	imageH := handlers.NewImageHandler(cfg.Submitter, cfg.MaxUploadBytes, cfg.Logger)

	// Path kept for existing camera clients.
	r.POST("/upload-image/", keyAuth, imageH.UploadBase64)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(keyAuth)

	v1.POST("/images", imageH.Upload)
	v1.POST("/images/base64", imageH.UploadBase64)

	visitH := handlers.NewVisitHandler(cfg.Visits)
	v1.GET("/visits", visitH.List)
	v1.GET("/visits/:id", visitH.Get)

	handlers.NewReportHandler(cfg.Analytics).Register(v1.Group("/reports"))

	camH := handlers.NewCameraHandler(cfg.Cameras)
	v1.POST("/cameras/:id/start", camH.Start)
	v1.POST("/cameras/:id/stop", camH.Stop)

	v1.GET("/ws", cfg.Hub.HandleWS)

	return r
}
