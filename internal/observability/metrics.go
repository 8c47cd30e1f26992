package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImagesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelens",
		Name:      "images_submitted_total",
		Help:      "Total number of images accepted for processing",
	}, []string{"source"})

	ImagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelens",
		Name:      "images_rejected_total",
		Help:      "Total number of images rejected at intake",
	}, []string{"reason"})

	PipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelens",
		Name:      "pipeline_outcomes_total",
		Help:      "Pipeline runs by final stage and error kind",
	}, []string{"stage", "kind"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storelens",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelens",
		Name:      "stage_retries_total",
		Help:      "Retried collaborator calls per stage",
	}, []string{"stage"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelens",
		Name:      "faces_detected_total",
		Help:      "Total number of faces returned by the analyzer",
	}, []string{"camera_id"})

	VisitsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelens",
		Name:      "visits_recorded_total",
		Help:      "Total number of visit records persisted",
	}, []string{"camera_id"})

	FacesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelens",
		Name:      "faces_dropped_total",
		Help:      "Faces that did not produce a visit record",
	}, []string{"reason"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storelens",
		Name:      "queue_depth",
		Help:      "Number of pending ingest tasks in queue",
	})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storelens",
		Name:      "active_cameras",
		Help:      "Number of cameras currently polled by the ingestor",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storelens",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storelens",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
