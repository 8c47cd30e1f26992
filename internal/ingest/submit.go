package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/internal/observability"
	"github.com/your-org/storelens/internal/storage"
)

const (
	SourceAPI    = "api"
	SourceCamera = "camera"
)

var (
	ErrInvalidCamera = errors.New("camera id must be positive")
	ErrEmptyImage    = errors.New("image is empty")
	ErrUnavailable   = errors.New("ingest unavailable")
)

// Stager holds raw uploads until a worker picks them up.
type Stager interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

type TaskPublisher interface {
	PublishTask(ctx context.Context, task models.IngestTask) error
}

// Submitter validates an image, stages it and enqueues an ingest task.
type Submitter struct {
	stager    Stager
	publisher TaskPublisher
	maxPixels int
	log       *zap.Logger
	now       func() time.Time
}

func NewSubmitter(stager Stager, publisher TaskPublisher, log *zap.Logger) *Submitter {
	return &Submitter{
		stager:    stager,
		publisher: publisher,
		maxPixels: imaging.DefaultMaxPixels,
		log:       log.Named("submit"),
		now:       time.Now,
	}
}

// WithMaxPixels sets the decoded size above which images are rejected.
func (s *Submitter) WithMaxPixels(n int) *Submitter {
	if n > 0 {
		s.maxPixels = n
	}
	return s
}

// Submit returns the id of the accepted task. Validation failures wrap
// ErrInvalidCamera, ErrEmptyImage or imaging.ErrDecode; infrastructure
// failures wrap ErrUnavailable.
func (s *Submitter) Submit(ctx context.Context, cameraID int, image []byte, source string) (uuid.UUID, error) {
	if cameraID <= 0 {
		observability.ImagesRejected.WithLabelValues("camera").Inc()
		return uuid.Nil, ErrInvalidCamera
	}
	if len(image) == 0 {
		observability.ImagesRejected.WithLabelValues("empty").Inc()
		return uuid.Nil, ErrEmptyImage
	}
	if _, err := imaging.DecodeLimit(image, s.maxPixels); err != nil {
		observability.ImagesRejected.WithLabelValues("decode").Inc()
		return uuid.Nil, err
	}

	task := models.IngestTask{
		TaskID:     uuid.New(),
		CameraID:   cameraID,
		Source:     source,
		ReceivedAt: s.now().UTC(),
	}
	task.ObjectKey = storage.StagingPrefix + task.TaskID.String()

	if err := s.stager.PutObject(ctx, task.ObjectKey, image, http.DetectContentType(image)); err != nil {
		observability.ImagesRejected.WithLabelValues("staging").Inc()
		return uuid.Nil, fmt.Errorf("%w: stage image: %w", ErrUnavailable, err)
	}

	if err := s.publisher.PublishTask(ctx, task); err != nil {
		if derr := s.stager.DeleteObject(context.WithoutCancel(ctx), task.ObjectKey); derr != nil {
			s.log.Warn("remove orphaned staging object", zap.String("key", task.ObjectKey), zap.Error(derr))
		}
		observability.ImagesRejected.WithLabelValues("queue").Inc()
		return uuid.Nil, fmt.Errorf("%w: enqueue task: %w", ErrUnavailable, err)
	}

	observability.ImagesSubmitted.WithLabelValues(source).Inc()
	s.log.Debug("image accepted",
		zap.String("task_id", task.TaskID.String()),
		zap.Int("camera_id", cameraID),
		zap.String("source", source),
		zap.Int("bytes", len(image)),
	)
	return task.TaskID, nil
}
