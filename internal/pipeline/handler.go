package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/internal/queue"
)

// Staging is where the API parks raw uploads for the worker.
type Staging interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

type VisitPublisher interface {
	PublishVisit(ctx context.Context, v models.VisitRecord) error
}

type Processor interface {
	Process(ctx context.Context, in Input) Outcome
}

// TaskHandler turns queued ingest tasks into pipeline runs.
type TaskHandler struct {
	proc    Processor
	staging Staging
	visits  VisitPublisher
	log     *zap.Logger
}

func NewTaskHandler(proc Processor, staging Staging, visits VisitPublisher, log *zap.Logger) *TaskHandler {
	return &TaskHandler{proc: proc, staging: staging, visits: visits, log: log.Named("tasks")}
}

// Handle processes one queued task. It returns an error only when the
// message should be redelivered: the staged image could not be fetched,
// or the run was cut short by ctx. The staged image is kept in both cases.
// Other pipeline failures are terminal and already logged by the coordinator.
func (h *TaskHandler) Handle(ctx context.Context, data []byte) error {
	task, err := queue.DecodeTask(data)
	if err != nil {
		h.log.Error("drop malformed ingest task", zap.ByteString("payload", data), zap.Error(err))
		return nil
	}
	log := h.log.With(zap.String("task_id", task.TaskID.String()), zap.Int("camera_id", task.CameraID))

	image, err := h.staging.GetObject(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("fetch staged image %s: %w", task.ObjectKey, err)
	}

	out := h.proc.Process(ctx, Input{Task: task, Image: image})
	if err := ctx.Err(); err != nil || errors.Is(out.Err, context.Canceled) {
		if err == nil {
			err = context.Canceled
		}
		log.Warn("run interrupted, leaving task for redelivery",
			zap.Int("recorded", len(out.Records)), zap.Error(out.Err))
		return fmt.Errorf("task %s interrupted: %w", task.TaskID, err)
	}

	for _, v := range out.Records {
		if err := h.visits.PublishVisit(ctx, v); err != nil {
			log.Warn("publish visit event", zap.Int64("visit_id", v.ID), zap.Error(err))
		}
	}

	if err := h.staging.DeleteObject(context.WithoutCancel(ctx), task.ObjectKey); err != nil {
		log.Warn("remove staged image", zap.String("key", task.ObjectKey), zap.Error(err))
	}
	return nil
}
