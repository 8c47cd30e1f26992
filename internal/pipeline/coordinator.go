// Package pipeline runs one submitted image through decode, enhancement,
// upload, face analysis, category resolution and per-face persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/analysis"
	"github.com/your-org/storelens/internal/catalog"
	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/internal/observability"
)

// Enhancer decodes under the configured pixel cap and runs the
// enhancement chain.
type Enhancer interface {
	Decode(data []byte) (*imaging.Raster, error)
	Enhance(r *imaging.Raster) ([]byte, error)
}

type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type SequenceAllocator interface {
	NextValue(ctx context.Context, name string) (int64, error)
}

type VisitWriter interface {
	// InsertVisit returns false when the (task, face) pair already exists.
	InsertVisit(ctx context.Context, v *models.VisitRecord) (bool, error)
	// FindVisit returns the stored record for a (task, face) pair, or nil.
	FindVisit(ctx context.Context, taskID uuid.UUID, faceIndex int) (*models.VisitRecord, error)
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Enhancer  Enhancer
	Uploader  Uploader
	Analyzer  analysis.Analyzer
	Resolver  catalog.CategoryResolver
	Sequences SequenceAllocator
	Visits    VisitWriter
}

// Input is one image to process.
type Input struct {
	Task  models.IngestTask
	Image []byte
}

// Outcome summarizes a run. Err is a *StageError when the run stopped
// early; skipped faces do not make a run fail.
type Outcome struct {
	Stage   Stage
	Records []models.VisitRecord
	Skipped int
	Err     error
}

// Coordinator is safe for concurrent use; runs share nothing but the
// collaborators.
type Coordinator struct {
	deps Deps
	cfg  config.PipelineConfig
	log  *zap.Logger
	now  func() time.Time
}

func NewCoordinator(deps Deps, cfg config.PipelineConfig, log *zap.Logger) *Coordinator {
	return &Coordinator{deps: deps, cfg: cfg, log: log.Named("pipeline"), now: time.Now}
}

func (c *Coordinator) policy(timeout time.Duration, permanent func(error) bool) callPolicy {
	return callPolicy{
		attempts:  c.cfg.MaxAttempts,
		initial:   c.cfg.InitialBackoff,
		max:       c.cfg.MaxBackoff,
		timeout:   timeout,
		permanent: permanent,
	}
}

// Process runs the pipeline for one image. Stages run strictly in order.
func (c *Coordinator) Process(ctx context.Context, in Input) (out Outcome) {
	task := in.Task
	log := c.log.With(
		zap.String("task_id", task.TaskID.String()),
		zap.Int("camera_id", task.CameraID),
	)
	start := c.now()
	out.Stage = StageReceived
	attempting := StageDecoded

	fail := func(stage Stage, kind Kind, err error) Outcome {
		out.Err = &StageError{Stage: stage, Kind: kind, Err: err}
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", zap.Any("panic", r), zap.Stack("stack"))
			out.Err = &StageError{Stage: attempting, Kind: KindDefect, Err: fmt.Errorf("panic: %v", r)}
		}
		c.report(log, out, start)
	}()

	// Decode
	raster, err := c.deps.Enhancer.Decode(in.Image)
	if err != nil {
		return fail(StageDecoded, KindClientInput, err)
	}
	out.Stage = StageDecoded

	// Enhance
	attempting = StageEnhanced
	t := time.Now()
	enhanced, err := c.deps.Enhancer.Enhance(raster)
	if err != nil {
		return fail(StageEnhanced, KindDefect, err)
	}
	observability.StageDuration.WithLabelValues(string(StageEnhanced)).Observe(time.Since(t).Seconds())
	out.Stage = StageEnhanced

	// Upload
	attempting = StageUploaded
	capturedAt := task.ReceivedAt
	if capturedAt.IsZero() {
		capturedAt = start
	}
	capturedAt = capturedAt.UTC()
	key := UploadKey(capturedAt, task.CameraID, task.Suffix())

	var imageURL string
	t = time.Now()
	err = call(ctx, StageUploaded, c.policy(c.cfg.UploadTimeout, nil), func(ctx context.Context) error {
		var err error
		imageURL, err = c.deps.Uploader.Upload(ctx, key, enhanced, "image/jpeg")
		return err
	})
	if err != nil {
		return fail(StageUploaded, KindCollaborator, fmt.Errorf("upload %s: %w", key, err))
	}
	observability.StageDuration.WithLabelValues(string(StageUploaded)).Observe(time.Since(t).Seconds())
	out.Stage = StageUploaded

	// Analyze
	attempting = StageAnalyzed
	unsupported := func(err error) bool { return errors.Is(err, analysis.ErrUnsupportedImage) }
	var result *analysis.Result
	t = time.Now()
	err = call(ctx, StageAnalyzed, c.policy(c.cfg.AnalyzeTimeout, unsupported), func(ctx context.Context) error {
		var err error
		result, err = c.deps.Analyzer.Analyze(ctx, enhanced)
		return err
	})
	if err != nil {
		if unsupported(err) {
			return fail(StageAnalyzed, KindClientInput, err)
		}
		return fail(StageAnalyzed, KindCollaborator, fmt.Errorf("analyze: %w", err))
	}
	if result == nil {
		return fail(StageAnalyzed, KindDefect, errors.New("analyzer returned no result"))
	}
	observability.StageDuration.WithLabelValues(string(StageAnalyzed)).Observe(time.Since(t).Seconds())
	out.Stage = StageAnalyzed

	faces := result.Faces
	observability.FacesDetected.WithLabelValues(strconv.Itoa(task.CameraID)).Add(float64(len(faces)))
	if len(faces) == 0 {
		log.Info("no faces detected", zap.String("image_url", imageURL))
		return out
	}

	// Resolve category once for the whole image.
	attempting = StageCategoryResolved
	missing := func(err error) bool { return errors.Is(err, catalog.ErrNotFound) }
	var category string
	err = call(ctx, StageCategoryResolved, c.policy(c.cfg.StoreTimeout, missing), func(ctx context.Context) error {
		var err error
		category, err = c.deps.Resolver.Resolve(ctx, task.CameraID)
		return err
	})
	if err != nil {
		if missing(err) {
			observability.FacesDropped.WithLabelValues("category_missing").Add(float64(len(faces)))
			log.Error("category missing, dropping all faces of image",
				zap.Int("faces", len(faces)),
				zap.String("kind", string(KindDataIntegrity)),
				zap.Error(err))
			return fail(StageCategoryResolved, KindDataIntegrity, err)
		}
		return fail(StageCategoryResolved, KindCollaborator, fmt.Errorf("resolve category: %w", err))
	}
	out.Stage = StageCategoryResolved

	// Persist each face on its own.
	attempting = StagePersisted
	for i, face := range faces {
		rec, err := c.persistFace(ctx, task, i, face, capturedAt, category, imageURL)
		if err != nil {
			out.Skipped++
			observability.FacesDropped.WithLabelValues(string(KindOf(err))).Inc()
			log.Error("face skipped",
				zap.Int("face_index", i),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err))
			continue
		}
		if rec == nil {
			log.Info("visit already recorded", zap.Int("face_index", i))
			continue
		}
		out.Records = append(out.Records, *rec)
	}
	observability.VisitsRecorded.WithLabelValues(strconv.Itoa(task.CameraID)).Add(float64(len(out.Records)))
	out.Stage = StagePersisted
	return out
}

// persistFace validates, numbers and writes one face. A nil record with a
// nil error means the face was already written by an earlier delivery.
// A conflict caused by a retried insert whose first attempt committed
// returns the stored record, recognized by this run's id.
func (c *Coordinator) persistFace(ctx context.Context, task models.IngestTask, idx int, face analysis.Face,
	capturedAt time.Time, category, imageURL string) (*models.VisitRecord, error) {

	gender, err := models.ParseGender(face.Gender)
	if err != nil {
		return nil, &StageError{Stage: StagePersisted, Kind: KindDefect, Err: err}
	}
	if face.AgeRange == nil {
		return nil, &StageError{Stage: StagePersisted, Kind: KindDefect, Err: errors.New("face has no age range")}
	}
	if !face.AgeRange.Valid() {
		return nil, &StageError{Stage: StagePersisted, Kind: KindDefect,
			Err: fmt.Errorf("invalid age range %s", face.AgeRange)}
	}
	emotion, ok := analysis.PrimaryEmotion(face.Emotions)
	if !ok {
		return nil, &StageError{Stage: StagePersisted, Kind: KindDefect, Err: errors.New("face has no emotions")}
	}

	pol := c.policy(c.cfg.StoreTimeout, nil)

	var id int64
	err = call(ctx, StagePersisted, pol, func(ctx context.Context) error {
		var err error
		id, err = c.deps.Sequences.NextValue(ctx, c.cfg.SequenceName)
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StagePersisted, Kind: KindDataIntegrity, Err: fmt.Errorf("allocate id: %w", err)}
	}

	rec := &models.VisitRecord{
		ID:              id,
		TaskID:          task.TaskID,
		FaceIndex:       idx,
		CapturedAt:      capturedAt,
		CameraID:        task.CameraID,
		ProductCategory: category,
		Gender:          gender,
		AgeRange:        *face.AgeRange,
		PrimaryEmotion:  emotion,
		ImageURL:        imageURL,
	}

	var inserted bool
	err = call(ctx, StagePersisted, pol, func(ctx context.Context) error {
		var err error
		inserted, err = c.deps.Visits.InsertVisit(ctx, rec)
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StagePersisted, Kind: KindDataIntegrity, Err: fmt.Errorf("write visit %d: %w", id, err)}
	}
	if inserted {
		return rec, nil
	}

	var stored *models.VisitRecord
	err = call(ctx, StagePersisted, pol, func(ctx context.Context) error {
		var err error
		stored, err = c.deps.Visits.FindVisit(ctx, task.TaskID, idx)
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StagePersisted, Kind: KindDataIntegrity, Err: fmt.Errorf("read back visit %d: %w", id, err)}
	}
	if stored != nil && stored.ID == id {
		return stored, nil
	}
	return nil, nil
}

func (c *Coordinator) report(log *zap.Logger, out Outcome, start time.Time) {
	observability.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	var se *StageError
	if errors.As(out.Err, &se) {
		observability.PipelineOutcomes.WithLabelValues(string(se.Stage), string(se.Kind)).Inc()
		log.Warn("pipeline failed",
			zap.String("stage", string(se.Stage)),
			zap.String("kind", string(se.Kind)),
			zap.Error(se.Err))
		return
	}
	observability.PipelineOutcomes.WithLabelValues(string(out.Stage), "ok").Inc()
	log.Info("pipeline finished",
		zap.String("stage", string(out.Stage)),
		zap.Int("records", len(out.Records)),
		zap.Int("skipped", out.Skipped))
}
