package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/storelens/internal/analysis"
	"github.com/your-org/storelens/internal/models"
)

type fakeStaging struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	deleted []string
}

func (f *fakeStaging) GetObject(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.objects[key], nil
}

func (f *fakeStaging) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeVisitPublisher struct {
	published []models.VisitRecord
	err       error
}

func (f *fakeVisitPublisher) PublishVisit(_ context.Context, v models.VisitRecord) error {
	f.published = append(f.published, v)
	return f.err
}

type stubProcessor struct {
	got    Input
	out    Outcome
	during func()
}

func (s *stubProcessor) Process(_ context.Context, in Input) Outcome {
	s.got = in
	if s.during != nil {
		s.during()
	}
	return s.out
}

func taskPayload(t *testing.T, key string) []byte {
	t.Helper()
	data, err := json.Marshal(models.IngestTask{TaskID: uuid.New(), CameraID: 5, ObjectKey: key})
	require.NoError(t, err)
	return data
}

func TestTaskHandlerSuccess(t *testing.T) {
	staging := &fakeStaging{objects: map[string][]byte{"incoming/a": []byte("img")}}
	pub := &fakeVisitPublisher{}
	proc := &stubProcessor{out: Outcome{Stage: StagePersisted, Records: []models.VisitRecord{{ID: 1}, {ID: 2}}}}
	h := NewTaskHandler(proc, staging, pub, zaptest.NewLogger(t))

	require.NoError(t, h.Handle(context.Background(), taskPayload(t, "incoming/a")))
	assert.Equal(t, []byte("img"), proc.got.Image)
	assert.Equal(t, 5, proc.got.Task.CameraID)
	assert.Len(t, pub.published, 2)
	assert.Equal(t, []string{"incoming/a"}, staging.deleted)
}

func TestTaskHandlerTerminalFailureIsAcked(t *testing.T) {
	staging := &fakeStaging{objects: map[string][]byte{"incoming/b": []byte("img")}}
	proc := &stubProcessor{out: Outcome{Stage: StageDecoded, Err: &StageError{Stage: StageUploaded, Kind: KindCollaborator, Err: errors.New("down")}}}
	h := NewTaskHandler(proc, staging, &fakeVisitPublisher{}, zaptest.NewLogger(t))

	assert.NoError(t, h.Handle(context.Background(), taskPayload(t, "incoming/b")))
	assert.Equal(t, []string{"incoming/b"}, staging.deleted)
}

func TestTaskHandlerFetchFailureRedelivers(t *testing.T) {
	staging := &fakeStaging{getErr: errors.New("minio unreachable")}
	proc := &stubProcessor{}
	h := NewTaskHandler(proc, staging, &fakeVisitPublisher{}, zaptest.NewLogger(t))

	err := h.Handle(context.Background(), taskPayload(t, "incoming/c"))
	assert.Error(t, err)
	assert.Empty(t, staging.deleted)
}

func TestTaskHandlerMalformedDropped(t *testing.T) {
	proc := &stubProcessor{}
	h := NewTaskHandler(proc, &fakeStaging{}, &fakeVisitPublisher{}, zaptest.NewLogger(t))
	assert.NoError(t, h.Handle(context.Background(), []byte("{")))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"camera_id":1}`)))
	assert.Nil(t, proc.got.Image)
}

func TestTaskHandlerPublishFailureIsNotFatal(t *testing.T) {
	staging := &fakeStaging{objects: map[string][]byte{"incoming/d": []byte("img")}}
	pub := &fakeVisitPublisher{err: errors.New("no responders")}
	proc := &stubProcessor{out: Outcome{Stage: StagePersisted, Records: []models.VisitRecord{{ID: 9}}}}
	h := NewTaskHandler(proc, staging, pub, zaptest.NewLogger(t))

	assert.NoError(t, h.Handle(context.Background(), taskPayload(t, "incoming/d")))
	assert.Len(t, staging.deleted, 1)
}

func TestTaskHandlerCancelledRunRedelivers(t *testing.T) {
	staging := &fakeStaging{objects: map[string][]byte{"incoming/e": []byte("img")}}
	pub := &fakeVisitPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &stubProcessor{
		out: Outcome{Stage: StageEnhanced, Err: &StageError{Stage: StageUploaded, Kind: KindCollaborator,
			Err: fmt.Errorf("upload: %w", context.Canceled)}},
		during: cancel,
	}
	h := NewTaskHandler(proc, staging, pub, zaptest.NewLogger(t))

	err := h.Handle(ctx, taskPayload(t, "incoming/e"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, staging.deleted)
	assert.Empty(t, pub.published)
}

func TestTaskHandlerCancelledOutcomeRedelivers(t *testing.T) {
	staging := &fakeStaging{objects: map[string][]byte{"incoming/f": []byte("img")}}
	proc := &stubProcessor{out: Outcome{Stage: StageAnalyzed, Err: &StageError{Stage: StagePersisted,
		Kind: KindDataIntegrity, Err: fmt.Errorf("allocate id: %w", context.Canceled)}}}
	h := NewTaskHandler(proc, staging, &fakeVisitPublisher{}, zaptest.NewLogger(t))

	assert.Error(t, h.Handle(context.Background(), taskPayload(t, "incoming/f")))
	assert.Empty(t, staging.deleted)
}

// cancellingUploader cancels the surrounding run while an upload is in flight.
type cancellingUploader struct{ cancel context.CancelFunc }

func (u cancellingUploader) Upload(ctx context.Context, _ string, _ []byte, _ string) (string, error) {
	u.cancel()
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTaskHandlerShutdownDuringUploadKeepsImage(t *testing.T) {
	ch := newHarness(t, face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.coord.deps.Uploader = cancellingUploader{cancel: cancel}

	staging := &fakeStaging{objects: map[string][]byte{"incoming/a": pngImage(t)}}
	pub := &fakeVisitPublisher{}
	h := NewTaskHandler(ch.coord, staging, pub, zaptest.NewLogger(t))

	err := h.Handle(ctx, taskPayload(t, "incoming/a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, staging.deleted)
	assert.Empty(t, ch.visits.written)
	assert.Empty(t, pub.published)
}
