package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/your-org/storelens/internal/analysis"
	"github.com/your-org/storelens/internal/catalog"
	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/models"
)

// --- fakes ---

type fakeEnhancer struct {
	err       error
	maxPixels int
}

func (f fakeEnhancer) Decode(data []byte) (*imaging.Raster, error) {
	return imaging.DecodeLimit(data, f.maxPixels)
}

func (f fakeEnhancer) Enhance(*imaging.Raster) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("enhanced-jpeg"), nil
}

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	calls int
	keys  []string
}

func (f *fakeUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return "", errors.New("minio down")
	}
	f.keys = append(f.keys, key)
	return "http://minio/storelens/" + key, nil
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	result *analysis.Result
	err    error
	calls  int
	got    []byte
}

func (f *fakeAnalyzer) Analyze(_ context.Context, img []byte) (*analysis.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = img
	return f.result, f.err
}

type fakeResolver struct {
	category string
	err      error
}

func (f fakeResolver) Resolve(context.Context, int) (string, error) { return f.category, f.err }

type fakeSequences struct {
	mu     sync.Mutex
	next   int64
	failOn map[int64]bool // call numbers that fail
	call   int64
}

func (f *fakeSequences) NextValue(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call++
	if f.failOn[f.call] {
		return 0, errors.New("counter store unavailable")
	}
	f.next++
	return f.next, nil
}

type fakeVisits struct {
	mu      sync.Mutex
	written []models.VisitRecord
	seen    map[[2]any]bool
	err     error

	// lostAcks inserts commit but report a timeout to the caller.
	lostAcks int
}

func (f *fakeVisits) FindVisit(_ context.Context, taskID uuid.UUID, faceIndex int) (*models.VisitRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.written {
		if v.TaskID == taskID && v.FaceIndex == faceIndex {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeVisits) InsertVisit(_ context.Context, v *models.VisitRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[[2]any]bool{}
	}
	k := [2]any{v.TaskID, v.FaceIndex}
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	f.written = append(f.written, *v)
	if f.lostAcks > 0 {
		f.lostAcks--
		return false, context.DeadlineExceeded
	}
	return true, nil
}

// --- helpers ---

type harness struct {
	enhancer  fakeEnhancer
	uploader  *fakeUploader
	analyzer  *fakeAnalyzer
	resolver  fakeResolver
	sequences *fakeSequences
	visits    *fakeVisits
	logs      *observer.ObservedLogs
	coord     *Coordinator
}

func newHarness(t *testing.T, faces ...analysis.Face) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		uploader:  &fakeUploader{},
		analyzer:  &fakeAnalyzer{result: &analysis.Result{Faces: faces}},
		resolver:  fakeResolver{category: "Food"},
		sequences: &fakeSequences{failOn: map[int64]bool{}},
		visits:    &fakeVisits{},
		logs:      logs,
	}
	h.build(zap.New(core))
	return h
}

func (h *harness) build(log *zap.Logger) {
	h.coord = NewCoordinator(Deps{
		Enhancer:  h.enhancer,
		Uploader:  h.uploader,
		Analyzer:  h.analyzer,
		Resolver:  h.resolver,
		Sequences: h.sequences,
		Visits:    h.visits,
	}, config.PipelineConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		UploadTimeout:  time.Second,
		AnalyzeTimeout: time.Second,
		StoreTimeout:   time.Second,
		SequenceName:   "persona_id",
	}, log)
}

func (h *harness) rebuild() {
	h.build(h.coord.log)
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < 8; i++ {
		img.Set(i, i, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func face(gender string, low, high int, emotions ...analysis.Emotion) analysis.Face {
	return analysis.Face{Gender: gender, AgeRange: &models.AgeRange{Low: low, High: high}, Emotions: emotions}
}

func input(t *testing.T) Input {
	return Input{
		Task: models.IngestTask{
			TaskID:     uuid.MustParse("a1b2c3d4-1111-4222-8333-444455556666"),
			CameraID:   3,
			ReceivedAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		},
		Image: pngImage(t),
	}
}

// --- tests ---

func TestProcess_PersistsOneRecordPerFace(t *testing.T) {
	h := newHarness(t,
		face("Female", 20, 28, analysis.Emotion{Type: "HAPPY", Confidence: 90}, analysis.Emotion{Type: "SAD", Confidence: 95}),
		face("Male", 30, 40, analysis.Emotion{Type: "CALM", Confidence: 70}),
	)

	out := h.coord.Process(context.Background(), input(t))
	require.NoError(t, out.Err)
	assert.Equal(t, StagePersisted, out.Stage)
	require.Len(t, out.Records, 2)
	assert.Zero(t, out.Skipped)

	r := out.Records[0]
	assert.Equal(t, int64(1), r.ID)
	assert.Equal(t, models.GenderFemale, r.Gender)
	assert.Equal(t, "SAD", r.PrimaryEmotion)
	assert.Equal(t, "Food", r.ProductCategory)
	assert.Equal(t, 3, r.CameraID)
	assert.Equal(t, models.AgeRange{Low: 20, High: 28}, r.AgeRange)
	assert.Equal(t, "http://minio/storelens/20240506_070809_3_a1b2c3d4.jpeg", r.ImageURL)
	assert.Equal(t, int64(2), out.Records[1].ID)
	assert.Equal(t, 1, out.Records[1].FaceIndex)

	assert.Len(t, h.visits.written, 2)
	assert.Equal(t, []byte("enhanced-jpeg"), h.analyzer.got, "analyzer gets enhanced bytes from memory")
}

func TestProcess_ZeroFacesIsSuccess(t *testing.T) {
	h := newHarness(t)

	out := h.coord.Process(context.Background(), input(t))
	require.NoError(t, out.Err)
	assert.Equal(t, StageAnalyzed, out.Stage)
	assert.Empty(t, out.Records)
	assert.Empty(t, h.visits.written)
	assert.Equal(t, 1, h.logs.FilterMessage("no faces detected").Len())
}

func TestProcess_CategoryMissingDropsWholeImage(t *testing.T) {
	h := newHarness(t,
		face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
		face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
		face("Female", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
	)
	h.resolver = fakeResolver{err: &catalog.NotFoundError{Hop: catalog.HopCamera, Key: "3"}}
	h.rebuild()

	out := h.coord.Process(context.Background(), input(t))
	require.Error(t, out.Err)
	assert.Equal(t, KindDataIntegrity, KindOf(out.Err))
	assert.Empty(t, out.Records)
	assert.Empty(t, h.visits.written)

	entries := h.logs.FilterMessage("category missing, dropping all faces of image").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0].ContextMap()["faces"])
}

func TestProcess_CategoryOutageIsCollaboratorError(t *testing.T) {
	h := newHarness(t, face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}))
	h.resolver = fakeResolver{err: errors.New("connection refused")}
	h.rebuild()

	out := h.coord.Process(context.Background(), input(t))
	assert.Equal(t, KindCollaborator, KindOf(out.Err))
}

func TestProcess_OneFaceFailingIDAllocationIsSkipped(t *testing.T) {
	h := newHarness(t,
		face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
		face("Female", 30, 35, analysis.Emotion{Type: "HAPPY", Confidence: 1}),
		face("Male", 40, 45, analysis.Emotion{Type: "SAD", Confidence: 1}),
	)
	// The second face's three attempts are calls 2, 3 and 4.
	h.sequences.failOn = map[int64]bool{2: true, 3: true, 4: true}

	out := h.coord.Process(context.Background(), input(t))
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Skipped)
	require.Len(t, out.Records, 2)
	assert.Equal(t, 0, out.Records[0].FaceIndex)
	assert.Equal(t, 2, out.Records[1].FaceIndex)
	assert.NotEqual(t, out.Records[0].ID, out.Records[1].ID)

	skipped := h.logs.FilterMessage("face skipped").All()
	require.Len(t, skipped, 1)
	assert.EqualValues(t, 1, skipped[0].ContextMap()["face_index"])
	assert.Equal(t, string(KindDataIntegrity), skipped[0].ContextMap()["kind"])
}

func TestProcess_MalformedFaceIsDefect(t *testing.T) {
	h := newHarness(t,
		face("Unknown", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
		face("Male", 40, 30, analysis.Emotion{Type: "CALM", Confidence: 1}),
		analysis.Face{Gender: "Male", Emotions: []analysis.Emotion{{Type: "CALM", Confidence: 1}}},
		face("Female", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
	)

	out := h.coord.Process(context.Background(), input(t))
	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Skipped)
	require.Len(t, out.Records, 1)
	assert.Equal(t, 3, out.Records[0].FaceIndex)
	for _, e := range h.logs.FilterMessage("face skipped").All() {
		assert.Equal(t, string(KindDefect), e.ContextMap()["kind"])
	}
}

func TestProcess_DecodeFailure(t *testing.T) {
	h := newHarness(t)
	in := input(t)
	in.Image = []byte("not an image")

	out := h.coord.Process(context.Background(), in)
	assert.Equal(t, KindClientInput, KindOf(out.Err))
	assert.Equal(t, StageReceived, out.Stage)
	assert.ErrorIs(t, out.Err, imaging.ErrDecode)
	assert.Zero(t, h.uploader.calls)
}

func TestProcess_OversizedImageRejectedAtDecode(t *testing.T) {
	h := newHarness(t)
	h.enhancer = fakeEnhancer{maxPixels: 32}
	h.rebuild()

	out := h.coord.Process(context.Background(), input(t))
	assert.Equal(t, KindClientInput, KindOf(out.Err))
	assert.ErrorIs(t, out.Err, imaging.ErrDecode)
	assert.Zero(t, h.uploader.calls)
}

func TestProcess_EnhanceFailureIsDefect(t *testing.T) {
	h := newHarness(t)
	h.enhancer = fakeEnhancer{err: errors.New("boom")}
	h.rebuild()

	out := h.coord.Process(context.Background(), input(t))
	assert.Equal(t, KindDefect, KindOf(out.Err))
	assert.Zero(t, h.uploader.calls)
}

func TestProcess_UploadFailureStopsBeforeAnalysis(t *testing.T) {
	h := newHarness(t, face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}))
	h.uploader.fails = 100

	out := h.coord.Process(context.Background(), input(t))
	assert.Equal(t, KindCollaborator, KindOf(out.Err))
	assert.Equal(t, StageEnhanced, out.Stage)
	assert.Equal(t, 3, h.uploader.calls)
	assert.Zero(t, h.analyzer.calls)
}

func TestProcess_UploadRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}))
	h.uploader.fails = 2

	out := h.coord.Process(context.Background(), input(t))
	require.NoError(t, out.Err)
	assert.Equal(t, 3, h.uploader.calls)
	assert.Len(t, out.Records, 1)
}

func TestProcess_UnsupportedImageNotRetried(t *testing.T) {
	h := newHarness(t)
	h.analyzer.err = analysis.ErrUnsupportedImage

	out := h.coord.Process(context.Background(), input(t))
	assert.Equal(t, KindClientInput, KindOf(out.Err))
	assert.Equal(t, 1, h.analyzer.calls)
}

func TestProcess_RedeliveryDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}))
	in := input(t)

	first := h.coord.Process(context.Background(), in)
	require.NoError(t, first.Err)
	second := h.coord.Process(context.Background(), in)
	require.NoError(t, second.Err)

	assert.Len(t, first.Records, 1)
	assert.Empty(t, second.Records)
	assert.Len(t, h.visits.written, 1)
}

func TestProcess_RetriedInsertThatCommittedIsStillReported(t *testing.T) {
	h := newHarness(t, face("Female", 30, 35, analysis.Emotion{Type: "HAPPY", Confidence: 1}))
	h.visits.lostAcks = 1

	out := h.coord.Process(context.Background(), input(t))
	require.NoError(t, out.Err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, h.visits.written[0].ID, out.Records[0].ID)
	assert.Len(t, h.visits.written, 1)
	assert.Empty(t, h.logs.FilterMessage("visit already recorded").All())
}

func TestProcess_ConflictFromEarlierDeliveryIsNotReported(t *testing.T) {
	h := newHarness(t, face("Female", 30, 35, analysis.Emotion{Type: "HAPPY", Confidence: 1}))
	in := input(t)

	require.NoError(t, h.coord.Process(context.Background(), in).Err)
	again := h.coord.Process(context.Background(), in)
	require.NoError(t, again.Err)
	assert.Empty(t, again.Records)
	assert.Len(t, h.logs.FilterMessage("visit already recorded").All(), 1)
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, []byte) (*analysis.Result, error) {
	panic("nil map")
}

func TestProcess_PanicIsRecoveredAsDefect(t *testing.T) {
	h := newHarness(t)
	h.coord.deps.Analyzer = panickingAnalyzer{}

	out := h.coord.Process(context.Background(), input(t))
	var se *StageError
	require.ErrorAs(t, out.Err, &se)
	assert.Equal(t, KindDefect, se.Kind)
	assert.Equal(t, StageAnalyzed, se.Stage)
}

func TestProcess_ConcurrentRunsGetDistinctIDs(t *testing.T) {
	h := newHarness(t,
		face("Male", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
		face("Female", 20, 25, analysis.Emotion{Type: "CALM", Confidence: 1}),
	)

	base := input(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := base
			in.Task.TaskID = uuid.New()
			out := h.coord.Process(context.Background(), in)
			assert.NoError(t, out.Err)
		}()
	}
	wg.Wait()

	ids := map[int64]bool{}
	for _, v := range h.visits.written {
		assert.False(t, ids[v.ID])
		ids[v.ID] = true
	}
	assert.Len(t, ids, 16)
}

func TestUploadKey(t *testing.T) {
	at := time.Date(2024, 12, 31, 23, 59, 58, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "20241231_225958_7_deadbeef.jpeg", UploadKey(at, 7, "deadbeef"))
}
