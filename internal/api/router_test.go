package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/storelens/internal/analytics"
	"github.com/your-org/storelens/internal/api/handlers"
	"github.com/your-org/storelens/internal/api/ws"
	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/ingest"
	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/internal/storage"
	"github.com/your-org/storelens/pkg/dto"
)

const testKey = "k3y"

type fakeSubmitter struct {
	mu    sync.Mutex
	err   error
	calls []int
	last  []byte
}

func (f *fakeSubmitter) Submit(_ context.Context, cameraID int, image []byte, source string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cameraID)
	f.last = image
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.MustParse("3f2a9c1e-0000-4000-8000-000000000001"), nil
}

type fakeVisits struct {
	visits []models.VisitRecord
	filter models.VisitFilter
}

func (f *fakeVisits) GetVisit(_ context.Context, id int64) (*models.VisitRecord, error) {
	for _, v := range f.visits {
		if v.ID == id {
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeVisits) ListVisits(_ context.Context, filter models.VisitFilter) ([]models.VisitRecord, int, error) {
	f.filter = filter
	return f.visits, len(f.visits), nil
}

type fakeAggregates struct {
	rows []storage.GroupCount
	err  error
	got  storage.Range
}

func (f *fakeAggregates) CountVisits(_ context.Context, r storage.Range, _ ...storage.Dimension) ([]storage.GroupCount, error) {
	f.got = r
	return f.rows, f.err
}

type fakeControl struct {
	cmds []models.CameraCommand
	err  error
}

func (f *fakeControl) PublishControl(cmd models.CameraCommand) error {
	f.cmds = append(f.cmds, cmd)
	return f.err
}

type harness struct {
	engine *gin.Engine
	sub    *fakeSubmitter
	visits *fakeVisits
	aggs   *fakeAggregates
	ctl    *fakeControl
}

func newHarness(t *testing.T, checks ...handlers.Check) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)
	h := &harness{
		sub: &fakeSubmitter{},
		visits: &fakeVisits{visits: []models.VisitRecord{{
			ID: 7, CameraID: 2, FaceIndex: 0,
			CapturedAt:      time.Date(2024, 3, 4, 10, 11, 12, 0, time.UTC),
			ProductCategory: "Toys", Gender: models.GenderFemale,
			AgeRange: models.AgeRange{Low: 20, High: 26}, PrimaryEmotion: "HAPPY",
		}}},
		aggs: &fakeAggregates{},
		ctl:  &fakeControl{},
	}
	h.engine = NewRouter(RouterConfig{
		APIKey:         testKey,
		MaxUploadBytes: 1 << 20,
		Submitter:      h.sub,
		Visits:         h.visits,
		Analytics:      analytics.NewService(h.aggs, log),
		Cameras:        h.ctl,
		Hub:            ws.NewHub(log),
		Checks:         checks,
		Logger:         log,
	})
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	if req.Header.Get("X-API-Key") == "" {
		req.Header.Set("X-API-Key", testKey)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, cameraID string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("camera_id", cameraID))
	if image != nil {
		fw, err := mw.CreateFormFile("image", "frame.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadMultipart(t *testing.T) {
	h := newHarness(t)
	w := h.do(multipartRequest(t, "3", []byte("jpeg-bytes")))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp dto.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "3f2a9c1e-0000-4000-8000-000000000001", resp.TaskID.String())
	assert.Equal(t, []int{3}, h.sub.calls)
	assert.Equal(t, []byte("jpeg-bytes"), h.sub.last)
}

func TestUploadMultipartValidation(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusBadRequest, h.do(multipartRequest(t, "abc", []byte("x"))).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(multipartRequest(t, "1", nil)).Code)
	assert.Empty(t, h.sub.calls)
}

func TestSubmitErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ingest.ErrInvalidCamera, http.StatusBadRequest},
		{fmt.Errorf("decode: %w", imaging.ErrDecode), http.StatusBadRequest},
		{fmt.Errorf("%w: enqueue task: no responders", ingest.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newHarness(t)
			h.sub.err = tt.err
			assert.Equal(t, tt.want, h.do(multipartRequest(t, "1", []byte("x"))).Code)
		})
	}
}

func TestUploadBase64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("raw-image"))

	for _, path := range []string{"/v1/images/base64", "/upload-image/"} {
		t.Run(path, func(t *testing.T) {
			h := newHarness(t)
			body := fmt.Sprintf(`{"image_base64":"data:image/jpeg;base64,%s","camera_id":4}`, payload)
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := h.do(req)
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
			assert.Equal(t, []byte("raw-image"), h.sub.last)
			assert.Equal(t, []int{4}, h.sub.calls)
		})
	}

	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/images/base64", strings.NewReader(`{"image_base64":"%%%","camera_id":4}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/images/base64", strings.NewReader(`{"camera_id":4}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/visits", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, h.do(req).Code)

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVisits(t *testing.T) {
	h := newHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/v1/visits?camera_id=2&gender=FEMALE&limit=10&from=2024-03-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list dto.VisitListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Visits, 1)
	assert.Equal(t, "2024-03-04", list.Visits[0].Date)
	assert.Equal(t, "10:11:12", list.Visits[0].Time)
	require.NotNil(t, h.visits.filter.CameraID)
	assert.Equal(t, 2, *h.visits.filter.CameraID)
	assert.Equal(t, models.GenderFemale, h.visits.filter.Gender)
	assert.Equal(t, 10, h.visits.filter.Limit)

	assert.Equal(t, http.StatusBadRequest, h.do(httptest.NewRequest(http.MethodGet, "/v1/visits?gender=other", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(httptest.NewRequest(http.MethodGet, "/v1/visits?from=yesterday", nil)).Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/v1/visits/7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var one dto.VisitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "Toys", one.ProductCategory)

	assert.Equal(t, http.StatusNotFound, h.do(httptest.NewRequest(http.MethodGet, "/v1/visits/8", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(httptest.NewRequest(http.MethodGet, "/v1/visits/x", nil)).Code)
}

func TestReports(t *testing.T) {
	h := newHarness(t)
	h.aggs.rows = []storage.GroupCount{
		{Values: []string{"Toys"}, Count: 5},
		{Values: []string{"Books"}, Count: 2},
	}

	w := h.do(httptest.NewRequest(http.MethodGet, "/v1/reports/categories?top=1", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Report string             `json:"report"`
		From   string             `json:"from"`
		Data   []analytics.Ranked `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "category_ranking", resp.Report)
	assert.Empty(t, resp.From)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Toys", resp.Data[0].Label)

	w = h.do(httptest.NewRequest(http.MethodGet, "/v1/reports/categories?period=month&date=2024-02-01", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), h.aggs.got.To)

	assert.Equal(t, http.StatusBadRequest, h.do(httptest.NewRequest(http.MethodGet, "/v1/reports/categories?top=-1", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(httptest.NewRequest(http.MethodGet, "/v1/reports/gender?period=decade", nil)).Code)

	h.aggs.rows = []storage.GroupCount{{Values: []string{"2024-03-05"}, Count: 9}}
	w = h.do(httptest.NewRequest(http.MethodGet, "/v1/reports/busiest-day?date=2024-03-04", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"weekday":"Tuesday"`)

	h.aggs.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, h.do(httptest.NewRequest(http.MethodGet, "/v1/reports/emotions", nil)).Code)
}

func TestReadyz(t *testing.T) {
	ok := handlers.Check{Name: "postgres", Ping: func(context.Context) error { return nil }}
	bad := handlers.Check{Name: "nats", Ping: func(context.Context) error { return errors.New("nats not connected") }}

	h := newHarness(t, ok)
	assert.Equal(t, http.StatusOK, h.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	h = newHarness(t, ok, bad)
	w := h.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "nats not connected")
}

func TestCameraControl(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusAccepted, h.do(httptest.NewRequest(http.MethodPost, "/v1/cameras/3/stop", nil)).Code)
	assert.Equal(t, http.StatusAccepted, h.do(httptest.NewRequest(http.MethodPost, "/v1/cameras/3/start", nil)).Code)
	assert.Equal(t, []models.CameraCommand{{Action: "stop", CameraID: 3}, {Action: "start", CameraID: 3}}, h.ctl.cmds)

	assert.Equal(t, http.StatusBadRequest, h.do(httptest.NewRequest(http.MethodPost, "/v1/cameras/0/start", nil)).Code)

	h.ctl.err = errors.New("nats not connected")
	assert.Equal(t, http.StatusServiceUnavailable, h.do(httptest.NewRequest(http.MethodPost, "/v1/cameras/3/start", nil)).Code)
}
