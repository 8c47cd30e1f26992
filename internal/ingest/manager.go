package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/internal/observability"
)

// FrameSource produces frames from a camera feed until ctx is done.
type FrameSource interface {
	StartExtraction(ctx context.Context, url string, interval time.Duration, width int, cb FrameCallback) error
	Stop()
}

type activeCamera struct {
	cancel context.CancelFunc
	source FrameSource
	done   chan struct{}
}

// CameraManager polls the configured cameras and feeds their frames into
// the same intake path as API uploads.
type CameraManager struct {
	submit    func(ctx context.Context, cameraID int, image []byte) error
	newSource func() FrameSource
	width     int
	log       *zap.Logger

	mu       sync.Mutex
	cameras  map[int]config.CameraConfig
	active   map[int]*activeCamera
	maxRetry int
}

func NewCameraManager(sub *Submitter, cams []config.CameraConfig, frameWidth int, log *zap.Logger) *CameraManager {
	log = log.Named("cameras")
	m := newCameraManager(func(ctx context.Context, cameraID int, image []byte) error {
		_, err := sub.Submit(ctx, cameraID, image, SourceCamera)
		return err
	}, func() FrameSource { return NewFFmpegExtractor(log) }, cams, frameWidth, log)
	return m
}

func newCameraManager(
	submit func(ctx context.Context, cameraID int, image []byte) error,
	newSource func() FrameSource,
	cams []config.CameraConfig,
	width int,
	log *zap.Logger,
) *CameraManager {
	byID := make(map[int]config.CameraConfig, len(cams))
	for _, c := range cams {
		byID[c.ID] = c
	}
	return &CameraManager{
		submit:    submit,
		newSource: newSource,
		width:     width,
		log:       log,
		cameras:   byID,
		active:    make(map[int]*activeCamera),
		maxRetry:  3,
	}
}

// StartAll starts every configured camera. It fails if any camera could
// not be started; cameras already started keep running.
func (m *CameraManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]int, 0, len(m.cameras))
	for id := range m.cameras {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return m.Start(ctx, id) })
	}
	return g.Wait()
}

// HandleCommand applies a start/stop command received on the control subject.
func (m *CameraManager) HandleCommand(ctx context.Context, cmd models.CameraCommand) error {
	switch cmd.Action {
	case "start":
		return m.Start(ctx, cmd.CameraID)
	case "stop":
		m.Stop(cmd.CameraID)
		return nil
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

// Start begins polling a configured camera. Starting a running camera is a
// no-op.
func (m *CameraManager) Start(ctx context.Context, cameraID int) error {
	m.mu.Lock()
	cam, ok := m.cameras[cameraID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("camera %d is not configured", cameraID)
	}
	if _, running := m.active[cameraID]; running {
		m.mu.Unlock()
		return nil
	}
	camCtx, cancel := context.WithCancel(ctx)
	ac := &activeCamera{cancel: cancel, source: m.newSource(), done: make(chan struct{})}
	m.active[cameraID] = ac
	m.mu.Unlock()

	observability.ActiveCameras.Inc()
	m.log.Info("starting camera", zap.Int("camera_id", cameraID), zap.Duration("interval", cam.Interval))

	go m.run(camCtx, cam, ac)
	return nil
}

func (m *CameraManager) run(ctx context.Context, cam config.CameraConfig, ac *activeCamera) {
	defer func() {
		m.mu.Lock()
		if m.active[cam.ID] == ac {
			delete(m.active, cam.ID)
		}
		m.mu.Unlock()
		observability.ActiveCameras.Dec()
		close(ac.done)
		m.log.Info("camera stopped", zap.Int("camera_id", cam.ID))
	}()

	onFrame := func(frame []byte) error {
		return m.submit(ctx, cam.ID, frame)
	}

	for attempt := 0; attempt <= m.maxRetry; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second // 2s, 4s, 8s
			m.log.Warn("retrying camera feed",
				zap.Int("camera_id", cam.ID), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			src := m.newSource()
			m.mu.Lock()
			ac.source = src
			m.mu.Unlock()
		}

		m.mu.Lock()
		src := ac.source
		m.mu.Unlock()

		err := src.StartExtraction(ctx, cam.URL, cam.Interval, m.width, onFrame)
		if err == nil || ctx.Err() != nil {
			return
		}
		m.log.Error("camera feed failed",
			zap.Int("camera_id", cam.ID), zap.Int("attempt", attempt), zap.Error(err))
	}
	m.log.Error("camera feed gave up after retries", zap.Int("camera_id", cam.ID))
}

// Stop halts a camera and waits for its feed goroutine to exit.
func (m *CameraManager) Stop(cameraID int) {
	m.mu.Lock()
	ac, ok := m.active[cameraID]
	var src FrameSource
	if ok {
		src = ac.source
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	ac.cancel()
	src.Stop()
	<-ac.done
}

// ActiveCount returns the number of cameras currently polled.
func (m *CameraManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *CameraManager) StopAll() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}
