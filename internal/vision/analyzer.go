// Package vision is the on-premise face analyzer: RetinaFace detection,
// InsightFace gender/age and FER+ emotion models run through ONNX Runtime.
package vision

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/analysis"
	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/observability"
)

const (
	detModel     = "det_10g.onnx"
	attrModel    = "genderage.onnx"
	emotionModel = "emotion-ferplus-8.onnx"
)

// Analyzer implements analysis.Analyzer with local models. ONNX sessions
// bind fixed tensors, so calls are serialized.
type Analyzer struct {
	mu       sync.Mutex
	detector *Detector
	attrs    *AttributePredictor
	emotions *EmotionClassifier
	log      *zap.Logger
}

var _ analysis.Analyzer = (*Analyzer)(nil)

// NewAnalyzer initialises ONNX Runtime and loads all three models.
func NewAnalyzer(cfg config.AnalysisConfig, log *zap.Logger) (*Analyzer, error) {
	if !ort.IsInitialized() {
		lib := cfg.ONNXLibraryPath
		if lib == "" {
			lib = defaultLibraryPath()
		}
		ort.SetSharedLibraryPath(lib)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx runtime: %w", err)
		}
	}

	a := &Analyzer{log: log}
	var err error

	path := filepath.Join(cfg.ModelsDir, detModel)
	log.Info("loading detection model", zap.String("path", path))
	if a.detector, err = NewDetector(path, float32(cfg.DetectionThreshold)); err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	path = filepath.Join(cfg.ModelsDir, attrModel)
	log.Info("loading attribute model", zap.String("path", path))
	if a.attrs, err = NewAttributePredictor(path); err != nil {
		a.Close()
		return nil, fmt.Errorf("load attributes: %w", err)
	}

	path = filepath.Join(cfg.ModelsDir, emotionModel)
	log.Info("loading emotion model", zap.String("path", path))
	if a.emotions, err = NewEmotionClassifier(path); err != nil {
		a.Close()
		return nil, fmt.Errorf("load emotions: %w", err)
	}

	log.Info("onnx analyzer ready")
	return a, nil
}

func (a *Analyzer) Analyze(ctx context.Context, image []byte) (*analysis.Result, error) {
	r, err := imaging.Decode(image)
	if err != nil {
		if errors.Is(err, imaging.ErrDecode) {
			return nil, fmt.Errorf("%w: %v", analysis.ErrUnsupportedImage, err)
		}
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	dets, err := a.detector.Detect(chwInput(r, fullFrame(r), detInputSize, detNorm), r.Width, r.Height)
	if err != nil {
		return nil, err
	}
	observability.StageDuration.WithLabelValues("onnx_detect").Observe(time.Since(start).Seconds())

	res := &analysis.Result{Faces: make([]analysis.Face, 0, len(dets))}
	for _, d := range dets {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		face := padBox(d.Box, 0.1, r.Width, r.Height)
		if face.Area() < 1 {
			continue
		}

		ga, err := a.attrs.Predict(chwInput(r, face, attrInputSize, attrNorm))
		if err != nil {
			return nil, err
		}
		emotions, err := a.emotions.Classify(grayInput(r, d.Box, emotionInputSize))
		if err != nil {
			return nil, err
		}

		ar := ga.AgeRange()
		res.Faces = append(res.Faces, analysis.Face{
			Gender:     string(ga.Gender),
			AgeRange:   &ar,
			Emotions:   emotions,
			Confidence: float64(d.Score) * 100,
		})
	}
	observability.StageDuration.WithLabelValues("onnx_analyze").Observe(time.Since(start).Seconds())
	return res, nil
}

// Close releases all ONNX sessions.
func (a *Analyzer) Close() {
	if a.detector != nil {
		a.detector.Close()
	}
	if a.attrs != nil {
		a.attrs.Close()
	}
	if a.emotions != nil {
		a.emotions.Close()
	}
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
