package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/storelens/internal/analysis"
)

const emotionInputSize = 64

// FER+ class order mapped to the labels used across the service.
var emotionLabels = [8]string{
	"CALM",      // neutral
	"HAPPY",     // happiness
	"SURPRISED", // surprise
	"SAD",       // sadness
	"ANGRY",     // anger
	"DISGUSTED", // disgust
	"FEAR",      // fear
	"CONTEMPT",  // contempt
}

// EmotionClassifier runs the FER+ model on 64x64 grayscale face crops.
type EmotionClassifier struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewEmotionClassifier(modelPath string) (*EmotionClassifier, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, emotionInputSize, emotionInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(emotionLabels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"Input3"}, []string{"Plus692_Output_0"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create emotion session: %w", err)
	}
	return &EmotionClassifier{session: session, input: input, output: output}, nil
}

// Classify returns a confidence (0..100) for every label, in model order.
func (c *EmotionClassifier) Classify(face []float32) ([]analysis.Emotion, error) {
	copy(c.input.GetData(), face)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("run emotion: %w", err)
	}
	return decodeEmotions(c.output.GetData())
}

func decodeEmotions(logits []float32) ([]analysis.Emotion, error) {
	if len(logits) != len(emotionLabels) {
		return nil, fmt.Errorf("unexpected emotion output size %d", len(logits))
	}
	probs := softmax(logits)
	out := make([]analysis.Emotion, len(probs))
	for i, p := range probs {
		out[i] = analysis.Emotion{Type: emotionLabels[i], Confidence: float64(p) * 100}
	}
	return out, nil
}

func (c *EmotionClassifier) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
	c.input.Destroy()
	c.output.Destroy()
}

func softmax(v []float32) []float32 {
	hi := v[0]
	for _, x := range v[1:] {
		hi = max(hi, x)
	}
	out := make([]float32, len(v))
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - hi))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
