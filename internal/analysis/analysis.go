// Package analysis defines the face-analysis contract used by the ingestion
// pipeline and its AWS Rekognition implementation. A local ONNX
// implementation lives in internal/vision.
package analysis

import (
	"context"
	"errors"

	"github.com/your-org/storelens/internal/models"
)

// ErrUnsupportedImage is returned when the provider rejects the image
// itself. Retrying will not help.
var ErrUnsupportedImage = errors.New("image rejected by face analyzer")

// Analyzer detects faces and their attributes in an encoded image.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (*Result, error)
}

type Result struct {
	Faces []Face
}

// Face carries the provider's attributes as reported. Gender and AgeRange
// are left empty when the provider did not return them.
type Face struct {
	Gender     string
	AgeRange   *models.AgeRange
	Emotions   []Emotion
	Confidence float64
}

type Emotion struct {
	Type       string
	Confidence float64
}

// PrimaryEmotion returns the label with the highest confidence. On ties the
// first one in provider order wins.
func PrimaryEmotion(emotions []Emotion) (string, bool) {
	if len(emotions) == 0 {
		return "", false
	}
	best := emotions[0]
	for _, e := range emotions[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}
	return best.Type, true
}
