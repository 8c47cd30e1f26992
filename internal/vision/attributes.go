package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/storelens/internal/models"
)

const attrInputSize = 96

// GenderAge is the output of the InsightFace genderage model.
type GenderAge struct {
	Gender     models.Gender
	Confidence float32
	Age        int
}

// AgeRange widens a point estimate into the 5-year bucket containing it.
func (g GenderAge) AgeRange() models.AgeRange {
	low := (g.Age / 5) * 5
	return models.AgeRange{Low: low, High: low + 5}
}

// AttributePredictor runs the genderage model on 96x96 face crops.
type AttributePredictor struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewAttributePredictor(modelPath string) (*AttributePredictor, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, attrInputSize, attrInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	// [female_logit, male_logit, age/100]
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"data"}, []string{"fc1"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create attribute session: %w", err)
	}

	return &AttributePredictor{session: session, input: input, output: output}, nil
}

func (p *AttributePredictor) Predict(face []float32) (GenderAge, error) {
	copy(p.input.GetData(), face)
	if err := p.session.Run(); err != nil {
		return GenderAge{}, fmt.Errorf("run attributes: %w", err)
	}
	return decodeGenderAge(p.output.GetData())
}

func decodeGenderAge(out []float32) (GenderAge, error) {
	if len(out) < 3 {
		return GenderAge{}, fmt.Errorf("unexpected attribute output size %d", len(out))
	}
	probs := softmax(out[:2])

	ga := GenderAge{Gender: models.GenderFemale, Confidence: probs[0]}
	if probs[1] > probs[0] {
		ga.Gender = models.GenderMale
		ga.Confidence = probs[1]
	}
	ga.Age = min(max(int(out[2]*100+0.5), 0), 100)
	return ga, nil
}

func (p *AttributePredictor) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	p.input.Destroy()
	p.output.Destroy()
}
