package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/models"
)

func TestSuppress_KeepsBestOfOverlap(t *testing.T) {
	dets := []Detection{
		{Box: Box{0, 0, 10, 10}, Score: 0.6},
		{Box: Box{1, 1, 11, 11}, Score: 0.9},
		{Box: Box{50, 50, 60, 60}, Score: 0.7},
	}
	kept := suppress(dets, 0.4)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-6)
	assert.InDelta(t, 0.7, kept[1].Score, 1e-6)
}

func TestIoU(t *testing.T) {
	a := Box{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 0.0, iou(a, Box{20, 20, 30, 30}), 1e-6)
	assert.InDelta(t, 25.0/175.0, iou(a, Box{5, 5, 15, 15}), 1e-6)
}

func TestDecodeGenderAge(t *testing.T) {
	ga, err := decodeGenderAge([]float32{0.2, 2.5, 0.334})
	require.NoError(t, err)
	assert.Equal(t, models.GenderMale, ga.Gender)
	assert.Equal(t, 33, ga.Age)
	assert.Equal(t, models.AgeRange{Low: 30, High: 35}, ga.AgeRange())

	ga, err = decodeGenderAge([]float32{3, -1, 0.07})
	require.NoError(t, err)
	assert.Equal(t, models.GenderFemale, ga.Gender)

	_, err = decodeGenderAge([]float32{1})
	assert.Error(t, err)
}

func TestDecodeEmotions(t *testing.T) {
	emotions, err := decodeEmotions([]float32{0, 5, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, emotions, 8)
	assert.Equal(t, "CALM", emotions[0].Type)
	assert.Equal(t, "HAPPY", emotions[1].Type)
	assert.Greater(t, emotions[1].Confidence, emotions[0].Confidence)

	var total float64
	for _, e := range emotions {
		total += e.Confidence
	}
	assert.InDelta(t, 100, total, 0.01)

	_, err = decodeEmotions([]float32{1, 2})
	assert.Error(t, err)
}

func TestChwInput_Layout(t *testing.T) {
	r := imaging.NewRaster(2, 2)
	r.SetRGB(0, 0, 255, 0, 0)
	r.SetRGB(1, 1, 0, 0, 255)

	in := chwInput(r, fullFrame(r), 2, attrNorm)
	require.Len(t, in, 12)
	assert.Equal(t, float32(255), in[0])  // R of (0,0)
	assert.Equal(t, float32(255), in[11]) // B of (1,1)
	assert.Equal(t, float32(0), in[4])    // G of (0,0)
}

func TestPadBox_ClipsToRaster(t *testing.T) {
	b := padBox(Box{0, 0, 10, 10}, 0.1, 10, 10)
	assert.Equal(t, Box{0, 0, 10, 10}, b)

	b = padBox(Box{10, 10, 20, 20}, 0.1, 100, 100)
	assert.Equal(t, Box{9, 9, 21, 21}, b)
}
