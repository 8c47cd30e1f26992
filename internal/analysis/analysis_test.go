package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/storelens/internal/models"
)

type fakeRekognition struct {
	out *rekognition.DetectFacesOutput
	err error
	in  *rekognition.DetectFacesInput
}

func (f *fakeRekognition) DetectFaces(_ context.Context, in *rekognition.DetectFacesInput, _ ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestPrimaryEmotion(t *testing.T) {
	tests := []struct {
		name     string
		emotions []Emotion
		want     string
		ok       bool
	}{
		{"highest wins", []Emotion{{"HAPPY", 90}, {"SAD", 95}, {"CALM", 10}}, "SAD", true},
		{"first max on tie", []Emotion{{"CALM", 50}, {"HAPPY", 50}}, "CALM", true},
		{"single", []Emotion{{"FEAR", 1}}, "FEAR", true},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PrimaryEmotion(tt.emotions)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRekognitionAnalyzer_MapsFaceDetails(t *testing.T) {
	fake := &fakeRekognition{out: &rekognition.DetectFacesOutput{
		FaceDetails: []types.FaceDetail{
			{
				Confidence: aws.Float32(99.1),
				Gender:     &types.Gender{Value: types.GenderTypeFemale, Confidence: aws.Float32(97)},
				AgeRange:   &types.AgeRange{Low: aws.Int32(23), High: aws.Int32(31)},
				Emotions: []types.Emotion{
					{Type: types.EmotionNameHappy, Confidence: aws.Float32(80)},
					{Type: types.EmotionNameCalm, Confidence: aws.Float32(15)},
				},
			},
			{Confidence: aws.Float32(60)},
		},
	}}

	res, err := NewRekognitionAnalyzerWithClient(fake).Analyze(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	require.Len(t, res.Faces, 2)

	f := res.Faces[0]
	assert.Equal(t, "Female", f.Gender)
	assert.Equal(t, &models.AgeRange{Low: 23, High: 31}, f.AgeRange)
	require.Len(t, f.Emotions, 2)
	assert.Equal(t, "HAPPY", f.Emotions[0].Type)
	assert.InDelta(t, 80, f.Emotions[0].Confidence, 0.001)

	assert.Empty(t, res.Faces[1].Gender)
	assert.Nil(t, res.Faces[1].AgeRange)

	assert.Equal(t, []byte("jpeg"), fake.in.Image.Bytes)
	assert.Equal(t, []types.Attribute{types.AttributeAll}, fake.in.Attributes)
}

func TestRekognitionAnalyzer_PermanentErrors(t *testing.T) {
	fake := &fakeRekognition{err: &types.InvalidImageFormatException{Message: aws.String("bad")}}
	_, err := NewRekognitionAnalyzerWithClient(fake).Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	fake = &fakeRekognition{err: errors.New("throttled")}
	_, err = NewRekognitionAnalyzerWithClient(fake).Analyze(context.Background(), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedImage)
}
