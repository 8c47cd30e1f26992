package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/your-org/storelens/internal/config"
	"github.com/your-org/storelens/internal/models"
)

// DetectFacesAPI is the slice of the Rekognition client we use.
type DetectFacesAPI interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, opts ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// RekognitionAnalyzer calls AWS Rekognition DetectFaces with all facial
// attributes enabled.
type RekognitionAnalyzer struct {
	client DetectFacesAPI
}

// NewRekognitionAnalyzer builds a client from the analysis config. Static
// credentials are used when set, otherwise the default AWS chain applies.
func NewRekognitionAnalyzer(ctx context.Context, cfg config.AnalysisConfig) (*RekognitionAnalyzer, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewRekognitionAnalyzerWithClient(rekognition.NewFromConfig(awsCfg)), nil
}

func NewRekognitionAnalyzerWithClient(client DetectFacesAPI) *RekognitionAnalyzer {
	return &RekognitionAnalyzer{client: client}
}

func (a *RekognitionAnalyzer) Analyze(ctx context.Context, image []byte) (*Result, error) {
	out, err := a.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: image},
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		if isPermanent(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
		}
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	res := &Result{Faces: make([]Face, 0, len(out.FaceDetails))}
	for _, fd := range out.FaceDetails {
		res.Faces = append(res.Faces, faceFromDetail(fd))
	}
	return res, nil
}

func faceFromDetail(fd types.FaceDetail) Face {
	f := Face{Confidence: float64(aws.ToFloat32(fd.Confidence))}
	if fd.Gender != nil {
		f.Gender = string(fd.Gender.Value)
	}
	if fd.AgeRange != nil && fd.AgeRange.Low != nil && fd.AgeRange.High != nil {
		f.AgeRange = &models.AgeRange{
			Low:  int(*fd.AgeRange.Low),
			High: int(*fd.AgeRange.High),
		}
	}
	for _, e := range fd.Emotions {
		f.Emotions = append(f.Emotions, Emotion{
			Type:       string(e.Type),
			Confidence: float64(aws.ToFloat32(e.Confidence)),
		})
	}
	return f
}

func isPermanent(err error) bool {
	var (
		badFormat *types.InvalidImageFormatException
		tooLarge  *types.ImageTooLargeException
		badParam  *types.InvalidParameterException
	)
	return errors.As(err, &badFormat) || errors.As(err, &tooLarge) || errors.As(err, &badParam)
}
