package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/storelens/internal/models"
)

type VisitResponse struct {
	ID              int64     `json:"id"`
	TaskID          uuid.UUID `json:"task_id"`
	FaceIndex       int       `json:"face_index"`
	CameraID        int       `json:"camera_id"`
	CapturedAt      string    `json:"captured_at"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	ProductCategory string    `json:"product_category"`
	Gender          string    `json:"gender"`
	AgeRange        AgeRange  `json:"age_range"`
	PrimaryEmotion  string    `json:"primary_emotion"`
	ImageURL        string    `json:"image_url,omitempty"`
	CreatedAt       string    `json:"created_at,omitempty"`
}

type AgeRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

type VisitListResponse struct {
	Visits []VisitResponse `json:"visits"`
	Total  int             `json:"total"`
}

type VisitQuery struct {
	CameraID int    `form:"camera_id"`
	Category string `form:"category"`
	Gender   string `form:"gender"`
	From     string `form:"from"`
	To       string `form:"to"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

// NewVisitResponse renders a stored visit. Date and Time are the UTC
// capture day and clock time, kept for dashboards that group by them.
func NewVisitResponse(v models.VisitRecord) VisitResponse {
	at := v.CapturedAt.UTC()
	r := VisitResponse{
		ID:              v.ID,
		TaskID:          v.TaskID,
		FaceIndex:       v.FaceIndex,
		CameraID:        v.CameraID,
		CapturedAt:      at.Format(time.RFC3339),
		Date:            at.Format("2006-01-02"),
		Time:            at.Format("15:04:05"),
		ProductCategory: v.ProductCategory,
		Gender:          string(v.Gender),
		AgeRange:        AgeRange{Low: v.AgeRange.Low, High: v.AgeRange.High},
		PrimaryEmotion:  v.PrimaryEmotion,
		ImageURL:        v.ImageURL,
	}
	if !v.CreatedAt.IsZero() {
		r.CreatedAt = v.CreatedAt.UTC().Format(time.RFC3339)
	}
	return r
}
