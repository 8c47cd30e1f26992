package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender accepts provider spellings ("Male", "FEMALE", ...).
func ParseGender(s string) (Gender, error) {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case GenderMale, GenderFemale:
		return g, nil
	default:
		return "", fmt.Errorf("unknown gender %q", s)
	}
}

type AgeRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (a AgeRange) Valid() bool {
	return a.Low >= 0 && a.Low <= a.High
}

func (a AgeRange) String() string {
	return fmt.Sprintf("%d-%d", a.Low, a.High)
}

// VisitRecord is one detected face in one analyzed image. ID comes from
// the persistent sequence allocator and never changes once written.
type VisitRecord struct {
	ID              int64     `json:"id" db:"id"`
	TaskID          uuid.UUID `json:"task_id" db:"task_id"`
	FaceIndex       int       `json:"face_index" db:"face_index"`
	CapturedAt      time.Time `json:"captured_at" db:"captured_at"`
	CameraID        int       `json:"camera_id" db:"camera_id"`
	ProductCategory string    `json:"product_category" db:"product_category"`
	Gender          Gender    `json:"gender" db:"gender"`
	AgeRange        AgeRange  `json:"age_range"`
	PrimaryEmotion  string    `json:"primary_emotion" db:"primary_emotion"`
	ImageURL        string    `json:"image_url,omitempty" db:"image_url"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// VisitFilter narrows visit listings. Zero values mean "any".
type VisitFilter struct {
	CameraID        *int
	ProductCategory string
	Gender          Gender
	From            time.Time
	To              time.Time
	Limit           int
	Offset          int
}
