package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestTask is the message published to NATS for worker processing. The
// raw upload lives in object storage under ObjectKey until the worker is
// done with it.
type IngestTask struct {
	TaskID     uuid.UUID `json:"task_id"`
	CameraID   int       `json:"camera_id"`
	ObjectKey  string    `json:"object_key"`
	Source     string    `json:"source"` // api, camera
	ReceivedAt time.Time `json:"received_at"`
}

// Suffix is the short per-task token used in upload keys.
func (t IngestTask) Suffix() string {
	return t.TaskID.String()[:8]
}

// CameraCommand is sent on the camera control subject.
type CameraCommand struct {
	Action   string `json:"action"` // start, stop
	CameraID int    `json:"camera_id"`
}
