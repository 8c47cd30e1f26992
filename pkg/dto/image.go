package dto

import "github.com/google/uuid"

// Base64ImageRequest is the JSON body of POST /v1/images/base64 and the
// legacy /upload-image/ route.
type Base64ImageRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
	CameraID    int    `json:"camera_id" binding:"required"`
}

type SubmitResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
