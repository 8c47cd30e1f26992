package dto

const EventVisitRecorded = "visit_recorded"

// WSEvent is a WebSocket message for real-time visit delivery.
type WSEvent struct {
	Type     string        `json:"type"`
	CameraID int           `json:"camera_id"`
	Data     VisitResponse `json:"data"`
}
