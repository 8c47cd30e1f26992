package pipeline

import (
	"fmt"
	"time"
)

// UploadKey names the enhanced image object:
// {YYYYMMDD_HHMMSS}_{cameraId}_{suffix}.jpeg in UTC. The suffix keeps keys
// unique when one camera submits twice within a second.
func UploadKey(at time.Time, cameraID int, suffix string) string {
	return fmt.Sprintf("%s_%d_%s.jpeg", at.UTC().Format("20060102_150405"), cameraID, suffix)
}
