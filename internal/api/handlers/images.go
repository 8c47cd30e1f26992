package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/storelens/internal/imaging"
	"github.com/your-org/storelens/internal/ingest"
	"github.com/your-org/storelens/pkg/dto"
)

// ImageSubmitter is satisfied by *ingest.Submitter.
type ImageSubmitter interface {
	Submit(ctx context.Context, cameraID int, image []byte, source string) (uuid.UUID, error)
}

type ImageHandler struct {
	submitter ImageSubmitter
	maxBytes  int64
	log       *zap.Logger
}

func NewImageHandler(submitter ImageSubmitter, maxBytes int64, log *zap.Logger) *ImageHandler {
	return &ImageHandler{submitter: submitter, maxBytes: maxBytes, log: log.Named("images")}
}

// Upload accepts a multipart form with an "image" file and a "camera_id"
// field.
func (h *ImageHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)

	cameraID, err := strconv.Atoi(c.PostForm("camera_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "camera_id must be an integer"})
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "image file is required"})
		return
	}
	if fh.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "image too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "cannot read image"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "cannot read image"})
		return
	}

	h.submit(c, cameraID, data)
}

// UploadBase64 accepts {"image_base64": ..., "camera_id": ...}. Data URL
// prefixes are tolerated.
func (h *ImageHandler) UploadBase64(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes*4/3+1<<20)

	var req dto.Base64ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "image_base64 and camera_id are required"})
		return
	}

	data, err := decodeBase64Image(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "image_base64 is not valid base64"})
		return
	}
	if int64(len(data)) > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "image too large"})
		return
	}

	h.submit(c, req.CameraID, data)
}

func (h *ImageHandler) submit(c *gin.Context, cameraID int, data []byte) {
	// Intake must finish even if the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())
	taskID, err := h.submitter.Submit(ctx, cameraID, data, ingest.SourceAPI)
	if err != nil {
		status, msg := submitStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("image intake failed", zap.Int("camera_id", cameraID), zap.Error(err))
		}
		c.JSON(status, dto.ErrorResponse{Error: msg})
		return
	}
	c.JSON(http.StatusAccepted, dto.SubmitResponse{TaskID: taskID, Status: "accepted"})
}

func submitStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidCamera):
		return http.StatusBadRequest, "camera_id must be a positive integer"
	case errors.Is(err, ingest.ErrEmptyImage):
		return http.StatusBadRequest, "image is empty"
	case errors.Is(err, imaging.ErrDecode), errors.Is(err, imaging.ErrEmptyImage):
		return http.StatusBadRequest, "image could not be decoded"
	case errors.Is(err, ingest.ErrUnavailable):
		return http.StatusServiceUnavailable, "image intake temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, nil
}
