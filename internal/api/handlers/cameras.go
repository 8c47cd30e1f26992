package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/pkg/dto"
)

// CameraController forwards start/stop commands to the ingestor.
type CameraController interface {
	PublishControl(cmd models.CameraCommand) error
}

type CameraHandler struct {
	ctl CameraController
}

func NewCameraHandler(ctl CameraController) *CameraHandler {
	return &CameraHandler{ctl: ctl}
}

func (h *CameraHandler) Start(c *gin.Context) { h.command(c, "start") }

func (h *CameraHandler) Stop(c *gin.Context) { h.command(c, "stop") }

func (h *CameraHandler) command(c *gin.Context, action string) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid camera id"})
		return
	}
	if err := h.ctl.PublishControl(models.CameraCommand{Action: action, CameraID: id}); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "ingestor unreachable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"camera_id": id, "action": action})
}
