package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/storelens/internal/models"
	"github.com/your-org/storelens/pkg/dto"
)

type VisitReader interface {
	GetVisit(ctx context.Context, id int64) (*models.VisitRecord, error)
	ListVisits(ctx context.Context, f models.VisitFilter) ([]models.VisitRecord, int, error)
}

type VisitHandler struct {
	db VisitReader
}

func NewVisitHandler(db VisitReader) *VisitHandler {
	return &VisitHandler{db: db}
}

func (h *VisitHandler) List(c *gin.Context) {
	var q dto.VisitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	f := models.VisitFilter{
		ProductCategory: q.Category,
		Limit:           q.Limit,
		Offset:          q.Offset,
	}
	if q.CameraID > 0 {
		id := q.CameraID
		f.CameraID = &id
	}
	if q.Gender != "" {
		g, err := models.ParseGender(q.Gender)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "gender must be male or female"})
			return
		}
		f.Gender = g
	}
	var err error
	if f.From, err = parseTime(q.From); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "from must be RFC3339"})
		return
	}
	if f.To, err = parseTime(q.To); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "to must be RFC3339"})
		return
	}

	visits, total, err := h.db.ListVisits(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	resp := dto.VisitListResponse{Visits: make([]dto.VisitResponse, 0, len(visits)), Total: total}
	for _, v := range visits {
		resp.Visits = append(resp.Visits, dto.NewVisitResponse(v))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *VisitHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid visit id"})
		return
	}

	v, err := h.db.GetVisit(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "visit not found"})
		return
	}
	c.JSON(http.StatusOK, dto.NewVisitResponse(*v))
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
