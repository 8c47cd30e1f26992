package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/storelens/internal/analytics"
	"github.com/your-org/storelens/internal/storage"
	"github.com/your-org/storelens/pkg/dto"
)

type ReportHandler struct {
	svc *analytics.Service
	now func() time.Time
}

func NewReportHandler(svc *analytics.Service) *ReportHandler {
	return &ReportHandler{svc: svc, now: time.Now}
}

// Register mounts every report under g.
func (h *ReportHandler) Register(g *gin.RouterGroup) {
	g.GET("/hourly-traffic", h.withPeriod("hourly_traffic", "day", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.HourlyTraffic(ctx, r)
	}))
	g.GET("/peak-hours", h.withPeriod("peak_hours", "week", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.PeakHours(ctx, r.From)
	}))
	g.GET("/least-busy-hours", h.withPeriod("least_busy_hours", "week", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.LeastBusyHours(ctx, r.From)
	}))
	g.GET("/daily-traffic", h.withPeriod("daily_traffic", "week", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.DailyTraffic(ctx, r)
	}))
	g.GET("/busiest-day", h.withPeriod("busiest_day", "week", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		days, err := h.svc.DailyTraffic(ctx, r)
		if err != nil {
			return nil, err
		}
		d, _ := analytics.BusiestDay(days)
		return d, nil
	}))
	g.GET("/least-busy-day", h.withPeriod("least_busy_day", "week", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		days, err := h.svc.DailyTraffic(ctx, r)
		if err != nil {
			return nil, err
		}
		d, _ := analytics.LeastBusyDay(days)
		return d, nil
	}))
	g.GET("/gender", h.withPeriod("gender_distribution", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.GenderDistribution(ctx, r)
	}))
	g.GET("/age", h.withPeriod("age_distribution", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.AgeDistribution(ctx, r)
	}))
	g.GET("/emotions", h.withPeriod("emotion_ranking", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.EmotionRanking(ctx, r)
	}))
	g.GET("/emotion-comparison", h.withPeriod("emotion_comparison", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.EmotionComparison(ctx, r)
	}))
	g.GET("/categories", h.withPeriod("category_ranking", "", func(ctx context.Context, r storage.Range, c *gin.Context) (any, error) {
		top, err := strconv.Atoi(c.DefaultQuery("top", "0"))
		if err != nil || top < 0 {
			return nil, errBadTop
		}
		return h.svc.CategoryRanking(ctx, r, top)
	}))
	g.GET("/categories/least-visited", h.withPeriod("least_visited_category", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		cat, ok, err := h.svc.LeastVisitedCategory(ctx, r)
		if err != nil || !ok {
			return nil, err
		}
		return cat, nil
	}))
	g.GET("/categories/happiest", h.withPeriod("top_happy_categories", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.TopHappyCategories(ctx, r)
	}))
	g.GET("/categories/by-gender", h.withPeriod("preferred_category_by_gender", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.PreferredCategoryByGender(ctx, r)
	}))
	g.GET("/categories/emotions", h.withPeriod("emotion_percentage_by_category", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.EmotionPercentagesByCategory(ctx, r)
	}))
	g.GET("/categories/emotional-differences", h.withPeriod("emotional_differences_by_category", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.EmotionalDifferencesByCategory(ctx, r)
	}))
	g.GET("/categories/age-gender", h.withPeriod("age_gender_by_category", "", func(ctx context.Context, r storage.Range, _ *gin.Context) (any, error) {
		return h.svc.AgeGenderByCategory(ctx, r)
	}))
}

var errBadTop = errors.New("top must be a non-negative integer")

type reportFunc func(ctx context.Context, r storage.Range, c *gin.Context) (any, error)

// withPeriod resolves ?period=&date= (falling back to defaultPeriod) and
// renders fn's result in a ReportResponse.
func (h *ReportHandler) withPeriod(name, defaultPeriod string, fn reportFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		period := c.DefaultQuery("period", defaultPeriod)
		r, err := analytics.ParsePeriod(period, c.Query("date"), h.now())
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}

		data, err := fn(c.Request.Context(), r, c)
		switch {
		case errors.Is(err, errBadTop), errors.Is(err, analytics.ErrInvalidPeriod):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		case err != nil:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "report failed"})
			return
		}

		resp := dto.ReportResponse{Report: name, Period: period, Data: data}
		if !r.From.IsZero() {
			resp.From = r.From.Format(time.DateOnly)
			resp.To = r.To.Format(time.DateOnly)
		}
		c.JSON(http.StatusOK, resp)
	}
}
