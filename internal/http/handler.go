package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"toll-monitor/internal/domain/detection"
	"toll-monitor/internal/service"
)

type DetectionService interface {
	Ingest(ctx context.Context, ev detection.DetectionEvent) (*service.IngestResult, error)
	Get(ctx context.Context, detectionID string) (*detection.DetectionEvent, error)
	Search(ctx context.Context, p service.SearchParams) ([]detection.DetectionEvent, error)
	History(ctx context.Context, plate string, limit, offset int) ([]detection.DetectionEvent, error)
}

type Handler struct {
	detections DetectionService
	log        zerolog.Logger
}

func NewHandler(detections DetectionService, log zerolog.Logger) *Handler {
	return &Handler{
		detections: detections,
		log:        log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	public := r.Group("/api")
	{
		public.GET("/detections/:id", h.getDetection)
		public.GET("/vehicles/search", h.searchVehicles)
		public.GET("/vehicles/:plate/history", h.plateHistory)
	}

	protected := r.Group("/api")
	protected.Use(authMiddleware)
	{
		protected.POST("/detections", h.createDetection)
	}
}

func (h *Handler) createDetection(c *gin.Context) {
	var ev detection.DetectionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.detections.Ingest(c.Request.Context(), ev)
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"status":       "ok",
		"detection_id": result.DetectionID,
		"duplicate":    result.Duplicate,
	})
}

func (h *Handler) getDetection(c *gin.Context) {
	ev, err := h.detections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(ev))
}

func (h *Handler) searchVehicles(c *gin.Context) {
	params := service.SearchParams{
		From:  optionalQuery(c, "time_start"),
		To:    optionalQuery(c, "time_end"),
		Plate: optionalQuery(c, "plate"),
		Make:  optionalQuery(c, "make"),
		Model: optionalQuery(c, "model"),
		Color: optionalQuery(c, "color"),
	}

	if booth := optionalQuery(c, "toll_booth_id"); booth != nil {
		id, err := parseInt(*booth)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("toll_booth_id must be an integer"))
			return
		}
		params.TollBoothID = &id
	}
	params.Limit, params.Offset = paging(c)

	events, err := h.detections.Search(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) plateHistory(c *gin.Context) {
	limit, offset := paging(c)
	events, err := h.detections.History(c.Request.Context(), c.Param("plate"), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, detection.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, detection.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		return &v
	}
	return nil
}

func paging(c *gin.Context) (limit, offset int) {
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
