package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/internal/service"
)

const maxPingBytes = 4 << 10

// PostLocation 定位上报
// POST /api/tracking/location
// 处理完成后返回 202 和本次的实时位置
func (h *Handler) PostLocation(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPingBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ping, err := service.ParsePing(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update, err := h.svc.ProcessLocation(c.Request.Context(), ping)
	if err != nil {
		h.writeError(c, err, "Failed to process location", zap.String("trip_id", ping.TripID))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": update})
}

type startRequest struct {
	Lat *float64 `json:"lat" binding:"omitempty,min=-90,max=90"`
	Lng *float64 `json:"lng" binding:"omitempty,min=-180,max=180"`
}

// StartTracking 开始跟踪
// POST /api/trips/:id/tracking/start
// 请求体可选，带坐标时作为第一条位置
func (h *Handler) StartTracking(c *gin.Context) {
	tripID := c.Param("id")

	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if (req.Lat == nil) != (req.Lng == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must be given together"})
		return
	}

	var initial *models.Fix
	if req.Lat != nil {
		initial = &models.Fix{Lat: *req.Lat, Lng: *req.Lng}
	}

	started, err := h.svc.StartTrip(c.Request.Context(), tripID, initial)
	if err != nil {
		h.writeError(c, err, "Failed to start tracking", zap.String("trip_id", tripID))
		return
	}

	h.logger.Info("Tracking started via API", zap.String("trip_id", tripID))
	c.JSON(http.StatusOK, gin.H{"data": started})
}

// EndTracking 结束跟踪
// POST /api/trips/:id/tracking/end
func (h *Handler) EndTracking(c *gin.Context) {
	tripID := c.Param("id")

	if err := h.svc.EndTrip(c.Request.Context(), tripID); err != nil {
		h.writeError(c, err, "Failed to end tracking", zap.String("trip_id", tripID))
		return
	}

	h.logger.Info("Tracking ended via API", zap.String("trip_id", tripID))
	c.JSON(http.StatusOK, gin.H{
		"message": "Tracking ended",
		"trip_id": tripID,
	})
}

// GetLive 获取行程当前位置
func (h *Handler) GetLive(c *gin.Context) {
	tripID := c.Param("id")

	view, err := h.svc.Live(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, err, "Failed to get live location", zap.String("trip_id", tripID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// GetNextStop 获取下一站
func (h *Handler) GetNextStop(c *gin.Context) {
	tripID := c.Param("id")

	view, err := h.svc.NextStop(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, err, "Failed to get next stop", zap.String("trip_id", tripID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// GetRemainingStops 获取剩余站点
func (h *Handler) GetRemainingStops(c *gin.Context) {
	tripID := c.Param("id")

	stops, err := h.svc.RemainingStops(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, err, "Failed to get remaining stops", zap.String("trip_id", tripID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  stops,
		"total": len(stops),
	})
}

// GetVisits 获取行程到离站记录
func (h *Handler) GetVisits(c *gin.Context) {
	tripID := c.Param("id")

	visits, err := h.svc.Visits(c.Request.Context(), tripID)
	if err != nil {
		h.writeError(c, err, "Failed to get stop visits", zap.String("trip_id", tripID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  visits,
		"total": len(visits),
	})
}

// GetAttendance 获取某天考勤
// GET /api/attendance?date=2026-03-02，不带 date 时取当天
func (h *Handler) GetAttendance(c *gin.Context) {
	date := c.Query("date")

	records, err := h.svc.Attendance(c.Request.Context(), date)
	if err != nil {
		h.writeError(c, err, "Failed to get attendance", zap.String("date", date))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  records,
		"total": len(records),
	})
}

// writeError 把业务错误映射为响应码，其余错误记录日志并返回 500
func (h *Handler) writeError(c *gin.Context, err error, msg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, service.ErrInvalidPing), errors.Is(err, service.ErrInvalidDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTripNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
	case errors.Is(err, service.ErrTripNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
