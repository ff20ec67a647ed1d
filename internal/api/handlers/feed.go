package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/feed"
)

const (
	defaultHistoryLimit = 1000
	maxHistoryLimit     = 10000
)

// GetHistoryGeoJSON 历史轨迹
// GET /api/trips/:id/history.geojson?limit=1000
func (h *Handler) GetHistoryGeoJSON(c *gin.Context) {
	tripID := c.Param("id")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	points, err := h.svc.History(c.Request.Context(), tripID, limit)
	if err != nil {
		h.writeError(c, err, "Failed to list history", zap.String("trip_id", tripID))
		return
	}

	body, err := feed.HistoryCollection(tripID, points).MarshalJSON()
	if err != nil {
		h.logger.Error("Failed to encode history", zap.String("trip_id", tripID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode history"})
		return
	}

	c.Data(http.StatusOK, "application/geo+json", body)
}

// GetVehiclePositions 在线行程的 GTFS-Realtime 车辆位置
// GET /api/feeds/vehicle-positions，?format=text 输出可读文本
func (h *Handler) GetVehiclePositions(c *gin.Context) {
	locs, err := h.svc.OnlineLocations(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list online locations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list online locations"})
		return
	}

	text := c.Query("format") == "text"
	body, err := feed.Marshal(feed.VehiclePositions(locs, time.Now()), text)
	if err != nil {
		h.logger.Error("Failed to encode feed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode feed"})
		return
	}

	contentType := "application/x-protobuf"
	if text {
		contentType = "text/plain; charset=utf-8"
	}
	c.Data(http.StatusOK, contentType, body)
}
