package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/metrics"
	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/internal/service"
	"github.com/langchou/tripgazer/pkg/ws"
)

type trackingService interface {
	ProcessLocation(ctx context.Context, ping *models.Ping) (*models.LocationUpdate, error)
	StartTrip(ctx context.Context, tripID string, initial *models.Fix) (*service.TrackingStarted, error)
	EndTrip(ctx context.Context, tripID string) error
	Live(ctx context.Context, tripID string) (*service.LiveView, error)
	NextStop(ctx context.Context, tripID string) (*service.NextStopView, error)
	RemainingStops(ctx context.Context, tripID string) ([]models.RouteStop, error)
	History(ctx context.Context, tripID string, limit int) ([]models.HistoryPoint, error)
	Visits(ctx context.Context, tripID string) ([]models.StopVisit, error)
	Attendance(ctx context.Context, date string) ([]models.AttendanceRecord, error)
	OnlineLocations(ctx context.Context) ([]models.LiveLocation, error)
	PingCache(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	svc      trackingService
	db       pinger
	wsHub    *ws.Hub
	metrics  *metrics.Collector
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	svc trackingService,
	db pinger,
	wsHub *ws.Hub,
	m *metrics.Collector,
) *Handler {
	return &Handler{
		logger:  logger,
		svc:     svc,
		db:      db,
		wsHub:   wsHub,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 定位上报
		api.POST("/tracking/location", h.PostLocation)

		// 行程跟踪
		api.POST("/trips/:id/tracking/start", h.StartTracking)
		api.POST("/trips/:id/tracking/end", h.EndTracking)
		api.GET("/trips/:id/live", h.GetLive)
		api.GET("/trips/:id/next-stop", h.GetNextStop)
		api.GET("/trips/:id/remaining-stops", h.GetRemainingStops)
		api.GET("/trips/:id/history.geojson", h.GetHistoryGeoJSON)
		api.GET("/trips/:id/visits", h.GetVisits)

		// 考勤
		api.GET("/attendance", h.GetAttendance)

		// 对外数据
		api.GET("/feeds/vehicle-positions", h.GetVehiclePositions)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
}

// HandleWebSocket WebSocket 处理
// 初始订阅来自查询参数：?trip=42&vehicle=7&admin=1，trip 和 vehicle 可重复
func (h *Handler) HandleWebSocket(c *gin.Context) {
	topics := subscriptionTopics(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, topics...)
	h.metrics.Sockets(h.wsHub.ClientCount())

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

func subscriptionTopics(c *gin.Context) []string {
	var topics []string
	for _, id := range c.QueryArray("trip") {
		if id != "" {
			topics = append(topics, models.TripTopic(id))
		}
	}
	for _, id := range c.QueryArray("vehicle") {
		if id != "" {
			topics = append(topics, models.VehicleTopic(id))
		}
	}
	if c.Query("admin") == "1" || c.Query("admin") == "true" {
		topics = append(topics, models.AdminTopic)
	}
	return topics
}

// HealthCheck 健康检查，数据库不可用时返回 503，缓存不可用只降级
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	body := gin.H{
		"status":     "ok",
		"database":   "ok",
		"cache":      "ok",
		"ws_clients": h.wsHub.ClientCount(),
	}

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Database health check failed", zap.Error(err))
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["database"] = err.Error()
	}
	if err := h.svc.PingCache(ctx); err != nil {
		h.logger.Warn("Cache health check failed", zap.Error(err))
		if status == http.StatusOK {
			body["status"] = "degraded"
		}
		body["cache"] = err.Error()
	}

	c.JSON(status, body)
}
