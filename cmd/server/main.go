package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/tripgazer/internal/api/handlers"
	"github.com/langchou/tripgazer/internal/broadcast"
	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/config"
	"github.com/langchou/tripgazer/internal/ingest"
	"github.com/langchou/tripgazer/internal/metrics"
	"github.com/langchou/tripgazer/internal/repository"
	"github.com/langchou/tripgazer/internal/service"
	"github.com/langchou/tripgazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Tripgazer", zap.String("port", cfg.ServerPort), zap.String("cache", cfg.CacheBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 缓存
	store, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create cache", zap.Error(err))
	}
	defer store.Close()

	m := metrics.New()

	// WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetDropHandler(m.Dropped)
	go wsHub.Run(ctx)

	// 事件外发
	fanout := broadcast.NewFanout(wsHub, logger, m, newSinks(cfg, logger)...)
	defer fanout.Close()

	stores := service.Stores{
		Trips:      repository.NewTripRepository(db),
		Stops:      repository.NewRouteStopRepository(db),
		Riders:     repository.NewRiderRepository(db),
		Live:       repository.NewLiveLocationRepository(db),
		Visits:     repository.NewStopVisitRepository(db),
		Attendance: repository.NewAttendanceRepository(db),
		History:    repository.NewTrackingPointRepository(db),
	}

	opts := service.OptionsFromConfig(cfg)
	trackingService := service.NewTrackingService(opts, logger, store, stores, fanout, service.MatchingAuthorizer{}, m)

	// 离线扫描
	sweeper := service.NewSweeper(opts, logger, store, stores.Live, fanout, m)
	sweeper.Start(ctx)

	// MQTT 定位订阅（可选）
	var subscriber *ingest.LocationSubscriber
	if cfg.MQTTBroker != "" {
		client, err := config.DialMQTT(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect MQTT broker", zap.Error(err))
		}
		defer client.Disconnect(250)

		subscriber = ingest.NewLocationSubscriber(client, cfg.MQTTTopic, trackingService, logger)
		if err := subscriber.Start(); err != nil {
			logger.Fatal("Failed to subscribe location topic", zap.Error(err))
		}
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, trackingService, db, wsHub, m)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 先停止接收定位，再停后台任务
	if subscriber != nil {
		subscriber.Stop()
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	sweeper.Stop()
	cancel()

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// newCache 按配置创建缓存，Redis 暂时不可用时照常启动，请求走数据库降级
func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	if cfg.CacheBackend == "memory" {
		logger.Info("Using in-process cache", zap.Int("size", cfg.CacheSize))
		return cache.NewMemory(cfg.CacheSize), nil
	}

	rc, err := cache.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		logger.Warn("Redis not reachable at startup, continuing with database fallback", zap.Error(err))
	}
	return rc, nil
}

// newSinks 配置了 AMQP/NATS 时创建对应的事件出口
func newSinks(cfg *config.Config, logger *zap.Logger) []broadcast.Sink {
	var sinks []broadcast.Sink

	if cfg.AMQPURL != "" {
		conn, err := config.DialAMQP(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect AMQP", zap.Error(err))
		}
		sink, err := broadcast.NewAMQPSink(conn)
		if err != nil {
			logger.Fatal("Failed to create AMQP sink", zap.Error(err))
		}
		sinks = append(sinks, sink)
		logger.Info("Forwarding events to AMQP", zap.String("exchange", broadcast.AMQPExchange))
	}

	if cfg.NATSURL != "" {
		nc, err := config.DialNATS(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect NATS", zap.Error(err))
		}
		sinks = append(sinks, broadcast.NewNATSSink(nc))
		logger.Info("Forwarding events to NATS", zap.String("prefix", broadcast.NATSSubjectPrefix))
	}

	return sinks
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
