package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/config"
	"github.com/rescuelink/backend/internal/auth"
	"github.com/rescuelink/backend/internal/cache"
	"github.com/rescuelink/backend/internal/database"
	"github.com/rescuelink/backend/internal/eventbus"
	"github.com/rescuelink/backend/internal/handlers"
	"github.com/rescuelink/backend/internal/logger"
	"github.com/rescuelink/backend/internal/metrics"
	"github.com/rescuelink/backend/internal/middleware"
	"github.com/rescuelink/backend/internal/relay"
	"github.com/rescuelink/backend/internal/repository"
	"github.com/rescuelink/backend/internal/tracking"
	"github.com/rescuelink/backend/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "rescuelink")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New(nil)
	if err != nil {
		logr.Fatal("failed to register metrics", zap.Error(err))
	}

	// Connect to database
	db, err := database.NewPostgresDB(ctx, cfg.GetDSN())
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db.DB, logr); err != nil {
		logr.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis carries every domain event, so it is required.
	redisClient, err := cache.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	bus := eventbus.NewBus(redisClient, logr, m)

	// Initialize services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	ambulanceRepo := repository.NewAmbulanceRepository(db)
	dispatchRepo := repository.NewDispatchRepository(db)

	var lease tracking.Lease
	if cfg.Tracking.UseDistributedLock {
		lease = redisClient
	}
	simulator := tracking.NewSimulator(ambulanceRepo, dispatchRepo, bus, lease, logr, m, tracking.Options{
		TickInterval:    cfg.Tracking.TickInterval,
		AssumedSpeedKmh: cfg.Tracking.AssumedSpeedKmh,
		OnSceneDuration: cfg.Tracking.OnSceneDuration,
		LeaseTTL:        cfg.Tracking.LeaseTTL,
		TopPriorityType: cfg.Tracking.TopPriorityType,
		InstanceID:      cfg.Server.InstanceID,
	})

	// Dashboard gateway
	hub := websocket.NewHub(bus, logr, m, websocket.HubOptions{
		ClientMessagesPerSec: cfg.WebSocket.ClientMessagesPerSec,
		SendBufferSize:       cfg.WebSocket.SendBufferSize,
	})
	if err := hub.Start(ctx); err != nil {
		logr.Fatal("failed to start dashboard gateway", zap.Error(err))
	}

	wsOrigins := cfg.CORS.AllowedOrigins
	if cfg.WebSocket.AllowAllOriginsInDev && !cfg.IsProduction() {
		wsOrigins = nil
	}
	wsHandler := websocket.NewHandler(hub, jwtService, wsOrigins, logr)

	// Audio relay
	audioRelay := relay.New(bus, logr, m)
	relayHandler := relay.NewHandler(audioRelay, jwtService, wsOrigins, cfg.WebSocket.SendBufferSize, logr)

	// Initialize handlers
	dispatchHandler := handlers.NewDispatchHandler(simulator, dispatchRepo, bus, logr)
	ambulanceHandler := handlers.NewAmbulanceHandler(ambulanceRepo, logr)
	eventsHandler := handlers.NewEventsHandler(bus, logr)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitRequestsPerSec, redisClient, logr)
	rateLimiter.Cleanup(ctx)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logr))
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		hctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{"status": "ok", "instance": cfg.Server.InstanceID}
		code := http.StatusOK
		if err := db.PingContext(hctx); err != nil {
			status["status"], status["database"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(hctx); err != nil {
			status["status"], status["redis"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Real-time endpoints authenticate through query tokens
	router.GET("/ws", wsHandler.HandleWebSocket)
	router.GET("/media-stream", relayHandler.HandleMediaStream)
	router.GET("/api/v1/calls/:callSid/listen", relayHandler.HandleListen)

	// Protected routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtService), middleware.RateLimitMiddleware(rateLimiter))
	{
		api.GET("/calls/active", relayHandler.ListActive)
		api.GET("/ws/stats", wsHandler.Stats)

		api.GET("/ambulances", ambulanceHandler.ListAmbulances)
		api.GET("/ambulances/:id/track", ambulanceHandler.GetTrack)

		api.GET("/dispatches", dispatchHandler.ListActive)
		dispatches := api.Group("/dispatches", middleware.RequireRole("dispatcher", "supervisor"))
		{
			dispatches.POST("", dispatchHandler.CreateDispatch)
			dispatches.POST("/:id/assign", dispatchHandler.AssignAmbulance)
			dispatches.POST("/:id/cancel", dispatchHandler.CancelDispatch)
		}

		api.POST("/operators/status", middleware.RequireRole("operator"), eventsHandler.UpdateOperatorStatus)
		api.POST("/notices", middleware.RequireRole("supervisor"), eventsHandler.PublishNotice)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Server.Env),
			zap.String("instance_id", cfg.Server.InstanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", zap.Error(err))
	}

	simulator.StopAll()
	if err := bus.Close(); err != nil {
		logr.Warn("event bus close", zap.Error(err))
	}
}
