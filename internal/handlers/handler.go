package handlers

import (
	"sirenlink/internal/logger"
	"sirenlink/internal/metrics"
	"sirenlink/internal/realtime"
	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services, realtime hub and logging.
type Handler struct {
	services *service.Service
	hub      *realtime.Hub
	origins  []string
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies. hub may be nil,
// in which case /ws only greets and answers pings.
func NewHandler(services *service.Service, hub *realtime.Hub, allowedOrigins []string, log *logger.Logger) *Handler {
	return &Handler{services: services, hub: hub, origins: allowedOrigins, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Realtime device events over WebSocket on the same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.callerMiddleware)
	{
		h.registerMQTTRoutes(api)
		h.registerDeviceRoutes(api)
		h.registerLogRoutes(api)
		h.registerSirenRoutes(api)
		api.POST("/users", h.createUser)
	}
}

func (h *Handler) registerMQTTRoutes(api *gin.RouterGroup) {
	mqtt := api.Group("/mqtt")
	{
		mqtt.GET("/health", h.mqttHealth)
		mqtt.GET("/state", h.listStates)
		mqtt.GET("/state/:deviceId", h.getDeviceState)
	}
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	devices := api.Group("/devices")
	{
		// Body example: {"action":"ON","ttlMs":60000,"cause":"manual"}
		devices.POST("/:deviceId/cmd", h.sendCommand)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	api.GET("/activation-logs", h.getActivationLogs)
}

func (h *Handler) registerSirenRoutes(api *gin.RouterGroup) {
	sirens := api.Group("/sirens")
	{
		sirens.POST("", h.createSiren)
		sirens.GET("", h.listSirens)
		sirens.POST("/:deviceId/assignments", h.assignSiren)
	}
}
