// Package handlers wires the HTTP surface to the application services.
package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"energymon/internal/logger"
	"energymon/internal/service"
)

// Handler wires the HTTP layer to services and logging.
type Handler struct {
	services      *service.Service
	log           *logger.Logger
	db            *sql.DB
	apiKey        string
	defaultDevice string
}

// Config carries the handler-level settings read from the config file.
type Config struct {
	APIKey        string
	DefaultDevice string
}

// NewHandler constructs the HTTP handler with its dependencies. db may be
// nil; the health endpoint then skips the database probe.
func NewHandler(services *service.Service, log *logger.Logger, db *sql.DB, cfg Config) *Handler {
	return &Handler{
		services:      services,
		log:           log,
		db:            db,
		apiKey:        cfg.APIKey,
		defaultDevice: cfg.DefaultDevice,
	}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Live telemetry over WebSocket; the API key travels as ?api_key=.
	router.GET("/ws", h.apiKeyMiddleware, h.wsTelemetry)

	api := router.Group("/api", h.apiKeyMiddleware)
	{
		h.registerDeviceRoutes(api)
		h.registerMeasurementRoutes(api)
	}

	return router
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	api.POST("/register-device", h.registerDevice)
	api.DELETE("/unregister-device/:deviceId", h.unregisterDevice)
	api.GET("/devices", h.listDevices)
	api.GET("/telemetry", h.getTelemetry)
	api.GET("/telemetry/:deviceId", h.getTelemetry)
}

func (h *Handler) registerMeasurementRoutes(api *gin.RouterGroup) {
	measurements := api.Group("/v1/measurements")
	{
		measurements.POST("", h.createMeasurement)
		measurements.GET("/latest/:deviceId", h.latestMeasurement)
		measurements.GET("/recent/:deviceId", h.recentMeasurements)
		measurements.GET("/range/:deviceId", h.rangeMeasurements)
	}
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.db != nil {
		if err := h.db.PingContext(c.Request.Context()); err != nil {
			h.logAndJSONError(c, http.StatusServiceUnavailable, "database unreachable", "health_db_ping_failed", err)
			return
		}
		resp["database"] = "connected"
	}
	c.JSON(http.StatusOK, resp)
}
