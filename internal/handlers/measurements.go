package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"energymon"
	"energymon/internal/repository"
	"energymon/internal/service"
)

const (
	defaultRecentHours = 2

	errNoMeasurements  = "no measurements found"
	errSaveMeasurement = "failed to save measurement"
	errLoadMeasurement = "failed to load measurements"
)

// Request DTO for storing a measurement.
type measurementRequest struct {
	DeviceID     string                   `json:"device_id" binding:"required"`
	EnqueuedTime time.Time                `json:"enqueued_time" binding:"required"`
	Phases       []energymon.PhaseReading `json:"phases" binding:"required"`
}

// CreateMeasurementRequest is the exported model for Swagger docs.
type CreateMeasurementRequest struct {
	DeviceID     string                   `json:"device_id" example:"48:CA:43:36:71:04"`
	EnqueuedTime time.Time                `json:"enqueued_time" example:"2025-05-31T12:00:00Z"`
	Phases       []energymon.PhaseReading `json:"phases"`
}

// @Summary      Store a measurement
// @Description  Stores per-phase voltage, current, power, frequency and power factor (up to 7 phases).
// @Tags         measurements
// @Accept       json
// @Produce      json
// @Param        body  body  CreateMeasurementRequest  true  "Measurement payload"
// @Success      201  {object}  energymon.Measurement
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/measurements [post]
// @Security     ApiKeyAuth
func (h *Handler) createMeasurement(c *gin.Context) {
	var req measurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	m, err := h.services.Measurements.Create(c.Request.Context(), service.MeasurementInput{
		DeviceID:     req.DeviceID,
		EnqueuedTime: req.EnqueuedTime,
		Phases:       req.Phases,
	})
	if err != nil {
		if errors.Is(err, service.ErrMissingDeviceID) || errors.Is(err, service.ErrNoPhases) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errSaveMeasurement, "measurement_create_failed", err, "device", req.DeviceID)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// @Summary      Latest stored measurement
// @Tags         measurements
// @Produce      json
// @Param        deviceId  path  string  true  "Device id"
// @Success      200  {object}  energymon.Measurement
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/measurements/latest/{deviceId} [get]
// @Security     ApiKeyAuth
func (h *Handler) latestMeasurement(c *gin.Context) {
	deviceID := c.Param("deviceId")

	m, err := h.services.Measurements.Latest(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errNoMeasurements})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadMeasurement, "measurement_latest_failed", err, "device", deviceID)
		return
	}
	c.JSON(http.StatusOK, m)
}

// @Summary      Measurements from the last N hours
// @Tags         measurements
// @Produce      json
// @Param        deviceId  path   string  true   "Device id"
// @Param        hours     query  int     false  "Look-back window in hours (default 2)"
// @Success      200  {array}   energymon.Measurement
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/measurements/recent/{deviceId} [get]
// @Security     ApiKeyAuth
func (h *Handler) recentMeasurements(c *gin.Context) {
	deviceID := c.Param("deviceId")

	hours := defaultRecentHours
	if qs := c.Query("hours"); qs != "" {
		v, err := strconv.Atoi(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hours parameter"})
			return
		}
		hours = v
	}

	ms, err := h.services.Measurements.Recent(c.Request.Context(), deviceID, hours)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidHours):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errNoMeasurements})
		default:
			h.logAndJSONError(c, http.StatusInternalServerError, errLoadMeasurement, "measurement_recent_failed", err, "device", deviceID)
		}
		return
	}
	c.JSON(http.StatusOK, ms)
}

// @Summary      Measurements in a time range
// @Tags         measurements
// @Produce      json
// @Param        deviceId    path   string  true  "Device id"
// @Param        start_time  query  string  true  "Range start (RFC3339)"
// @Param        end_time    query  string  true  "Range end (RFC3339)"
// @Success      200  {array}   energymon.Measurement
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/measurements/range/{deviceId} [get]
// @Security     ApiKeyAuth
func (h *Handler) rangeMeasurements(c *gin.Context) {
	deviceID := c.Param("deviceId")

	from, err := time.Parse(time.RFC3339, c.Query("start_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time; use RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("end_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_time; use RFC3339"})
		return
	}

	ms, err := h.services.Measurements.RangeQuery(c.Request.Context(), deviceID, from, to)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTimeRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errNoMeasurements})
		default:
			h.logAndJSONError(c, http.StatusInternalServerError, errLoadMeasurement, "measurement_range_failed", err, "device", deviceID)
		}
		return
	}
	c.JSON(http.StatusOK, ms)
}
