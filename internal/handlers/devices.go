package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"energymon/internal/registry"
	"energymon/internal/service"
)

const (
	statusUnregistered = "unregistered"

	errRegisterDevice   = "failed to register device"
	errUnregisterDevice = "failed to unregister device"
	errDeviceUnknown    = "device not registered"
)

// Request DTO for device registration.
type registerRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

// RegisterDeviceRequest is the exported model for Swagger docs.
type RegisterDeviceRequest struct {
	// Stable device identifier, e.g. a MAC address
	DeviceID string `json:"deviceId" example:"48:CA:43:36:71:04"`
}

// @Summary      Register a device
// @Description  Opens a telemetry subscription for the device. Idempotent.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterDeviceRequest  true  "Device payload"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/register-device [post]
// @Security     ApiKeyAuth
func (h *Handler) registerDevice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: deviceId is required"})
		return
	}

	result, err := h.services.Devices.Register(c.Request.Context(), req.DeviceID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDeviceID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errRegisterDevice, "device_register_failed", err, "device", req.DeviceID)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary      Unregister a device
// @Tags         devices
// @Produce      json
// @Param        deviceId  path  string  true  "Device id"
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/unregister-device/{deviceId} [delete]
// @Security     ApiKeyAuth
func (h *Handler) unregisterDevice(c *gin.Context) {
	deviceID := c.Param("deviceId")

	if err := h.services.Devices.Unregister(c.Request.Context(), deviceID); err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errDeviceUnknown})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errUnregisterDevice, "device_unregister_failed", err, "device", deviceID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deviceId": deviceID, "status": statusUnregistered})
}

// @Summary      List registered devices
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "devices, defaultDevice"
// @Failure      401  {object}  map[string]string
// @Router       /api/devices [get]
// @Security     ApiKeyAuth
func (h *Handler) listDevices(c *gin.Context) {
	devices := h.services.Devices.List(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"devices":       devices,
		"defaultDevice": h.defaultDevice,
	})
}
