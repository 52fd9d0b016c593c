package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"energymon/internal/registry"
)

// telemetryResponse is the polling-API view of a device's latest reading.
// Arrays are indexed by phase number minus one; a null entry means the phase
// was not reported. Power factor stays internal to the stored measurements.
type telemetryResponse struct {
	DeviceID    string     `json:"deviceId"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	IsConnected bool       `json:"isConnected"`
	Voltages    []*float64 `json:"voltages"`
	Currents    []*float64 `json:"currents"`
	Frequency   []*float64 `json:"frequency"`
	Power       []*float64 `json:"power"`
	Message     string     `json:"message,omitempty"`
}

// @Summary      Latest telemetry for a device
// @Description  Returns the most recent in-memory reading. Counts as query activity for idle eviction.
// @Tags         telemetry
// @Produce      json
// @Param        deviceId  query  string  false  "Device id (or use the path form)"
// @Success      200  {object}  telemetryResponse
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/telemetry [get]
// @Security     ApiKeyAuth
func (h *Handler) getTelemetry(c *gin.Context) {
	deviceID := c.Param("deviceId")
	if deviceID == "" {
		deviceID = c.Query("deviceId")
	}
	if deviceID == "" {
		deviceID = h.defaultDevice
	}
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
		return
	}

	snap, err := h.services.Devices.Telemetry(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errDeviceUnknown})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load telemetry", "telemetry_query_failed", err, "device", deviceID)
		return
	}

	c.JSON(http.StatusOK, telemetryFromSnapshot(snap))
}

func telemetryFromSnapshot(snap registry.Snapshot) telemetryResponse {
	resp := telemetryResponse{
		DeviceID:    snap.DeviceID,
		IsConnected: snap.Connected,
		Voltages:    []*float64{},
		Currents:    []*float64{},
		Frequency:   []*float64{},
		Power:       []*float64{},
	}
	if snap.Reading == nil {
		resp.Message = "no telemetry received yet"
		return resp
	}

	ts := snap.Reading.CapturedAt
	resp.Timestamp = &ts

	highest := 0
	for n, p := range snap.Reading.Phases {
		if p != nil {
			highest = n + 1
		}
	}
	for n := 0; n < highest; n++ {
		p := snap.Reading.Phases[n]
		if p == nil {
			// phase gap: keep index alignment with explicit nulls
			resp.Voltages = append(resp.Voltages, nil)
			resp.Currents = append(resp.Currents, nil)
			resp.Frequency = append(resp.Frequency, nil)
			resp.Power = append(resp.Power, nil)
			continue
		}
		resp.Voltages = append(resp.Voltages, p.Voltage)
		resp.Currents = append(resp.Currents, p.Current)
		resp.Frequency = append(resp.Frequency, p.Frequency)
		resp.Power = append(resp.Power, p.Power)
	}
	return resp
}
