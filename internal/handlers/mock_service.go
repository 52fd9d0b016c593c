package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"energymon"
	"energymon/internal/registry"
	"energymon/internal/service"
)

// ---- Service Mocks ----

type mockDevices struct {
	registerResult service.RegistrationResult
	registerErr    error
	unregisterErr  error
	devices        []energymon.DeviceInfo
	snapshot       registry.Snapshot
	telemetryErr   error

	lastRegistered   string
	lastUnregistered string
	lastQueried      string
}

func (m *mockDevices) Register(_ context.Context, deviceID string) (service.RegistrationResult, error) {
	m.lastRegistered = deviceID
	return m.registerResult, m.registerErr
}

func (m *mockDevices) Unregister(_ context.Context, deviceID string) error {
	m.lastUnregistered = deviceID
	return m.unregisterErr
}

func (m *mockDevices) List(_ context.Context) []energymon.DeviceInfo {
	return m.devices
}

func (m *mockDevices) Telemetry(_ context.Context, deviceID string) (registry.Snapshot, error) {
	m.lastQueried = deviceID
	return m.snapshot, m.telemetryErr
}

type mockMeasurements struct {
	created   energymon.Measurement
	createErr error
	latest    energymon.Measurement
	latestErr error
	list      []energymon.Measurement
	listErr   error

	lastInput service.MeasurementInput
	lastHours int
	lastFrom  time.Time
	lastTo    time.Time
}

func (m *mockMeasurements) Create(_ context.Context, in service.MeasurementInput) (energymon.Measurement, error) {
	m.lastInput = in
	return m.created, m.createErr
}

func (m *mockMeasurements) Latest(_ context.Context, _ string) (energymon.Measurement, error) {
	return m.latest, m.latestErr
}

func (m *mockMeasurements) Recent(_ context.Context, _ string, hours int) ([]energymon.Measurement, error) {
	m.lastHours = hours
	return m.list, m.listErr
}

func (m *mockMeasurements) RangeQuery(_ context.Context, _ string, from, to time.Time) ([]energymon.Measurement, error) {
	m.lastFrom, m.lastTo = from, to
	return m.list, m.listErr
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service, cfg Config) *gin.Engine {
	h := NewHandler(s, nil, nil, cfg)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func keyHeader(key string) http.Header {
	h := http.Header{}
	if key != "" {
		h.Set(APIKeyHeader, key)
	}
	return h
}
