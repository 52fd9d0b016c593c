package service

import (
	"context"
	"errors"
	"strings"

	"energymon"
	"energymon/internal/registry"
)

// ErrInvalidDeviceID rejects registration requests with unusable ids.
// Handlers map it to 400.
var ErrInvalidDeviceID = errors.New("device id must be 1-64 characters without whitespace")

const maxDeviceIDLen = 64

// RegistrationResult is what a register call reports back to the caller.
type RegistrationResult struct {
	DeviceID string `json:"deviceId"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// DeviceService validates device ids and delegates to the registry.
type DeviceService struct {
	reg *registry.Registry
}

func NewDeviceService(reg *registry.Registry) *DeviceService {
	return &DeviceService{reg: reg}
}

func validDeviceID(id string) bool {
	if id == "" || len(id) > maxDeviceIDLen {
		return false
	}
	return !strings.ContainsAny(id, " \t\r\n")
}

// Register opens a telemetry subscription for the device. Registering an
// already-registered id is idempotent.
func (s *DeviceService) Register(_ context.Context, deviceID string) (RegistrationResult, error) {
	if !validDeviceID(deviceID) {
		return RegistrationResult{}, ErrInvalidDeviceID
	}

	status := s.reg.Register(deviceID)
	msg := "device registration started"
	if status == registry.StatusRegistered {
		msg = "device already registered"
	}
	return RegistrationResult{DeviceID: deviceID, Status: status, Message: msg}, nil
}

// Unregister closes the device's subscription and removes it.
func (s *DeviceService) Unregister(_ context.Context, deviceID string) error {
	return s.reg.Unregister(deviceID)
}

// List returns all registered devices ordered by registration time.
func (s *DeviceService) List(_ context.Context) []energymon.DeviceInfo {
	return s.reg.List()
}

// Telemetry returns the device's current reading and connection state.
func (s *DeviceService) Telemetry(_ context.Context, deviceID string) (registry.Snapshot, error) {
	return s.reg.Telemetry(deviceID)
}
