// Package service holds the application services between the HTTP layer and
// the registry/repository.
package service

import (
	"context"
	"time"

	"energymon"
	"energymon/internal/registry"
	"energymon/internal/repository"
)

// Devices exposes the device lifecycle operations backed by the registry.
type Devices interface {
	Register(ctx context.Context, deviceID string) (RegistrationResult, error)
	Unregister(ctx context.Context, deviceID string) error
	List(ctx context.Context) []energymon.DeviceInfo
	Telemetry(ctx context.Context, deviceID string) (registry.Snapshot, error)
}

// Measurements exposes the historical measurement API.
type Measurements interface {
	Create(ctx context.Context, in MeasurementInput) (energymon.Measurement, error)
	Latest(ctx context.Context, deviceID string) (energymon.Measurement, error)
	Recent(ctx context.Context, deviceID string, hours int) ([]energymon.Measurement, error)
	RangeQuery(ctx context.Context, deviceID string, from, to time.Time) ([]energymon.Measurement, error)
}

// Service aggregates all sub-services.
type Service struct {
	Devices
	Measurements
}

// NewService wires the registry and repository into concrete services.
func NewService(reg *registry.Registry, repos *repository.Repository) *Service {
	return &Service{
		Devices:      NewDeviceService(reg),
		Measurements: NewMeasurementService(repos.Measurements),
	}
}
