package service

import (
	"context"
	"errors"
	"time"

	"energymon"
	"energymon/internal/repository"
)

// Validation errors surfaced to handlers as 400s.
var (
	ErrMissingDeviceID  = errors.New("device_id is required")
	ErrNoPhases         = errors.New("at least one phase is required")
	ErrInvalidHours     = errors.New("hours must be greater than 0")
	ErrInvalidTimeRange = errors.New("end time must be after start time")
)

// MeasurementInput is the create-measurement request payload.
type MeasurementInput struct {
	DeviceID     string
	EnqueuedTime time.Time
	Phases       []energymon.PhaseReading
}

// MeasurementService validates queries and delegates to the store.
type MeasurementService struct {
	repo repository.Measurements
}

func NewMeasurementService(repo repository.Measurements) *MeasurementService {
	return &MeasurementService{repo: repo}
}

// Create stores a measurement submitted over HTTP. Phases beyond the
// supported maximum are discarded, matching the storage layout.
func (s *MeasurementService) Create(ctx context.Context, in MeasurementInput) (energymon.Measurement, error) {
	if in.DeviceID == "" {
		return energymon.Measurement{}, ErrMissingDeviceID
	}
	if len(in.Phases) == 0 {
		return energymon.Measurement{}, ErrNoPhases
	}
	phases := in.Phases
	if len(phases) > energymon.MaxPhases {
		phases = phases[:energymon.MaxPhases]
	}

	enqueued := in.EnqueuedTime
	if enqueued.IsZero() {
		enqueued = time.Now()
	}

	return s.repo.Insert(ctx, energymon.Measurement{
		DeviceID:     in.DeviceID,
		EnqueuedTime: enqueued.UTC(),
		Phases:       phases,
	})
}

// Latest returns the most recent stored measurement for the device.
func (s *MeasurementService) Latest(ctx context.Context, deviceID string) (energymon.Measurement, error) {
	return s.repo.Latest(ctx, deviceID)
}

// Recent returns measurements from the last N hours, newest first.
func (s *MeasurementService) Recent(ctx context.Context, deviceID string, hours int) ([]energymon.Measurement, error) {
	if hours <= 0 {
		return nil, ErrInvalidHours
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return s.repo.Recent(ctx, deviceID, since)
}

// RangeQuery returns measurements within [from, to], oldest first.
func (s *MeasurementService) RangeQuery(ctx context.Context, deviceID string, from, to time.Time) ([]energymon.Measurement, error) {
	if !from.Before(to) {
		return nil, ErrInvalidTimeRange
	}
	return s.repo.Range(ctx, deviceID, from.UTC(), to.UTC())
}

// TelemetrySink adapts the measurement store to the registry's persistence
// contract. Used by device subscriptions for fire-and-forget writes.
type TelemetrySink struct {
	repo repository.Measurements
}

func NewTelemetrySink(repo repository.Measurements) *TelemetrySink {
	return &TelemetrySink{repo: repo}
}

// InsertMeasurement persists one decoded reading.
func (s *TelemetrySink) InsertMeasurement(ctx context.Context, r *energymon.TelemetryReading) error {
	_, err := s.repo.Insert(ctx, energymon.Measurement{
		DeviceID:     r.DeviceID,
		EnqueuedTime: r.CapturedAt,
		Phases:       phasesFromReading(r),
	})
	return err
}

// phasesFromReading flattens the fixed-slot reading into the slice form the
// store takes, trimmed to the highest present phase.
func phasesFromReading(r *energymon.TelemetryReading) []energymon.PhaseReading {
	highest := 0
	out := make([]energymon.PhaseReading, energymon.MaxPhases)
	for n, p := range r.Phases {
		if p == nil {
			continue
		}
		out[n] = *p
		highest = n + 1
	}
	return out[:highest]
}
