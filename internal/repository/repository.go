// Package repository persists telemetry measurements.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"energymon"
)

// ErrNotFound is returned when a query matches no measurement rows.
var ErrNotFound = errors.New("no measurements found")

// Measurements is the read/write contract of the measurement store.
type Measurements interface {
	Insert(ctx context.Context, m energymon.Measurement) (energymon.Measurement, error)
	Latest(ctx context.Context, deviceID string) (energymon.Measurement, error)
	Recent(ctx context.Context, deviceID string, since time.Time) ([]energymon.Measurement, error)
	Range(ctx context.Context, deviceID string, from, to time.Time) ([]energymon.Measurement, error)
}

// Repository bundles the store implementations behind their interfaces.
type Repository struct {
	Measurements Measurements
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{
		Measurements: NewMeasurementSQLite(conn),
	}
}
