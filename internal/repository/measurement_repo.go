package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"energymon"
)

// MeasurementSQLite stores measurements in the wide 7-phase SQLite table.
type MeasurementSQLite struct {
	db *sql.DB
}

func NewMeasurementSQLite(db *sql.DB) *MeasurementSQLite {
	return &MeasurementSQLite{db: db}
}

const (
	phaseColumns = `v1, i1, p1, f1, pf1,
		v2, i2, p2, f2, pf2,
		v3, i3, p3, f3, pf3,
		v4, i4, p4, f4, pf4,
		v5, i5, p5, f5, pf5,
		v6, i6, p6, f6, pf6,
		v7, i7, p7, f7, pf7`

	insertMeasurementSQL = `
		INSERT INTO measurements (device_id, enqueued_time, created_at, ` + phaseColumns + `)
		VALUES (?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?)
	`

	selectMeasurementSQL = `
		SELECT id, device_id, enqueued_time, created_at, ` + phaseColumns + `
		FROM measurements
	`

	latestMeasurementSQL = selectMeasurementSQL + `
		WHERE device_id = ? ORDER BY enqueued_time DESC LIMIT 1
	`

	recentMeasurementsSQL = selectMeasurementSQL + `
		WHERE device_id = ? AND enqueued_time >= ? ORDER BY enqueued_time DESC
	`

	rangeMeasurementsSQL = selectMeasurementSQL + `
		WHERE device_id = ? AND enqueued_time >= ? AND enqueued_time <= ?
		ORDER BY enqueued_time ASC
	`
)

// Insert stores one measurement and returns it with its assigned id and
// creation time. Missing phases and fields are written as NULL, not zero.
func (r *MeasurementSQLite) Insert(ctx context.Context, m energymon.Measurement) (energymon.Measurement, error) {
	m.EnqueuedTime = m.EnqueuedTime.UTC()
	m.CreatedAt = time.Now().UTC()

	args := make([]any, 0, 3+energymon.MaxPhases*5)
	args = append(args, m.DeviceID, m.EnqueuedTime, m.CreatedAt)
	for n := 0; n < energymon.MaxPhases; n++ {
		var p energymon.PhaseReading
		if n < len(m.Phases) {
			p = m.Phases[n]
		}
		args = append(args,
			nullable(p.Voltage),
			nullable(p.Current),
			nullable(p.Power),
			nullable(p.Frequency),
			nullable(p.PowerFactor),
		)
	}

	res, err := r.db.ExecContext(ctx, insertMeasurementSQL, args...)
	if err != nil {
		return energymon.Measurement{}, err
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return m, nil
}

// Latest returns the most recent measurement for the device.
func (r *MeasurementSQLite) Latest(ctx context.Context, deviceID string) (energymon.Measurement, error) {
	row := r.db.QueryRowContext(ctx, latestMeasurementSQL, deviceID)
	m, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return energymon.Measurement{}, ErrNotFound
	}
	return m, err
}

// Recent returns measurements taken since the given time, newest first.
func (r *MeasurementSQLite) Recent(ctx context.Context, deviceID string, since time.Time) ([]energymon.Measurement, error) {
	return r.queryMeasurements(ctx, recentMeasurementsSQL, deviceID, since.UTC())
}

// Range returns measurements within [from, to], oldest first.
func (r *MeasurementSQLite) Range(ctx context.Context, deviceID string, from, to time.Time) ([]energymon.Measurement, error) {
	return r.queryMeasurements(ctx, rangeMeasurementsSQL, deviceID, from.UTC(), to.UTC())
}

func (r *MeasurementSQLite) queryMeasurements(ctx context.Context, query string, args ...any) ([]energymon.Measurement, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []energymon.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row scanner) (energymon.Measurement, error) {
	var (
		m      energymon.Measurement
		phases [energymon.MaxPhases][5]sql.NullFloat64
	)

	dest := make([]any, 0, 4+energymon.MaxPhases*5)
	dest = append(dest, &m.ID, &m.DeviceID, &m.EnqueuedTime, &m.CreatedAt)
	for n := range phases {
		for f := range phases[n] {
			dest = append(dest, &phases[n][f])
		}
	}
	if err := row.Scan(dest...); err != nil {
		return energymon.Measurement{}, err
	}

	m.EnqueuedTime = m.EnqueuedTime.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.Phases = buildPhases(phases)
	return m, nil
}

// buildPhases converts the scanned columns into the phase slice, trimmed to
// the highest phase that has any data. Gaps stay as empty readings so slice
// index keeps meaning phase number minus one.
func buildPhases(cols [energymon.MaxPhases][5]sql.NullFloat64) []energymon.PhaseReading {
	highest := 0
	out := make([]energymon.PhaseReading, energymon.MaxPhases)
	for n := range cols {
		v, i, p, f, pf := cols[n][0], cols[n][1], cols[n][2], cols[n][3], cols[n][4]
		if !v.Valid && !i.Valid && !p.Valid && !f.Valid && !pf.Valid {
			continue
		}
		out[n] = energymon.PhaseReading{
			Voltage:     floatPtr(v),
			Current:     floatPtr(i),
			Power:       floatPtr(p),
			Frequency:   floatPtr(f),
			PowerFactor: floatPtr(pf),
		}
		highest = n + 1
	}
	return out[:highest]
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
