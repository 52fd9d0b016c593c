package energymon

import "time"

// MaxPhases is the number of measurement channels a device may report.
const MaxPhases = 7

// PhaseReading holds one phase's electrical measurements. Fields are
// pointers because a device may omit any of them; nil means "not reported",
// which is distinct from a measured zero.
type PhaseReading struct {
	Voltage     *float64 `json:"v,omitempty"`  // volts
	Current     *float64 `json:"i,omitempty"`  // amperes
	Power       *float64 `json:"p,omitempty"`  // watts
	Frequency   *float64 `json:"f,omitempty"`  // hertz
	PowerFactor *float64 `json:"pf,omitempty"` // 0-1
}

// TelemetryReading is one decoded snapshot from a device. Phases is indexed
// by phase number minus one; a nil slot means the device did not report that
// phase at all.
type TelemetryReading struct {
	DeviceID   string                   `json:"device_id"`
	CapturedAt time.Time                `json:"captured_at"`
	Phases     [MaxPhases]*PhaseReading `json:"phases"`
}

// Phase returns the reading for phase n (1-based), or nil if absent.
func (r *TelemetryReading) Phase(n int) *PhaseReading {
	if n < 1 || n > MaxPhases {
		return nil
	}
	return r.Phases[n-1]
}

// DeviceInfo is the public view of a registered device.
type DeviceInfo struct {
	DeviceID     string    `json:"deviceId"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
	Status       string    `json:"status"`
	IsConnected  bool      `json:"isConnected"`
}

// Measurement is a persisted telemetry row served by the historical API.
type Measurement struct {
	ID           int64          `json:"id"`
	DeviceID     string         `json:"device_id"`
	EnqueuedTime time.Time      `json:"enqueued_time"`
	CreatedAt    time.Time      `json:"created_at"`
	Phases       []PhaseReading `json:"phases"`
}
