package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"energymon"
	"energymon/internal/stream"
)

// phasePayload mirrors the per-phase object on the wire. Pointer fields keep
// the distinction between "reported as zero" and "not reported".
type phasePayload struct {
	V  *float64 `json:"v"`
	I  *float64 `json:"i"`
	P  *float64 `json:"p"`
	F  *float64 `json:"f"`
	Pf *float64 `json:"pf"`
}

// DecodeReading turns a raw stream message into a telemetry reading for the
// given device.
//
// Messages without device identity metadata or without a JSON object body
// yield a *DecodeError. Messages from a different device yield
// ErrForeignDevice. Phase objects live under keys "phase1".."phase7"; a
// phase key that is missing (or present with no fields) leaves its slot nil.
// Unknown keys are ignored. The capture timestamp comes from an RFC3339
// "timestamp" field, falling back to the message's receive time when the
// field is missing or null.
func DecodeReading(msg stream.Message, deviceID string) (*energymon.TelemetryReading, error) {
	if msg.DeviceID == "" {
		return nil, &DecodeError{Reason: "missing device identity metadata"}
	}
	if msg.DeviceID != deviceID {
		return nil, ErrForeignDevice
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		return nil, &DecodeError{Reason: "body is not a JSON object", Err: err}
	}

	reading := &energymon.TelemetryReading{
		DeviceID:   deviceID,
		CapturedAt: msg.ReceivedAt,
	}

	if raw, ok := fields["timestamp"]; ok {
		var ts time.Time
		if err := json.Unmarshal(raw, &ts); err != nil {
			return nil, &DecodeError{Reason: "invalid timestamp", Err: err}
		}
		// a JSON null unmarshals to the zero time without error; treat it
		// like a missing timestamp so the reading is not permanently stale
		if !ts.IsZero() {
			reading.CapturedAt = ts.UTC()
		}
	}

	for n := 1; n <= energymon.MaxPhases; n++ {
		raw, ok := fields[fmt.Sprintf("phase%d", n)]
		if !ok {
			continue
		}
		var p phasePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf("invalid phase%d object", n), Err: err}
		}
		if p.V == nil && p.I == nil && p.P == nil && p.F == nil && p.Pf == nil {
			// all fields omitted: the phase is absent, not zero
			continue
		}
		reading.Phases[n-1] = &energymon.PhaseReading{
			Voltage:     p.V,
			Current:     p.I,
			Power:       p.P,
			Frequency:   p.F,
			PowerFactor: p.Pf,
		}
	}

	return reading, nil
}
