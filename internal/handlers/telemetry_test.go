package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"energymon"
	"energymon/internal/registry"
	"energymon/internal/service"
)

func ptr(v float64) *float64 { return &v }

func snapshotWithReading() registry.Snapshot {
	reading := &energymon.TelemetryReading{
		DeviceID:   "meter-1",
		CapturedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	reading.Phases[0] = &energymon.PhaseReading{
		Voltage: ptr(230.5), Current: ptr(5.2), Power: ptr(1198.6), Frequency: ptr(50.0),
	}
	reading.Phases[2] = &energymon.PhaseReading{Voltage: ptr(228.9)}
	return registry.Snapshot{DeviceID: "meter-1", Reading: reading, Connected: true}
}

func TestGetTelemetry_PathAndQueryForms(t *testing.T) {
	dev := &mockDevices{snapshot: snapshotWithReading()}
	s := &service.Service{Devices: dev}
	r := newTestRouter(s, Config{})

	for _, target := range []string{"/api/telemetry/meter-1", "/api/telemetry?deviceId=meter-1"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status=%d, body=%s", target, w.Code, w.Body.String())
		}
		if dev.lastQueried != "meter-1" {
			t.Fatalf("%s: queried %q", target, dev.lastQueried)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telemetry/meter-1", nil)
	r.ServeHTTP(w, req)

	var resp telemetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.IsConnected || resp.Timestamp == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// arrays run to phase 3, the highest reported one; phase 2 is null
	if len(resp.Voltages) != 3 {
		t.Fatalf("voltages length: got %d, want 3", len(resp.Voltages))
	}
	if resp.Voltages[0] == nil || *resp.Voltages[0] != 230.5 {
		t.Errorf("phase1 voltage: %+v", resp.Voltages[0])
	}
	if resp.Voltages[1] != nil || resp.Currents[1] != nil {
		t.Errorf("phase2 must be null: %+v / %+v", resp.Voltages[1], resp.Currents[1])
	}
	if resp.Voltages[2] == nil || *resp.Voltages[2] != 228.9 {
		t.Errorf("phase3 voltage: %+v", resp.Voltages[2])
	}
	if resp.Currents[0] == nil || *resp.Currents[0] != 5.2 {
		t.Errorf("phase1 current: %+v", resp.Currents[0])
	}
}

func TestGetTelemetry_FallsBackToDefaultDevice(t *testing.T) {
	dev := &mockDevices{snapshot: registry.Snapshot{DeviceID: "fallback-1"}}
	s := &service.Service{Devices: dev}
	r := newTestRouter(s, Config{DefaultDevice: "fallback-1"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telemetry", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
	if dev.lastQueried != "fallback-1" {
		t.Fatalf("queried %q, want fallback-1", dev.lastQueried)
	}
}

func TestGetTelemetry_NoDeviceAnywhere(t *testing.T) {
	s := &service.Service{Devices: &mockDevices{}}
	r := newTestRouter(s, Config{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telemetry", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
}

func TestGetTelemetry_UnknownDevice(t *testing.T) {
	dev := &mockDevices{telemetryErr: registry.ErrDeviceNotFound}
	s := &service.Service{Devices: dev}
	r := newTestRouter(s, Config{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telemetry/ghost", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
}

func TestGetTelemetry_NoReadingYet(t *testing.T) {
	dev := &mockDevices{snapshot: registry.Snapshot{DeviceID: "meter-2"}}
	s := &service.Service{Devices: dev}
	r := newTestRouter(s, Config{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telemetry/meter-2", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}

	var resp telemetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.IsConnected || resp.Timestamp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Message != "no telemetry received yet" {
		t.Fatalf("message: got %q", resp.Message)
	}
	if len(resp.Voltages) != 0 {
		t.Fatalf("voltages must be empty, got %v", resp.Voltages)
	}
}
