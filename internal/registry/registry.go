// Package registry is the device telemetry lifecycle manager. It maps device
// ids to live upstream subscriptions, serves the latest reading per device,
// and reclaims subscriptions that nobody queries.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"energymon"
	"energymon/internal/logger"
	"energymon/internal/metrics"
	"energymon/internal/stream"
)

// Registration statuses reported to callers.
const (
	StatusRegistering = "registering"
	StatusRegistered  = "registered"
)

const (
	DefaultSweepInterval     = 60 * time.Second
	DefaultInactivityTimeout = 3600 * time.Second
)

// Options tunes the idle reaper.
type Options struct {
	SweepInterval     time.Duration
	InactivityTimeout time.Duration
}

func (o *Options) fillDefaults() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
}

// Snapshot is the result of a telemetry query. Reading is nil while the
// device has not delivered any event yet.
type Snapshot struct {
	DeviceID  string
	Reading   *energymon.TelemetryReading
	Connected bool
}

// entry pairs a device's subscription with its registry bookkeeping. The
// subscription is owned exclusively by the entry; closing it through the
// unregister/evict path is the only way upstream resources are released.
type entry struct {
	deviceID     string
	registeredAt time.Time
	sub          *subscription

	mu            sync.Mutex
	lastQueriedAt time.Time
}

// lastQueried returns the eviction baseline: registration time until the
// first query, then the latest query time.
func (e *entry) lastQueried() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastQueriedAt
}

// touch advances lastQueriedAt; it never moves backwards.
func (e *entry) touch(now time.Time) {
	e.mu.Lock()
	if now.After(e.lastQueriedAt) {
		e.lastQueriedAt = now
	}
	e.mu.Unlock()
}

// Registry is the process-wide device table. The table mutex orders
// membership changes; each entry serializes its own bookkeeping.
type Registry struct {
	source stream.Source
	sink   Sink
	log    *logger.Logger
	met    *metrics.Metrics
	opts   Options

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds an empty registry. The sink may be nil when persistence is
// disabled.
func New(source stream.Source, sink Sink, log *logger.Logger, met *metrics.Metrics, opts Options) *Registry {
	opts.fillDefaults()
	return &Registry{
		source:  source,
		sink:    sink,
		log:     log,
		met:     met,
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// Register creates an entry for the device and opens its upstream
// subscription. Registering an already-registered id is not an error: the
// existing entry is left untouched and StatusRegistered is returned, without
// opening a second subscription.
func (r *Registry) Register(deviceID string) string {
	now := time.Now().UTC()

	r.mu.Lock()
	if _, ok := r.entries[deviceID]; ok {
		r.mu.Unlock()
		return StatusRegistered
	}
	e := &entry{
		deviceID:      deviceID,
		registeredAt:  now,
		lastQueriedAt: now,
		sub:           newSubscription(deviceID, r.source, r.sink, r.log, r.met),
	}
	// start before the entry is visible: a concurrent unregister or sweep
	// must never close a subscription whose loop has not launched yet
	e.sub.start()
	r.entries[deviceID] = e
	r.mu.Unlock()

	r.met.RegisteredDevices.Inc()
	r.log.Infow("device_registered", "device", deviceID, "sub", e.sub.id)
	return StatusRegistering
}

// Unregister removes the entry and closes its subscription. Of two
// concurrent calls exactly one wins; the loser gets ErrDeviceNotFound.
func (r *Registry) Unregister(deviceID string) error {
	r.mu.Lock()
	e, ok := r.entries[deviceID]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	delete(r.entries, deviceID)
	r.mu.Unlock()

	e.sub.close()
	r.met.RegisteredDevices.Dec()
	r.log.Infow("device_unregistered", "device", deviceID)
	return nil
}

// List returns a snapshot of all registered devices ordered by registration
// time.
func (r *Registry) List() []energymon.DeviceInfo {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].registeredAt.Equal(entries[j].registeredAt) {
			return entries[i].deviceID < entries[j].deviceID
		}
		return entries[i].registeredAt.Before(entries[j].registeredAt)
	})

	devices := make([]energymon.DeviceInfo, 0, len(entries))
	for _, e := range entries {
		_, connected := e.sub.snapshot()
		status := StatusRegistered
		if connected {
			status = "connected"
		}
		devices = append(devices, energymon.DeviceInfo{
			DeviceID:     e.deviceID,
			RegisteredAt: e.registeredAt,
			LastSeen:     e.lastQueried(),
			Status:       status,
			IsConnected:  connected,
		})
	}
	return devices
}

// Telemetry returns the device's current reading and connection state, and
// counts as query activity for the idle reaper.
//
// The read lock is held across the touch so a query can never land on an
// entry the reaper is concurrently evicting: it either beats the sweep and
// resets the timeout, or finds the entry already gone.
func (r *Registry) Telemetry(deviceID string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[deviceID]
	if !ok {
		return Snapshot{}, ErrDeviceNotFound
	}
	e.touch(time.Now().UTC())
	reading, connected := e.sub.snapshot()
	return Snapshot{DeviceID: deviceID, Reading: reading, Connected: connected}, nil
}

// Run drives the idle reaper until ctx is canceled.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(r.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.sweep(now.UTC())
		}
	}
}

// sweep evicts every entry idle past the inactivity timeout, through the
// same close-then-remove path as explicit unregistration. Selection and
// removal happen under the write lock, so an in-flight query (which holds
// the read lock) is fully ordered against the sweep.
func (r *Registry) sweep(now time.Time) {
	cutoff := now.Add(-r.opts.InactivityTimeout)

	r.mu.Lock()
	var victims []*entry
	for id, e := range r.entries {
		if e.lastQueried().Before(cutoff) {
			delete(r.entries, id)
			victims = append(victims, e)
		}
	}
	r.mu.Unlock()

	for _, e := range victims {
		e.sub.close()
		r.met.RegisteredDevices.Dec()
		r.met.Evictions.Inc()
		r.log.Infow("device_evicted_idle",
			"device", e.deviceID, "last_queried", e.lastQueried(), "timeout", r.opts.InactivityTimeout)
	}
}

// Close tears down every subscription. Used at process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.sub.close()
		r.met.RegisteredDevices.Dec()
	}
	if len(entries) > 0 {
		r.log.Infow("registry_closed", "devices", len(entries))
	}
}
