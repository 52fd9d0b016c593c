package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, source *fakeSource, sink Sink, opts Options) *Registry {
	t.Helper()
	r := New(source, sink, testLogger(), testMetrics(), opts)
	t.Cleanup(r.Close)
	return r
}

func TestRegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	r := newTestRegistry(t, source, nil, Options{})

	assert.Equal(t, StatusRegistering, r.Register("D1"))
	assert.Equal(t, StatusRegistered, r.Register("D1"))
	assert.Equal(t, StatusRegistered, r.Register("D1"))

	devices := r.List()
	require.Len(t, devices, 1)
	assert.Equal(t, "D1", devices[0].DeviceID)

	// one entry means one upstream subscription, even while the first one
	// may still be dialing
	require.Eventually(t, func() bool { return source.subscribeCount() == 1 },
		time.Second, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, source.subscribeCount())
}

func TestUnregisterUnknownDevice(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{})
	r.Register("D1")

	err := r.Unregister("nope")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Len(t, r.List(), 1, "failed unregister must not change state")
}

func TestConcurrentUnregister(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{})
	r.Register("D1")

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			errs[i] = r.Unregister("D1")
		}(i)
	}
	start.Done()
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrDeviceNotFound)
		}
	}
	assert.Equal(t, 1, wins, "exactly one unregister owns the close")
	assert.Empty(t, r.List())
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{})

	// register and unregister race on the same id: whichever order they
	// land in, the entry an unregister finds must have a live, closable
	// subscription
	const rounds = 100
	for i := 0; i < rounds; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("D1")
		}()
		go func() {
			defer wg.Done()
			_ = r.Unregister("D1")
		}()
		wg.Wait()
	}

	// settle whatever the last round left behind
	_ = r.Unregister("D1")
	assert.Empty(t, r.List())
	_, err := r.Telemetry("D1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestListOrderedByRegistration(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{})
	for _, id := range []string{"C", "A", "B"} {
		r.Register(id)
		time.Sleep(2 * time.Millisecond)
	}

	devices := r.List()
	require.Len(t, devices, 3)
	assert.Equal(t, "C", devices[0].DeviceID)
	assert.Equal(t, "A", devices[1].DeviceID)
	assert.Equal(t, "B", devices[2].DeviceID)
	for i := 1; i < len(devices); i++ {
		assert.False(t, devices[i].RegisteredAt.Before(devices[i-1].RegisteredAt))
	}
}

func TestTelemetryUnknownDevice(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{})
	_, err := r.Telemetry("ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestTelemetryNoDataYet(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{})
	r.Register("D1")

	snap, err := r.Telemetry("D1")
	require.NoError(t, err)
	assert.Nil(t, snap.Reading, "no events yet means an explicit no-data result")
	assert.False(t, snap.Connected)
}

func TestTelemetryRoundTrip(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	r := newTestRegistry(t, source, nil, Options{})
	r.Register("D1")

	captured := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	payload := `{"timestamp":"2025-06-01T09:00:00Z",` +
		`"phase1":{"v":220.1,"i":5.2,"p":1144.5,"f":50.0,"pf":0.99}}`
	require.Eventually(t, func() bool {
		return source.send("D1", msgFor("D1", payload))
	}, time.Second, 2*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := r.Telemetry("D1")
		return err == nil && snap.Reading != nil
	}, time.Second, 2*time.Millisecond)

	snap, err := r.Telemetry("D1")
	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Equal(t, captured, snap.Reading.CapturedAt)

	p1 := snap.Reading.Phase(1)
	require.NotNil(t, p1)
	assert.Equal(t, 220.1, *p1.Voltage)
	assert.Equal(t, 5.2, *p1.Current)
	assert.Equal(t, 1144.5, *p1.Power)
	assert.Equal(t, 50.0, *p1.Frequency)
	assert.Equal(t, 0.99, *p1.PowerFactor)
}

func TestBadMessageLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	r := newTestRegistry(t, source, nil, Options{})
	r.Register("D1")

	require.Eventually(t, func() bool {
		return source.send("D1", msgFor("D1", `}{garbage`))
	}, time.Second, 2*time.Millisecond)

	// a good reading applied after the bad one proves the loop survived
	require.Eventually(t, func() bool {
		return source.send("D1", msgFor("D1", `{"phase1":{"v":230}}`))
	}, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		snap, err := r.Telemetry("D1")
		return err == nil && snap.Reading != nil
	}, time.Second, 2*time.Millisecond)

	snap, _ := r.Telemetry("D1")
	assert.Equal(t, 230.0, *snap.Reading.Phase(1).Voltage)
}

func TestReaperEvictsIdleDevice(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{
		SweepInterval:     10 * time.Millisecond,
		InactivityTimeout: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Register("D1")

	// poll List, not Telemetry: a telemetry query would reset the timer
	require.Eventually(t, func() bool { return len(r.List()) == 0 },
		time.Second, 5*time.Millisecond)

	_, err := r.Telemetry("D1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestQueryResetsIdleTimer(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, newFakeSource(), nil, Options{
		SweepInterval:     10 * time.Millisecond,
		InactivityTimeout: 120 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Register("D1")

	// keep querying well past the original deadline
	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, err := r.Telemetry("D1")
		require.NoError(t, err, "queried device must survive the reaper")
		time.Sleep(25 * time.Millisecond)
	}

	// once queries stop, the timeout runs out
	require.Eventually(t, func() bool { return len(r.List()) == 0 },
		time.Second, 10*time.Millisecond)
	_, err := r.Telemetry("D1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestCloseStopsAllSubscriptions(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	r := New(source, nil, testLogger(), testMetrics(), Options{})
	r.Register("D1")
	r.Register("D2")
	require.Eventually(t, func() bool { return source.subscribeCount() >= 2 },
		time.Second, 2*time.Millisecond)

	r.Close()

	assert.Empty(t, r.List())
	count := source.subscribeCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, source.subscribeCount(), "no dialing after shutdown")
}
