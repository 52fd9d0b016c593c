package registry

import (
	"context"
	"errors"
	"sync"

	"energymon"
	"energymon/internal/logger"
	"energymon/internal/metrics"
	"energymon/internal/stream"
)

// fakeSubscription is an in-memory stream.Subscription fed by the test.
type fakeSubscription struct {
	mu     sync.Mutex
	msgs   chan stream.Message
	closed bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{msgs: make(chan stream.Message, 32)}
}

func (f *fakeSubscription) Messages() <-chan stream.Message { return f.msgs }

func (f *fakeSubscription) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.msgs)
	}
	return nil
}

func (f *fakeSubscription) send(m stream.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.msgs <- m
	return true
}

// fakeSource hands out fakeSubscriptions and can be told to fail the next
// subscribe attempts.
type fakeSource struct {
	mu           sync.Mutex
	current      map[string]*fakeSubscription
	failuresLeft int
	subscribes   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{current: make(map[string]*fakeSubscription)}
}

func (f *fakeSource) Subscribe(_ context.Context, deviceID string) (stream.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("upstream unavailable")
	}
	sub := newFakeSubscription()
	f.current[deviceID] = sub
	return sub, nil
}

func (f *fakeSource) send(deviceID string, m stream.Message) bool {
	f.mu.Lock()
	sub := f.current[deviceID]
	f.mu.Unlock()
	if sub == nil {
		return false
	}
	return sub.send(m)
}

// dropConnection simulates a transport failure by closing the live feed.
func (f *fakeSource) dropConnection(deviceID string) {
	f.mu.Lock()
	sub := f.current[deviceID]
	f.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

func (f *fakeSource) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

// recordingSink captures readings handed to the persistence sink.
type recordingSink struct {
	mu       sync.Mutex
	readings []*energymon.TelemetryReading
}

func (s *recordingSink) InsertMeasurement(_ context.Context, r *energymon.TelemetryReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func testLogger() *logger.Logger {
	return logger.Get(logger.ErrorLevel)
}

func testMetrics() *metrics.Metrics {
	return metrics.New()
}
