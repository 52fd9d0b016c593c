package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"energymon"
	"energymon/internal/logger"
	"energymon/internal/metrics"
	"energymon/internal/stream"
)

// Sink receives every applied reading for durable storage. Writes are
// fire-and-forget: failures are logged and counted, never surfaced to the
// telemetry path.
type Sink interface {
	InsertMeasurement(ctx context.Context, r *energymon.TelemetryReading) error
}

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
	sinkTimeout = 5 * time.Second
)

// subscription owns one upstream feed for one device and maintains the
// latest-reading cell. Exactly one run goroutine mutates latest/connected;
// snapshot readers only ever see a fully applied reading.
type subscription struct {
	id       string
	deviceID string
	source   stream.Source
	sink     Sink
	log      *logger.Logger
	met      *metrics.Metrics

	backoffBase time.Duration
	backoffCap  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed sync.Once

	mu        sync.RWMutex
	latest    *energymon.TelemetryReading
	connected bool
}

func newSubscription(deviceID string, source stream.Source, sink Sink, log *logger.Logger, met *metrics.Metrics) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		id:          uuid.NewString(),
		deviceID:    deviceID,
		source:      source,
		sink:        sink,
		log:         log,
		met:         met,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// start launches the run loop. The registry calls it exactly once, before
// the owning entry becomes visible, so every close observes a started loop.
func (s *subscription) start() {
	go s.run(s.ctx)
}

// close stops the run loop and waits for it to release the upstream
// subscription. Idempotent and safe to call concurrently.
func (s *subscription) close() {
	s.closed.Do(func() {
		s.cancel()
	})
	<-s.done
}

// snapshot returns the most recently applied reading (nil until the first
// event arrives) and the current connection state.
func (s *subscription) snapshot() (*energymon.TelemetryReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.connected
}

// run keeps an upstream subscription open until canceled, reconnecting with
// exponential backoff on transport failure. Cancellation is checked before
// every reconnect attempt and between messages.
func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	delay := s.backoffBase
	for {
		sub, err := s.source.Subscribe(ctx, s.deviceID)
		if err != nil {
			s.setDisconnected()
			s.met.Reconnects.WithLabelValues(s.deviceID).Inc()
			s.log.Warnw("telemetry_subscribe_failed",
				"device", s.deviceID, "sub", s.id, "retry_in", delay, "err", err)
			if !sleep(ctx, delay) {
				return
			}
			delay = s.nextDelay(delay)
			continue
		}
		delay = s.backoffBase

		s.consume(ctx, sub)
		if err := sub.Close(); err != nil {
			s.log.Warnw("telemetry_stream_close_failed",
				"device", s.deviceID, "sub", s.id, "err", err)
		}
		if ctx.Err() != nil {
			return
		}

		// channel closed under us: transport failure, back off and redial
		s.setDisconnected()
		s.met.Reconnects.WithLabelValues(s.deviceID).Inc()
		s.log.Warnw("telemetry_stream_lost",
			"device", s.deviceID, "sub", s.id, "retry_in", delay)
		if !sleep(ctx, delay) {
			return
		}
		delay = s.nextDelay(delay)
	}
}

func (s *subscription) consume(ctx context.Context, sub stream.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.apply(msg)
		}
	}
}

// apply decodes one message and replaces the latest-reading cell when the
// capture timestamp is not older than the stored one.
func (s *subscription) apply(msg stream.Message) {
	reading, err := DecodeReading(msg, s.deviceID)
	if errors.Is(err, ErrForeignDevice) {
		s.log.Debugw("telemetry_foreign_device_skipped",
			"device", s.deviceID, "from", msg.DeviceID)
		return
	}
	if err != nil {
		s.met.DecodeFailures.WithLabelValues(s.deviceID).Inc()
		s.log.Warnw("telemetry_decode_failed", "device", s.deviceID, "err", err)
		return
	}

	s.mu.Lock()
	if s.latest != nil && reading.CapturedAt.Before(s.latest.CapturedAt) {
		s.mu.Unlock()
		s.log.Debugw("telemetry_stale_dropped",
			"device", s.deviceID, "captured_at", reading.CapturedAt)
		return
	}
	s.latest = reading
	s.connected = true
	s.mu.Unlock()

	s.met.ReadingsReceived.WithLabelValues(s.deviceID).Inc()
	if s.sink != nil {
		go s.persist(reading)
	}
}

func (s *subscription) persist(r *energymon.TelemetryReading) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.sink.InsertMeasurement(ctx, r); err != nil {
		s.met.SinkErrors.Inc()
		s.log.Errorw("measurement_persist_failed", "device", s.deviceID, "err", err)
	}
}

func (s *subscription) setDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// sleep waits for d or cancellation; reports false when canceled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *subscription) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > s.backoffCap {
		return s.backoffCap
	}
	return d
}
