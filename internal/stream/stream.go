// Package stream abstracts the upstream event stream that carries device
// telemetry. A Source opens per-device subscriptions; each Subscription
// yields raw messages until it is closed or the transport fails.
package stream

import (
	"context"
	"time"
)

// Message is one raw event from the upstream stream. DeviceID comes from
// transport metadata, not from the payload; it is empty when the publisher
// attached no device identity.
type Message struct {
	DeviceID   string
	Payload    []byte
	ReceivedAt time.Time
}

// Subscription is a live, closable feed of one device's messages.
//
// Messages is closed when the subscription terminates, whether by Close or
// by a transport failure; after that the subscription is dead and the
// consumer must open a new one. Close is idempotent.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Source opens per-device subscriptions.
type Source interface {
	Subscribe(ctx context.Context, deviceID string) (Subscription, error)
}
