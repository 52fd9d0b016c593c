package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"energymon/internal/logger"
)

// DeviceIDHeader is the message header carrying the publishing device's
// identity, set by the ingestion edge.
const DeviceIDHeader = "Device-Id"

const (
	defaultSubjectPrefix = "telemetry"
	connectTimeout       = 5 * time.Second
	reconnectWait        = 2 * time.Second
	subscribeBuffer      = 64
)

// ErrMissingURL is returned when no NATS URL is configured. Startup treats
// it as fatal: the process must not serve without a valid upstream.
var ErrMissingURL = errors.New("nats url is not configured")

// NATSSource implements Source over a single NATS connection, one core
// subscription per device on "<prefix>.<deviceID>".
type NATSSource struct {
	conn          *nats.Conn
	subjectPrefix string
	log           *logger.Logger
}

// NewNATSSource connects to the NATS server at url. An empty prefix falls
// back to "telemetry".
func NewNATSSource(url, subjectPrefix string, log *logger.Logger) (*NATSSource, error) {
	if url == "" {
		return nil, ErrMissingURL
	}
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	conn, err := nats.Connect(url,
		nats.Name("energymon"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnw("nats_disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %q: %w", url, err)
	}

	return &NATSSource{conn: conn, subjectPrefix: subjectPrefix, log: log}, nil
}

// Subscribe opens a subscription on the device's subject. The returned
// subscription's channel closes when the NATS subscription is drained or the
// connection is lost.
func (s *NATSSource) Subscribe(_ context.Context, deviceID string) (Subscription, error) {
	subject := s.subjectPrefix + "." + deviceID

	raw := make(chan *nats.Msg, subscribeBuffer)
	natsSub, err := s.conn.ChanSubscribe(subject, raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", subject, err)
	}

	sub := &natsSubscription{
		natsSub: natsSub,
		raw:     raw,
		out:     make(chan Message, subscribeBuffer),
		stop:    make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

// Close tears down the underlying connection.
func (s *NATSSource) Close() {
	s.conn.Close()
}

type natsSubscription struct {
	natsSub *nats.Subscription
	raw     chan *nats.Msg
	out     chan Message
	stop    chan struct{}
	once    sync.Once
}

func (n *natsSubscription) Messages() <-chan Message { return n.out }

func (n *natsSubscription) Close() error {
	var err error
	n.once.Do(func() {
		err = n.natsSub.Unsubscribe()
		close(n.stop)
	})
	return err
}

// forward converts raw NATS messages into stream messages until the
// subscription stops. Unsubscribing does not close the raw channel, so stop
// is the authoritative termination signal.
func (n *natsSubscription) forward() {
	defer close(n.out)
	for {
		select {
		case <-n.stop:
			return
		case msg, ok := <-n.raw:
			if !ok {
				return
			}
			out := Message{
				DeviceID:   deviceIDFromMsg(msg),
				Payload:    msg.Data,
				ReceivedAt: time.Now().UTC(),
			}
			select {
			case n.out <- out:
			case <-n.stop:
				return
			}
		}
	}
}

// deviceIDFromMsg prefers the Device-Id header; publishers that set no
// headers are identified by the subject's last token.
func deviceIDFromMsg(msg *nats.Msg) string {
	if id := msg.Header.Get(DeviceIDHeader); id != "" {
		return id
	}
	if i := strings.LastIndex(msg.Subject, "."); i >= 0 {
		return msg.Subject[i+1:]
	}
	return ""
}
