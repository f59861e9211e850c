// Package mqtt provides an uplink.Transport over MQTT for deployments
// where the collector sits behind a broker rather than an HTTP endpoint.
//
// The transport publishes each envelope to the request topic and waits
// for the collector's reply on the response topic. Correlating request
// and reply by topic alone is sound because the core guarantees a single
// in-flight attempt; stale replies from timed-out attempts are drained
// before each publish.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/edgelink/uplink-go/uplink"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReplyTimeout   = 2 * time.Second
	defaultQoS            = 1
)

// Transport is an MQTT-backed uplink.Transport.
type Transport struct {
	client     paho.Client
	reqTopic   string
	respTopic  string
	qos        byte
	replyWait  time.Duration
	connectTTL time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	replies chan []byte
}

// TransportOption configures the Transport.
type TransportOption func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = logger }
}

// WithReplyTimeout bounds the wait for a reply on each exchange.
func WithReplyTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.replyWait = d }
}

// WithConnectTimeout bounds broker connection establishment.
func WithConnectTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.connectTTL = d }
}

// WithQoS sets the publish/subscribe quality of service. The default is 1.
func WithQoS(qos byte) TransportOption {
	return func(t *Transport) { t.qos = qos }
}

// NewTransport connects to the broker and subscribes to the response
// topic. The client id is derived from a random suffix so several
// devices can share a broker without clashing.
func NewTransport(broker, requestTopic, responseTopic string, options ...TransportOption) (*Transport, error) {
	t := &Transport{
		reqTopic:   requestTopic,
		respTopic:  responseTopic,
		qos:        defaultQoS,
		replyWait:  defaultReplyTimeout,
		connectTTL: defaultConnectTimeout,
		logger:     slog.Default(),
		replies:    make(chan []byte, 1),
	}
	for _, opt := range options {
		opt(t)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("uplink-" + uuid.NewString()[:8])
	opts.SetConnectTimeout(t.connectTTL)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.logger.Warn("uplink mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		t.logger.Info("uplink mqtt connected", "broker", broker)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(t.connectTTL) {
		return nil, &uplink.TransportError{Op: "connect", Err: context.DeadlineExceeded}
	}
	if err := token.Error(); err != nil {
		return nil, &uplink.TransportError{Op: "connect", Err: err}
	}

	sub := client.Subscribe(responseTopic, t.qos, t.handleReply)
	if !sub.WaitTimeout(t.connectTTL) {
		client.Disconnect(250)
		return nil, &uplink.TransportError{Op: "subscribe", Err: context.DeadlineExceeded}
	}
	if err := sub.Error(); err != nil {
		client.Disconnect(250)
		return nil, &uplink.TransportError{Op: "subscribe", Err: fmt.Errorf("%s: %w", responseTopic, err)}
	}

	t.client = client
	return t, nil
}

// handleReply feeds an incoming response into the reply channel. When a
// reply is already pending the newer one wins; the pending one can only
// be a leftover from a timed-out exchange.
func (t *Transport) handleReply(_ paho.Client, m paho.Message) {
	body := make([]byte, len(m.Payload()))
	copy(body, m.Payload())
	select {
	case t.replies <- body:
	default:
		select {
		case <-t.replies:
		default:
		}
		t.replies <- body
	}
}

// Post implements uplink.Transport.
func (t *Transport) Post(ctx context.Context, payload []byte, respBuf []byte) (uplink.Ack, error) {
	if len(respBuf) == 0 {
		return uplink.Ack{}, uplink.ErrInvalidArgument
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Drop any reply left over from a previous timed-out exchange.
	select {
	case <-t.replies:
	default:
	}

	pub := t.client.Publish(t.reqTopic, t.qos, false, payload)
	if !pub.WaitTimeout(t.replyWait) {
		return uplink.Ack{}, &uplink.TransportError{Op: "publish", Err: context.DeadlineExceeded}
	}
	if err := pub.Error(); err != nil {
		return uplink.Ack{}, &uplink.TransportError{Op: "publish", Err: err}
	}

	deadline := time.NewTimer(t.replyWait)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		return uplink.Ack{}, &uplink.TransportError{Op: "reply", Err: ctx.Err()}
	case <-deadline.C:
		return uplink.Ack{}, &uplink.TransportError{Op: "reply", Err: context.DeadlineExceeded}
	case body := <-t.replies:
		n := copy(respBuf, body)
		ack := uplink.Ack{StatusCode: 200, Body: respBuf[:n]}
		if n < len(body) {
			return ack, uplink.ErrBodyTruncated
		}
		return ack, nil
	}
}

// Close disconnects from the broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Unsubscribe(t.respTopic)
		t.client.Disconnect(250)
	}
	return nil
}
