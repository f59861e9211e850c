// Package rabbitmq provides an uplink.Transport that performs the
// request/response exchange over RabbitMQ instead of raw HTTP.
//
// Each Post publishes the envelope to the uplink queue with a unique
// correlation id and a private reply queue, then waits for the
// collector's reply. A reply body is expected to carry the same "code"
// field the HTTP collector returns; the status code is synthesized as
// 200 when a reply arrives, since AMQP has no status line.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/edgelink/uplink-go/uplink"
)

const defaultReplyTimeout = 2 * time.Second

// channel is the slice of amqp.Channel the exchange path uses. Tests
// substitute a fake; production always binds the real channel opened by
// NewTransport.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Transport is an AMQP-backed uplink.Transport. Unlike the HTTP
// reference transport it keeps one connection open across attempts;
// per-attempt freshness is provided by the correlation id instead.
type Transport struct {
	url       string
	queue     string
	conn      *amqp.Connection
	ch        channel
	replies   <-chan amqp.Delivery
	replyQ    string
	replyWait time.Duration
	logger    *slog.Logger

	// One exchange at a time; the core guarantees this already, the
	// mutex protects against misuse by other callers.
	mu sync.Mutex
}

// TransportOption configures the Transport.
type TransportOption func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = logger }
}

// WithReplyTimeout bounds the wait for the collector's reply on each
// exchange. The default is 2s.
func WithReplyTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.replyWait = d }
}

// NewTransport connects to the broker, declares the uplink queue and a
// private reply queue, and starts consuming replies.
func NewTransport(url, queue string, options ...TransportOption) (*Transport, error) {
	t := &Transport{
		url:       url,
		queue:     queue,
		replyWait: defaultReplyTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", queue, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	replyQ, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	replies, err := ch.Consume(replyQ.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	t.conn = conn
	t.ch = ch
	t.replies = replies
	t.replyQ = replyQ.Name

	t.logger.Info("uplink rabbitmq transport ready",
		"queue", queue, "replyQueue", replyQ.Name)
	return t, nil
}

// Post implements uplink.Transport.
func (t *Transport) Post(ctx context.Context, payload []byte, respBuf []byte) (uplink.Ack, error) {
	if len(respBuf) == 0 {
		return uplink.Ack{}, uplink.ErrInvalidArgument
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	corrID := uuid.NewString()
	err := t.ch.PublishWithContext(ctx, "", t.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       t.replyQ,
		Timestamp:     time.Now(),
		Body:          payload,
	})
	if err != nil {
		return uplink.Ack{}, &uplink.TransportError{Op: "publish", Err: err}
	}

	deadline := time.NewTimer(t.replyWait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return uplink.Ack{}, &uplink.TransportError{Op: "reply", Err: ctx.Err()}
		case <-deadline.C:
			return uplink.Ack{}, &uplink.TransportError{Op: "reply", Err: context.DeadlineExceeded}
		case d, ok := <-t.replies:
			if !ok {
				return uplink.Ack{}, &uplink.TransportError{Op: "reply", Err: amqp.ErrClosed}
			}
			if d.CorrelationId != corrID {
				// Stale reply from a timed-out earlier attempt.
				continue
			}
			n := copy(respBuf, d.Body)
			ack := uplink.Ack{StatusCode: 200, Body: respBuf[:n]}
			if n < len(d.Body) {
				return ack, uplink.ErrBodyTruncated
			}
			return ack, nil
		}
	}
}

// Close releases the channel and connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
