package uplink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgelink/uplink-go/codec"
)

// Core owns the queue, retry policy, transport and scratch buffers for
// one uplink destination. Multiple destinations are multiple Cores, not
// shared state.
//
// One lock protects queue mutations, the sending flag and the message id
// counter. The lock is never held across a transport exchange, so
// producers calling Enqueue are never blocked by a slow or hung network
// call.
type Core struct {
	mu      sync.Mutex
	cfg     Config
	queue   msgQueue
	nextID  uint32
	sending bool

	transport Transport
	platform  Platform
	logger    *slog.Logger

	// Scratch buffers reused across attempts; safe because the sending
	// flag guarantees a single in-flight attempt.
	eventBuf [MaxEventLen]byte
	respBuf  [MaxBodyLen]byte

	ready bool
}

type coreOptions struct {
	transport Transport
	platform  Platform
	logger    *slog.Logger
}

// Option configures a Core.
type Option func(*coreOptions)

// WithTransport overrides the default transport derived from the
// endpoint scheme. Tests use this to inject mocks; production code can
// use it to select the rabbitmq or mqtt transports.
func WithTransport(t Transport) Option {
	return func(o *coreOptions) { o.transport = t }
}

// WithPlatform overrides the default clock and random source.
func WithPlatform(p Platform) Option {
	return func(o *coreOptions) { o.platform = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *coreOptions) { o.logger = l }
}

// New validates cfg, copies it, binds defaults for any capability not
// supplied and constructs the transport. It fails closed: on any error
// no usable Core is returned.
func New(cfg Config, opts ...Option) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o coreOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.platform == nil {
		o.platform = SystemPlatform()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.transport == nil {
		switch cfg.Endpoint.Scheme {
		case SchemePlain:
			o.transport = NewHTTPTransport(cfg.Endpoint, cfg.SendTimeout, cfg.RecvTimeout)
		default:
			return nil, fmt.Errorf("%w: no transport for scheme %q", ErrUnsupported, cfg.Endpoint.Scheme)
		}
	}

	return &Core{
		cfg:       cfg,
		queue:     newMsgQueue(cfg.QueueLen),
		nextID:    1,
		transport: o.transport,
		platform:  o.platform,
		logger:    o.logger,
		ready:     true,
	}, nil
}

// Enqueue admits one event to the queue and returns its message id. It
// runs in bounded time independent of network state; the only failures
// are a full queue and oversized inputs, which are rejected rather than
// truncated. The event becomes eligible for delivery immediately.
func (c *Core) Enqueue(kind, payloadJSON string) (uint32, error) {
	if c == nil || !c.ready {
		return 0, ErrNotInitialized
	}
	if kind == "" {
		return 0, fmt.Errorf("%w: empty kind", ErrInvalidArgument)
	}

	now := c.platform.NowMillis()
	var msg Message
	msg.CreatedAt = now
	msg.NextEligibleAt = now
	if err := msg.setKind(kind); err != nil {
		return 0, err
	}
	if err := msg.setPayload(payloadJSON); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	msg.ID = c.nextID
	if err := c.queue.push(&msg); err != nil {
		return 0, err
	}
	c.nextID++
	return msg.ID, nil
}

// EnqueueReading is a convenience for single-value sensor events: it
// renders {"<field>":<value>} and enqueues it under the given kind.
func (c *Core) EnqueueReading(kind, field string, value uint32) (uint32, error) {
	if c == nil || !c.ready {
		return 0, ErrNotInitialized
	}
	var buf [MaxPayloadLen]byte
	payload, err := codec.BuildReadingPayload(buf[:], field, value)
	if err != nil {
		return 0, ErrValueTooLong
	}
	return c.Enqueue(kind, string(payload))
}

// Poll drives the per-message state machine: it performs at most one
// delivery attempt of the head-of-queue message. It is meant to be
// invoked periodically by a single driver; a concurrent call while an
// attempt is in flight is a no-op. Poll never returns an error: all
// failures feed the retry/backoff path, and a message whose attempt
// budget is exhausted is dropped so it cannot stall the queue forever.
func (c *Core) Poll() {
	if c == nil || !c.ready {
		return
	}

	now := c.platform.NowMillis()

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return
	}
	head, err := c.queue.peek()
	if err != nil {
		c.mu.Unlock()
		return
	}
	if !timeIsDue(now, head.NextEligibleAt) {
		c.mu.Unlock()
		return
	}

	nextAttempt := head.Attempts + 1
	if !c.cfg.Retry.AttemptAllowed(nextAttempt) {
		dropped := *head
		_ = c.queue.pop()
		c.mu.Unlock()
		c.logger.Warn("uplink: attempt budget exhausted, dropping message",
			"messageId", dropped.ID,
			"kind", string(dropped.Kind()),
			"attempts", dropped.Attempts)
		return
	}

	head.Attempts = nextAttempt
	attempt := *head
	c.sending = true
	c.mu.Unlock()

	event, err := codec.BuildEvent(c.eventBuf[:],
		c.cfg.DeviceID, attempt.ID, attempt.CreatedAt, attempt.Kind(), attempt.Payload())
	if err != nil {
		c.logger.Error("uplink: envelope encoding failed",
			"messageId", attempt.ID, "error", err)
		c.settle(attempt, false, 0, 0, false)
		return
	}

	ack, err := c.transport.Post(context.Background(), event, c.respBuf[:])
	appCode, haveCode := codec.StatusCode(ack.Body)

	success := err == nil &&
		ack.StatusCode >= 200 && ack.StatusCode < 300 &&
		(!haveCode || appCode == 0)
	if !success && err != nil {
		c.logger.Warn("uplink: delivery attempt failed",
			"messageId", attempt.ID,
			"attempt", attempt.Attempts,
			"error", err)
	}

	c.settle(attempt, success, ack.StatusCode, appCode, haveCode)
}

// settle clears the sending flag and applies the attempt outcome to the
// head message, provided it is still the same message. The id check
// defends against concurrent head mutation; today only Poll mutates the
// head, but the invariant is cheap to keep explicit.
func (c *Core) settle(attempt Message, success bool, status int, appCode int32, haveCode bool) {
	c.mu.Lock()
	c.sending = false
	head, err := c.queue.peek()
	if err != nil || head.ID != attempt.ID {
		c.mu.Unlock()
		return
	}

	if success {
		_ = c.queue.pop()
		c.mu.Unlock()
		return
	}

	delay := c.cfg.Retry.Delay(attempt.Attempts, c.platform.RandUint32())
	head.NextEligibleAt = c.platform.NowMillis() + uint32(delay.Milliseconds())
	c.mu.Unlock()

	c.logger.Warn("uplink: send failed, backing off",
		"messageId", attempt.ID,
		"status", status,
		"appCode", appCodeValue(appCode, haveCode),
		"attempt", attempt.Attempts,
		"nextDelay", delay)
}

func appCodeValue(code int32, have bool) any {
	if !have {
		return "unknown"
	}
	return code
}

// QueueDepth returns the number of messages waiting for delivery.
func (c *Core) QueueDepth() uint16 {
	if c == nil || !c.ready {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}
