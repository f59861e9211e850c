package uplink

// Fixed capacities for queued messages and scratch buffers. These bound
// the memory footprint of a Core up front; values that would not fit are
// rejected at enqueue time rather than truncated.
const (
	// MaxDeviceIDLen bounds the configured device identity.
	MaxDeviceIDLen = 32
	// MaxKindLen bounds the event type string, e.g. "LIGHT_ADC".
	MaxKindLen = 32
	// MaxPayloadLen bounds the payload JSON fragment of one event.
	MaxPayloadLen = 256
	// MaxEventLen bounds the complete encoded envelope.
	MaxEventLen = 512
	// MaxBodyLen bounds the captured response body.
	MaxBodyLen = 512
	// MaxQueueLen bounds the configurable ring buffer capacity.
	MaxQueueLen = 64
)

// Message is one pending event. It is owned exclusively by the queue
// from admission until removal; the core mutates Attempts and
// NextEligibleAt in place through peek while holding its lock.
type Message struct {
	// ID is assigned by the core at enqueue time, monotonically
	// increasing and wrapping at 32 bits. Ids only serve receiver-side
	// deduplication within a freshness window, not global ordering.
	ID uint32
	// CreatedAt is the enqueue timestamp in clock milliseconds. It is
	// sent as the event timestamp, so retries carry the original event
	// time rather than the send time.
	CreatedAt uint32
	// Attempts counts delivery attempts performed so far.
	Attempts uint16
	// NextEligibleAt is the earliest clock time for the next attempt.
	NextEligibleAt uint32

	kindLen    uint8
	payloadLen uint16
	kind       [MaxKindLen]byte
	payload    [MaxPayloadLen]byte
}

// Kind returns the event type bytes. The slice aliases the message.
func (m *Message) Kind() []byte { return m.kind[:m.kindLen] }

// Payload returns the payload JSON fragment. The slice aliases the message.
func (m *Message) Payload() []byte { return m.payload[:m.payloadLen] }

func (m *Message) setKind(s string) error {
	if len(s) > MaxKindLen {
		return ErrValueTooLong
	}
	m.kindLen = uint8(copy(m.kind[:], s))
	return nil
}

func (m *Message) setPayload(s string) error {
	if len(s) > MaxPayloadLen {
		return ErrValueTooLong
	}
	m.payloadLen = uint16(copy(m.payload[:], s))
	return nil
}

// msgQueue is a fixed-capacity FIFO ring buffer of messages. Slots are
// allocated once at construction; operations are O(1) and never
// allocate. The queue is not synchronized: the core must hold its lock
// across every call, which also covers in-place mutation of the peeked
// head.
type msgQueue struct {
	items []Message
	head  uint16
	tail  uint16
	count uint16
}

func newMsgQueue(capacity uint16) msgQueue {
	if capacity == 0 {
		capacity = 1
	}
	if capacity > MaxQueueLen {
		capacity = MaxQueueLen
	}
	return msgQueue{items: make([]Message, capacity)}
}

func (q *msgQueue) capacity() uint16 { return uint16(len(q.items)) }

func (q *msgQueue) len() uint16 { return q.count }

// push copies msg into the tail slot. It fails with ErrQueueFull when at
// capacity and leaves the queue unchanged.
func (q *msgQueue) push(msg *Message) error {
	if q.count >= q.capacity() {
		return ErrQueueFull
	}
	q.items[q.tail] = *msg
	q.tail++
	if q.tail >= q.capacity() {
		q.tail = 0
	}
	q.count++
	return nil
}

// peek returns a mutable view of the oldest message so the caller can
// update attempt bookkeeping in place.
func (q *msgQueue) peek() (*Message, error) {
	if q.count == 0 {
		return nil, ErrQueueEmpty
	}
	return &q.items[q.head], nil
}

// pop removes the oldest message. The vacated slot is zeroed, which
// keeps stale events out of later peeks when debugging.
func (q *msgQueue) pop() error {
	if q.count == 0 {
		return ErrQueueEmpty
	}
	q.items[q.head] = Message{}
	q.head++
	if q.head >= q.capacity() {
		q.head = 0
	}
	q.count--
	return nil
}
