package uplink

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(t *testing.T, id uint32, kind string) *Message {
	t.Helper()
	var m Message
	m.ID = id
	require.NoError(t, m.setKind(kind))
	require.NoError(t, m.setPayload(`{"n":1}`))
	return &m
}

func TestMsgQueueFIFO(t *testing.T) {
	t.Run("pop order equals push order", func(t *testing.T) {
		q := newMsgQueue(8)
		for i := uint32(1); i <= 8; i++ {
			require.NoError(t, q.push(testMessage(t, i, fmt.Sprintf("K%d", i))))
		}
		for i := uint32(1); i <= 8; i++ {
			head, err := q.peek()
			require.NoError(t, err)
			assert.Equal(t, i, head.ID)
			require.NoError(t, q.pop())
		}
		assert.Equal(t, uint16(0), q.len())
	})

	t.Run("order survives wraparound", func(t *testing.T) {
		q := newMsgQueue(4)
		next := uint32(1)
		expect := uint32(1)

		// Interleave pushes and pops so head/tail wrap several times.
		for round := 0; round < 10; round++ {
			for i := 0; i < 3; i++ {
				require.NoError(t, q.push(testMessage(t, next, "K")))
				next++
			}
			for i := 0; i < 3; i++ {
				head, err := q.peek()
				require.NoError(t, err)
				assert.Equal(t, expect, head.ID)
				require.NoError(t, q.pop())
				expect++
			}
		}
	})
}

func TestMsgQueueBounds(t *testing.T) {
	t.Run("push into a full queue fails without mutating state", func(t *testing.T) {
		q := newMsgQueue(2)
		require.NoError(t, q.push(testMessage(t, 1, "A")))
		require.NoError(t, q.push(testMessage(t, 2, "B")))

		err := q.push(testMessage(t, 3, "C"))
		assert.ErrorIs(t, err, ErrQueueFull)
		assert.Equal(t, uint16(2), q.len())

		head, err := q.peek()
		require.NoError(t, err)
		assert.Equal(t, uint32(1), head.ID)
	})

	t.Run("pop and peek on an empty queue fail", func(t *testing.T) {
		q := newMsgQueue(2)
		_, err := q.peek()
		assert.ErrorIs(t, err, ErrQueueEmpty)
		assert.ErrorIs(t, q.pop(), ErrQueueEmpty)
	})

	t.Run("capacity is clamped to the compile-time bounds", func(t *testing.T) {
		qMin := newMsgQueue(0)
		assert.Equal(t, uint16(1), qMin.capacity())
		qMax := newMsgQueue(MaxQueueLen + 100)
		assert.Equal(t, uint16(MaxQueueLen), qMax.capacity())
	})
}

func TestMsgQueuePeekMutation(t *testing.T) {
	// The core updates attempt bookkeeping through the peeked head while
	// holding its lock; the mutation must land in the stored slot.
	q := newMsgQueue(2)
	require.NoError(t, q.push(testMessage(t, 1, "A")))

	head, err := q.peek()
	require.NoError(t, err)
	head.Attempts = 3
	head.NextEligibleAt = 9999

	again, err := q.peek()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), again.Attempts)
	assert.Equal(t, uint32(9999), again.NextEligibleAt)
}

func TestMessageCapacities(t *testing.T) {
	t.Run("kind at capacity is accepted", func(t *testing.T) {
		var m Message
		kind := strings.Repeat("k", MaxKindLen)
		require.NoError(t, m.setKind(kind))
		assert.Equal(t, kind, string(m.Kind()))
	})

	t.Run("kind over capacity is rejected", func(t *testing.T) {
		var m Message
		err := m.setKind(strings.Repeat("k", MaxKindLen+1))
		assert.ErrorIs(t, err, ErrValueTooLong)
	})

	t.Run("payload over capacity is rejected", func(t *testing.T) {
		var m Message
		err := m.setPayload(strings.Repeat("p", MaxPayloadLen+1))
		assert.ErrorIs(t, err, ErrValueTooLong)
	})

	t.Run("empty payload is allowed", func(t *testing.T) {
		var m Message
		require.NoError(t, m.setPayload(""))
		assert.Empty(t, m.Payload())
	})
}
