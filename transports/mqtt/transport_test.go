package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelink/uplink-go/uplink"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient records publishes and lets the test play the broker's side
// of the exchange through onPublish.
type fakeClient struct {
	mu         sync.Mutex
	published  [][]byte
	pubTopics  []string
	publishErr error
	onPublish  func(payload []byte)

	unsubscribed []string
	disconnected bool
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() paho.Token    { return &fakeToken{} }
func (c *fakeClient) Disconnect(uint)        { c.disconnected = true }

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	body := append([]byte(nil), payload.([]byte)...)
	c.mu.Lock()
	c.published = append(c.published, body)
	c.pubTopics = append(c.pubTopics, topic)
	c.mu.Unlock()
	if c.onPublish != nil {
		c.onPublish(body)
	}
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &fakeToken{}
}

func (c *fakeClient) AddRoute(string, paho.MessageHandler)    {}
func (c *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "dev/reply" }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestTransport(client *fakeClient) *Transport {
	return &Transport{
		client:    client,
		reqTopic:  "dev/request",
		respTopic: "dev/reply",
		qos:       1,
		replyWait: 50 * time.Millisecond,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		replies:   make(chan []byte, 1),
	}
}

func TestHandleReply(t *testing.T) {
	t.Run("reply lands in the channel", func(t *testing.T) {
		tr := newTestTransport(&fakeClient{})
		tr.handleReply(nil, &fakeMessage{payload: []byte(`{"code":0}`)})

		require.Len(t, tr.replies, 1)
		assert.Equal(t, `{"code":0}`, string(<-tr.replies))
	})

	t.Run("newest reply wins when one is already pending", func(t *testing.T) {
		tr := newTestTransport(&fakeClient{})
		tr.handleReply(nil, &fakeMessage{payload: []byte(`{"code":9}`)})
		tr.handleReply(nil, &fakeMessage{payload: []byte(`{"code":0}`)})

		require.Len(t, tr.replies, 1)
		assert.Equal(t, `{"code":0}`, string(<-tr.replies))
	})

	t.Run("reply body does not alias the broker message", func(t *testing.T) {
		tr := newTestTransport(&fakeClient{})
		payload := []byte(`{"code":0}`)
		tr.handleReply(nil, &fakeMessage{payload: payload})
		payload[0] = 'X'

		assert.Equal(t, `{"code":0}`, string(<-tr.replies))
	})
}

func TestTransportPost(t *testing.T) {
	t.Run("round trip over the topic pair", func(t *testing.T) {
		client := &fakeClient{}
		tr := newTestTransport(client)
		client.onPublish = func([]byte) {
			tr.handleReply(nil, &fakeMessage{payload: []byte(`{"code":0}`)})
		}

		payload := []byte(`{"deviceId":"dev","messageId":1,"ts":2,"type":"EVT","payload":{}}`)
		ack, err := tr.Post(context.Background(), payload, make([]byte, 64))
		require.NoError(t, err)
		assert.Equal(t, 200, ack.StatusCode)
		assert.Equal(t, `{"code":0}`, string(ack.Body))

		require.Len(t, client.published, 1)
		assert.Equal(t, payload, client.published[0])
		assert.Equal(t, "dev/request", client.pubTopics[0])
	})

	t.Run("stale reply from a timed-out exchange is drained first", func(t *testing.T) {
		client := &fakeClient{}
		tr := newTestTransport(client)
		tr.replies <- []byte(`{"code":9}`)
		client.onPublish = func([]byte) {
			tr.handleReply(nil, &fakeMessage{payload: []byte(`{"code":0}`)})
		}

		ack, err := tr.Post(context.Background(), []byte("{}"), make([]byte, 64))
		require.NoError(t, err)
		assert.Equal(t, `{"code":0}`, string(ack.Body))
	})

	t.Run("oversized reply keeps the prefix and reports truncation", func(t *testing.T) {
		client := &fakeClient{}
		tr := newTestTransport(client)
		client.onPublish = func([]byte) {
			tr.handleReply(nil, &fakeMessage{payload: []byte(`{"code":0,"detail":"much too long"}`)})
		}

		respBuf := make([]byte, 8)
		ack, err := tr.Post(context.Background(), []byte("{}"), respBuf)
		assert.ErrorIs(t, err, uplink.ErrBodyTruncated)
		assert.Equal(t, 200, ack.StatusCode)
		assert.Equal(t, `{"code":`, string(ack.Body))
	})

	t.Run("missing reply times out as a transport error", func(t *testing.T) {
		tr := newTestTransport(&fakeClient{})

		_, err := tr.Post(context.Background(), []byte("{}"), make([]byte, 64))
		var terr *uplink.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "reply", terr.Op)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("publish failure surfaces as a transport error", func(t *testing.T) {
		client := &fakeClient{publishErr: errors.New("broker gone")}
		tr := newTestTransport(client)

		_, err := tr.Post(context.Background(), []byte("{}"), make([]byte, 64))
		var terr *uplink.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "publish", terr.Op)
	})

	t.Run("canceled context aborts the reply wait", func(t *testing.T) {
		tr := newTestTransport(&fakeClient{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := tr.Post(ctx, []byte("{}"), make([]byte, 64))
		var terr *uplink.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "reply", terr.Op)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty response buffer is rejected", func(t *testing.T) {
		tr := newTestTransport(&fakeClient{})
		_, err := tr.Post(context.Background(), []byte("{}"), nil)
		assert.ErrorIs(t, err, uplink.ErrInvalidArgument)
	})
}

func TestTransportClose(t *testing.T) {
	client := &fakeClient{}
	tr := newTestTransport(client)
	require.NoError(t, tr.Close())
	assert.Equal(t, []string{"dev/reply"}, client.unsubscribed)
	assert.True(t, client.disconnected)
}
