package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeClient records publishes and keeps subscription handlers. Methods the
// transport does not use are left to the embedded nil interface.
type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	published    []Message
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	publishErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, Message{Topic: topic, Payload: payload.([]byte)})
	return &doneToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return &doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &doneToken{}
}

func (c *fakeClient) Disconnect(uint) {}

func (c *fakeClient) deliver(filter, topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[filter]
	c.mu.Unlock()
	h(c, &fakeMessage{topic: topic, payload: payload})
}

func TestMQTTTransport_Publish(t *testing.T) {
	client := newFakeClient()
	tr := NewMQTTTransport(client, 1)

	require.NoError(t, tr.Publish(context.Background(), "hives/1/strength", []byte(`{}`)))
	assert.Equal(t, []Message{{Topic: "hives/1/strength", Payload: []byte(`{}`)}}, client.published)

	client.publishErr = assert.AnError
	assert.ErrorIs(t, tr.Publish(context.Background(), "hives/1/strength", []byte(`{}`)), assert.AnError)
}

func TestMQTTTransport_Subscribe(t *testing.T) {
	client := newFakeClient()
	tr := NewMQTTTransport(client, 1)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := tr.Subscribe(ctx, "hives/+/readings")
	require.NoError(t, err)

	client.deliver("hives/+/readings", "hives/2/readings", []byte(`{"temperature": 34}`))
	msg := <-ch
	assert.Equal(t, "hives/2/readings", msg.Topic)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)

	// 閉じた後の配信はpanicしない
	client.deliver("hives/+/readings", "hives/2/readings", []byte(`{}`))
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"hives/+/readings"}, client.unsubscribed)
	tr.Close()
}
