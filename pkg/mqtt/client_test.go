package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-vitals/pkg/config"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakePaho 记录订阅调用
type fakePaho struct {
	mu           sync.Mutex
	subscribeErr error
	subscribed   []string
	unsubscribed []string
	callbacks    map[string]paho.MessageHandler
}

func newFakePaho() *fakePaho {
	return &fakePaho{callbacks: make(map[string]paho.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool      { return true }
func (f *fakePaho) IsConnectionOpen() bool { return true }
func (f *fakePaho) Connect() paho.Token    { return &fakeToken{} }
func (f *fakePaho) Disconnect(uint)        {}
func (f *fakePaho) Publish(string, byte, bool, interface{}) paho.Token {
	return &fakeToken{}
}
func (f *fakePaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return &fakeToken{err: f.subscribeErr}
	}
	f.subscribed = append(f.subscribed, topic)
	f.callbacks[topic] = cb
	return &fakeToken{}
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &fakeToken{}
}
func (f *fakePaho) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return &fakeToken{}
}
func (f *fakePaho) AddRoute(string, paho.MessageHandler)    {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func newTestClient(f *fakePaho) *Client {
	return &Client{
		client: f,
		config: &config.MQTTConfig{Broker: "tcp://test:1883"},
		logger: zap.NewNop(),
		subs:   make(map[string]subscription),
	}
}

func TestSubscribe_DispatchesMessages(t *testing.T) {
	f := newFakePaho()
	c := newTestClient(f)

	var got []string
	require.NoError(t, c.Subscribe("ble/dev-1/data", 1, func(topic string, payload []byte) error {
		got = append(got, topic+":"+string(payload))
		return errors.New("handler errors are only logged")
	}))
	assert.Equal(t, 1, c.Subscriptions())

	f.callbacks["ble/dev-1/data"](nil, &fakeMessage{topic: "ble/dev-1/data", payload: []byte(`{"hr":70}`)})
	assert.Equal(t, []string{`ble/dev-1/data:{"hr":70}`}, got)
}

func TestSubscribe_FailureNotRecorded(t *testing.T) {
	f := newFakePaho()
	f.subscribeErr = errors.New("not authorized")
	c := newTestClient(f)

	err := c.Subscribe("ble/dev-1/data", 0, func(string, []byte) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ble/dev-1/data")
	assert.Equal(t, 0, c.Subscriptions())
}

func TestResubscribe_RestoresTrackedTopics(t *testing.T) {
	f := newFakePaho()
	c := newTestClient(f)
	noop := func(string, []byte) error { return nil }

	require.NoError(t, c.Subscribe("ble/a/data", 0, noop))
	require.NoError(t, c.Subscribe("ble/b/data", 0, noop))
	require.NoError(t, c.Unsubscribe("ble/a/data"))
	assert.Equal(t, []string{"ble/a/data"}, f.unsubscribed)

	f.subscribed = nil
	c.resubscribe()
	assert.Equal(t, []string{"ble/b/data"}, f.subscribed)
	assert.Equal(t, 1, c.Subscriptions())
}
