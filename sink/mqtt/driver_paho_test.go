package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paho "github.com/eclipse/paho.mqtt.golang"

	"adsbrelay/internal/adsb"
	"adsbrelay/sink"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connectTok   paho.Token
	publishTok   func() paho.Token
	sent         []published
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token { return c.connectTok }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	c.mu.Unlock()
	if c.publishTok != nil {
		return c.publishTok()
	}
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func testPublisher(t *testing.T, cfg Config, cl *fakeClient) *Publisher {
	t.Helper()
	cfg.ApplyDefaults()
	p := newPublisher(cfg, sink.FormatJSON)
	p.cl = cl
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func record() adsb.Record {
	lat := 51.5
	return adsb.Record{Kind: adsb.KindTelemetry, TransmissionType: 3, HexIdent: "ABC123", Latitude: &lat}
}

func TestPublisher_PublishQoS1ToDerivedTopic(t *testing.T) {
	cl := &fakeClient{}
	p := testPublisher(t, Config{Host: "localhost"}, cl)

	out := p.Publish(context.Background(), record())
	require.NoError(t, out.Err)
	assert.Equal(t, "adsb/ABC123/3", out.Destination)

	require.Len(t, cl.sent, 1)
	assert.Equal(t, "adsb/ABC123/3", cl.sent[0].topic)
	assert.Equal(t, byte(1), cl.sent[0].qos)
	assert.False(t, cl.sent[0].retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(cl.sent[0].payload, &body))
	assert.Equal(t, "ABC123", body["hex_ident"])
	assert.Equal(t, 51.5, body["latitude"])
	assert.Nil(t, body["altitude"])
}

func TestPublisher_TransportErrorIsFailure(t *testing.T) {
	boom := errors.New("not connected")
	cl := &fakeClient{publishTok: func() paho.Token { return completedToken(boom) }}
	p := testPublisher(t, Config{Host: "localhost"}, cl)

	out := p.Publish(context.Background(), record())
	assert.False(t, out.OK())
	assert.ErrorIs(t, out.Err, boom)
}

func TestPublisher_PublishTimeout(t *testing.T) {
	cl := &fakeClient{publishTok: func() paho.Token { return pendingToken() }}
	p := testPublisher(t, Config{Host: "localhost", PublishTimeout: 10 * time.Millisecond}, cl)

	out := p.Publish(context.Background(), record())
	assert.ErrorIs(t, out.Err, ErrPublishTimeout)
}

func TestPublisher_ContextCancelled(t *testing.T) {
	cl := &fakeClient{publishTok: func() paho.Token { return pendingToken() }}
	p := testPublisher(t, Config{Host: "localhost"}, cl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := p.Publish(ctx, record())
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestPublisher_ConnectErrors(t *testing.T) {
	refused := errors.New("connection refused")
	p := testPublisher(t, Config{Host: "localhost"}, &fakeClient{connectTok: completedToken(refused)})
	assert.ErrorIs(t, p.connect(), refused)

	p = testPublisher(t, Config{Host: "localhost", ConnectTimeout: 10 * time.Millisecond},
		&fakeClient{connectTok: pendingToken()})
	assert.ErrorIs(t, p.connect(), ErrConnectTimeout)

	p = testPublisher(t, Config{Host: "localhost"}, &fakeClient{connectTok: completedToken(nil)})
	assert.NoError(t, p.connect())
}

func TestPublisher_ListenerDrainsEvents(t *testing.T) {
	cl := &fakeClient{}
	p := testPublisher(t, Config{Host: "localhost"}, cl)

	p.notify(event{kind: evConnected})
	p.notify(event{kind: evLost, err: errors.New("eof")})
	p.notify(event{kind: evReconnecting})

	require.Eventually(t, func() bool { return p.drained.Load() == 3 }, time.Second, 5*time.Millisecond)

	out := p.Publish(context.Background(), record())
	assert.NoError(t, out.Err, "listener activity must not affect publish")
}

func TestPublisher_NotifyNeverBlocks(t *testing.T) {
	p := &Publisher{events: make(chan event, 1)}
	p.notify(event{kind: evConnected})
	p.notify(event{kind: evConnected}) // buffer full, dropped
	assert.Len(t, p.events, 1)
}

func TestPublisher_Close(t *testing.T) {
	cl := &fakeClient{}
	p := testPublisher(t, Config{Host: "localhost"}, cl)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, cl.disconnected)
	assert.ErrorIs(t, p.Publish(context.Background(), record()).Err, ErrClosed)
}

func TestConfig(t *testing.T) {
	c := Config{Host: "broker.local"}
	c.ApplyDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, "tcp://broker.local:1883", c.BrokerURL())
	assert.Equal(t, DefaultClientID, c.ClientID)
	assert.Equal(t, DefaultKeepAlive, c.KeepAlive)

	c.TLSEnabled, c.Port = true, 8883
	assert.Equal(t, "ssl://broker.local:8883", c.BrokerURL())

	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Host: "h", Port: 70000}.Validate())
	assert.Error(t, Config{Host: "h", Port: 1883, Password: "p"}.Validate())
}

func TestClientOptions(t *testing.T) {
	cfg := Config{Host: "h", Username: "u", Password: "p", TLSEnabled: true}
	cfg.ApplyDefaults()
	p := newPublisher(cfg, sink.FormatJSON)
	defer p.Close()

	opts := p.clientOptions()
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.Equal(t, DefaultClientID, opts.ClientID)
	assert.Equal(t, int64(5), opts.KeepAlive)
	assert.NotNil(t, opts.TLSConfig)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://h:1883", opts.Servers[0].String())
}
