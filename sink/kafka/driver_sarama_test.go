package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsbrelay/internal/adsb"
	"adsbrelay/sink"
)

func testRecord(ident string) adsb.Record {
	alt := uint32(5000)
	return adsb.Record{Kind: adsb.KindTelemetry, TransmissionType: 3, HexIdent: ident, Altitude: &alt}
}

func mockProducer(t *testing.T) *mocks.AsyncProducer {
	sc := mocks.NewTestConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	return mocks.NewAsyncProducer(t, sc)
}

func TestProducer_PublishSuccess(t *testing.T) {
	mp := mockProducer(t)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		key, _ := m.Key.Encode()
		if string(key) != "ABC123" {
			return errors.New("key is not the hex ident")
		}
		if m.Topic != "adsb" {
			return errors.New("unexpected topic " + m.Topic)
		}
		raw, _ := m.Value.Encode()
		var p map[string]any
		return json.Unmarshal(raw, &p)
	})

	d := newProducer(Config{Topic: "adsb"}, sink.FormatJSON, mp)
	defer d.Close()

	out := d.Publish(context.Background(), testRecord("ABC123"))
	require.NoError(t, out.Err)
	assert.Equal(t, "adsb", out.Destination)
	assert.Equal(t, "kafka", d.Name())
}

func TestProducer_PublishFailure(t *testing.T) {
	mp := mockProducer(t)
	mp.ExpectInputAndFail(sarama.ErrNotLeaderForPartition)

	d := newProducer(Config{Topic: "adsb"}, sink.FormatJSON, mp)
	defer d.Close()

	out := d.Publish(context.Background(), testRecord("ABC123"))
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, sarama.ErrNotLeaderForPartition)
}

func TestProducer_OrderedOutcomes(t *testing.T) {
	mp := mockProducer(t)
	mp.ExpectInputAndSucceed()
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)
	mp.ExpectInputAndSucceed()

	d := newProducer(Config{Topic: "adsb"}, sink.FormatJSON, mp)
	defer d.Close()

	assert.NoError(t, d.Publish(context.Background(), testRecord("A")).Err)
	assert.Error(t, d.Publish(context.Background(), testRecord("B")).Err)
	assert.NoError(t, d.Publish(context.Background(), testRecord("C")).Err)
}

// silentProducer accepts input but only acks when the test says so.
type silentProducer struct {
	sarama.AsyncProducer
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func newSilentProducer() *silentProducer {
	return &silentProducer{
		input:     make(chan *sarama.ProducerMessage, 4),
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
	}
}

func (s *silentProducer) Input() chan<- *sarama.ProducerMessage     { return s.input }
func (s *silentProducer) Successes() <-chan *sarama.ProducerMessage { return s.successes }
func (s *silentProducer) Errors() <-chan *sarama.ProducerError      { return s.errors }
func (s *silentProducer) AsyncClose() {
	close(s.successes)
	close(s.errors)
}

func TestProducer_AckTimeoutThenLateAckDiscarded(t *testing.T) {
	sp := newSilentProducer()
	d := newProducer(Config{Topic: "adsb", AckTimeout: 20 * time.Millisecond}, sink.FormatJSON, sp)

	out := d.Publish(context.Background(), testRecord("SLOW"))
	require.ErrorIs(t, out.Err, ErrAckTimeout)

	late := <-sp.input
	sp.successes <- late // nobody waits for it any more

	go func() {
		m := <-sp.input
		sp.successes <- m
	}()
	out = d.Publish(context.Background(), testRecord("FAST"))
	require.NoError(t, out.Err)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Publish(context.Background(), testRecord("X")).Err, ErrClosed)
}

func TestProducer_ContextCancelled(t *testing.T) {
	sp := newSilentProducer()
	d := newProducer(Config{Topic: "adsb", AckTimeout: time.Minute}, sink.FormatJSON, sp)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sp.input
		cancel()
	}()
	out := d.Publish(ctx, testRecord("X"))
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	base := Config{Brokers: []string{"localhost:9092"}, Topic: "adsb"}

	c := base
	c.ApplyDefaults()
	assert.Equal(t, AuthSCRAM, c.Auth)
	assert.ErrorIs(t, c.Validate(), ErrMissingCredentials)

	c.SASLUser, c.SASLPass = "u", "p"
	assert.NoError(t, c.Validate())

	c.SASLMechanism = "GSSAPI"
	assert.Error(t, c.Validate())

	c = base
	c.Auth = AuthAnonymous
	c.ApplyDefaults()
	assert.NoError(t, c.Validate())

	c.Auth = "kerberos"
	assert.Error(t, c.Validate())

	c = Config{Topic: "adsb", Auth: AuthAnonymous}
	assert.Error(t, c.Validate())
}

func TestConfig_SecurityProtocol(t *testing.T) {
	cases := []struct {
		auth AuthMode
		tls  bool
		want string
	}{
		{AuthAnonymous, false, "PLAINTEXT"},
		{AuthAnonymous, true, "SSL"},
		{AuthSCRAM, false, "SASL_PLAINTEXT"},
		{AuthSCRAM, true, "SASL_SSL"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Config{Auth: tc.auth, TLSEnabled: tc.tls}.SecurityProtocol())
	}
}

func TestSaramaConfig_DefaultAcksWaitForLeader(t *testing.T) {
	c := Config{Brokers: []string{"b:9092"}, Topic: "adsb", Auth: AuthAnonymous, RequiredAcks: DefaultRequiredAcks}
	c.ApplyDefaults()

	sc, err := saramaConfig(c)
	require.NoError(t, err)
	assert.Equal(t, sarama.WaitForLocal, sc.Producer.RequiredAcks)
}

func TestSaramaConfig(t *testing.T) {
	c := Config{Brokers: []string{"b:9092"}, Topic: "adsb", SASLUser: "u", SASLPass: "p", TLSEnabled: true, RequiredAcks: -1}
	c.ApplyDefaults()

	sc, err := saramaConfig(c)
	require.NoError(t, err)
	assert.True(t, sc.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), sc.Net.SASL.Mechanism)
	require.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)
	assert.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc())
	assert.True(t, sc.Net.TLS.Enable)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.True(t, sc.Producer.Return.Successes)
	assert.Equal(t, DefaultClientID, sc.ClientID)
	assert.NoError(t, sc.Validate())

	c.Version = "not-a-version"
	_, err = saramaConfig(c)
	assert.Error(t, err)
}
