package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

// AuthMode selects how the producer authenticates. Fixed for the process.
type AuthMode string

const (
	AuthAnonymous AuthMode = "anonymous"
	AuthSCRAM     AuthMode = "scram"
)

const (
	DefaultAckTimeout    = 5 * time.Second
	DefaultClientID      = "adsb_publisher"
	DefaultSASLMechanism = sarama.SASLTypeSCRAMSHA512

	// DefaultRequiredAcks waits for the partition leader to persist each
	// record before it counts as delivered.
	DefaultRequiredAcks = int16(sarama.WaitForLocal)
)

var ErrMissingCredentials = errors.New("kafka-sink: scram auth requires sasl_user and sasl_pass")

type Config struct {
	Brokers       []string      `koanf:"brokers" yaml:"brokers"`
	Topic         string        `koanf:"topic" yaml:"topic"`
	Auth          AuthMode      `koanf:"auth" yaml:"auth"`                     // anonymous|scram
	SASLMechanism string        `koanf:"sasl_mechanism" yaml:"sasl_mechanism"` // SCRAM-SHA-512|SCRAM-SHA-256|PLAIN
	SASLUser      string        `koanf:"sasl_user" yaml:"sasl_user"`
	SASLPass      string        `koanf:"sasl_pass" yaml:"sasl_pass"`
	TLSEnabled    bool          `koanf:"tls_enabled" yaml:"tls_enabled"`
	Version       string        `koanf:"version" yaml:"version"`
	RequiredAcks  int16         `koanf:"required_acks" yaml:"required_acks"` // 0,1,-1
	AckTimeout    time.Duration `koanf:"ack_timeout" yaml:"ack_timeout"`
	ClientID      string        `koanf:"client_id" yaml:"client_id"`
}

// ApplyDefaults fills unset fields. The TLS default lives in the config
// loader since false is a valid choice.
//
// The legacy auth values "Anonymous" and "SCRAM-SHA-512" / "SCRAM-SHA-256"
// are accepted and normalised.
func (c *Config) ApplyDefaults() {
	switch a := strings.ToLower(string(c.Auth)); {
	case a == "":
		c.Auth = AuthSCRAM
	case strings.HasPrefix(a, "scram-"):
		c.Auth = AuthSCRAM
		if c.SASLMechanism == "" {
			c.SASLMechanism = strings.ToUpper(a)
		}
	default:
		c.Auth = AuthMode(a)
	}
	if c.SASLMechanism == "" {
		c.SASLMechanism = string(DefaultSASLMechanism)
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka-sink: no brokers configured")
	}
	if c.Topic == "" {
		return errors.New("kafka-sink: no topic configured")
	}
	switch c.Auth {
	case AuthAnonymous:
	case AuthSCRAM:
		if c.SASLUser == "" || c.SASLPass == "" {
			return ErrMissingCredentials
		}
		switch sarama.SASLMechanism(c.SASLMechanism) {
		case sarama.SASLTypeSCRAMSHA512, sarama.SASLTypeSCRAMSHA256, sarama.SASLTypePlaintext:
		default:
			return fmt.Errorf("kafka-sink: unsupported sasl_mechanism %q", c.SASLMechanism)
		}
	default:
		return fmt.Errorf("kafka-sink: unknown auth mode %q", c.Auth)
	}
	return nil
}

// SecurityProtocol is the Kafka name for the selected auth and TLS combination.
func (c Config) SecurityProtocol() string {
	switch {
	case c.Auth == AuthAnonymous && c.TLSEnabled:
		return "SSL"
	case c.Auth == AuthAnonymous:
		return "PLAINTEXT"
	case c.TLSEnabled:
		return "SASL_SSL"
	default:
		return "SASL_PLAINTEXT"
	}
}

func saramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = c.ClientID
	if c.Version != "" {
		ver, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}

	sc.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)
	sc.Producer.Timeout = c.AckTimeout
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	if c.TLSEnabled {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.Auth == AuthSCRAM {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Handshake = true
		sc.Net.SASL.User, sc.Net.SASL.Password = c.SASLUser, c.SASLPass
		sc.Net.SASL.Mechanism = sarama.SASLMechanism(c.SASLMechanism)
		switch sc.Net.SASL.Mechanism {
		case sarama.SASLTypeSCRAMSHA512:
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha512.New}
			}
		case sarama.SASLTypeSCRAMSHA256:
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: sha256.New}
			}
		}
	}
	return sc, nil
}

// scramClient adapts xdg-go/scram to sarama.SCRAMClient.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *scramClient) Begin(user, password, authzID string) error {
	cl, err := x.HashGeneratorFcn.NewClient(user, password, authzID)
	if err != nil {
		return err
	}
	x.Client = cl
	x.ClientConversation = cl.NewConversation()
	return nil
}

func (x *scramClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *scramClient) Done() bool { return x.ClientConversation.Done() }
