package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"adsbrelay/internal/feed"
	"adsbrelay/internal/logging"
	"adsbrelay/sink"
	"adsbrelay/sink/kafka"
	"adsbrelay/sink/mqtt"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "ADSBRELAY__"

	DefaultMetricsPort    = 9100
	DefaultReportInterval = 10 * time.Second
)

var ErrInvalid = errors.New("invalid configuration")

// Config is assembled once at startup and handed to each component by value.
type Config struct {
	SchemaVersion string      `koanf:"schema_version"`
	Sink          sink.Kind   `koanf:"sink"`           // mqtt (default) | kafka
	PayloadFormat sink.Format `koanf:"payload_format"` // json (default) | proto

	Feed  feed.Config  `koanf:"feed"`
	MQTT  mqtt.Config  `koanf:"mqtt"`
	Kafka kafka.Config `koanf:"kafka"`

	Log            logging.Options `koanf:"log"`
	MetricsPort    int             `koanf:"metrics_port"` // 0 = disabled
	GRPCPort       int             `koanf:"grpc_port"`    // 0 = disabled
	ReportInterval time.Duration   `koanf:"report_interval"`
}

// Load merges, in increasing precedence: built-in defaults, the YAML file at
// path (a missing file is fine), the legacy unprefixed env vars, and env vars
// prefixed ADSBRELAY__ with "__" as the nesting delimiter.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	for key, v := range map[string]any{
		"kafka.tls_enabled":   true,
		"kafka.required_acks": int(kafka.DefaultRequiredAcks),
		"metrics_port":      DefaultMetricsPort,
		"report_interval":   DefaultReportInterval.String(),
	} {
		if err := k.Set(key, v); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("%w: schema_version %q not supported (want %s)", ErrInvalid, sv, SupportedSchema)
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyValue), nil); err != nil {
		return Config{}, err
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, "__", func(name, v string) (string, any) {
		key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		if key == "kafka__brokers" {
			return key, splitList(v)
		}
		return key, v
	}), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// legacyVars are the variable names the first relay read from a .env file.
var legacyVars = map[string]string{
	"ADSB_HOST":            "feed.host",
	"ADSB_PORT":            "feed.port",
	"MQTT_HOST":            "mqtt.host",
	"MQTT_PORT":            "mqtt.port",
	"MQTT_USERNAME":        "mqtt.username",
	"MQTT_PASSWORD":        "mqtt.password",
	"KAFKA_BROKERS":        "kafka.brokers",
	"KAFKA_TOPIC":          "kafka.topic",
	"KAFKA_AUTH_TYPE":      "kafka.auth",
	"KAFKA_ENABLE_TLS":     "kafka.tls_enabled",
	"KAFKA_USERNAME":       "kafka.sasl_user",
	"KAFKA_PASSWORD":       "kafka.sasl_pass",
	"KAFKA_SASL_MECHANISM": "kafka.sasl_mechanism",
}

// legacyValue maps a legacy variable to its config key. Anything else gets
// "", which the env provider skips. The TLS switch is on only for "true".
func legacyValue(name, v string) (string, any) {
	key := legacyVars[name]
	switch key {
	case "kafka.brokers":
		return key, splitList(v)
	case "kafka.tls_enabled":
		return key, strings.TrimSpace(v) == "true"
	}
	return key, v
}

// splitList turns "a, b,,c" into [a b c].
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.Sink == "" {
		c.Sink = sink.KindMQTT
	}
	if c.PayloadFormat == "" {
		c.PayloadFormat = sink.FormatJSON
	}
	c.Feed.ApplyDefaults()
	c.MQTT.ApplyDefaults()
	c.Kafka.ApplyDefaults()
	if c.ReportInterval < 0 {
		c.ReportInterval = 0
	}
}

// Validate checks the feed and the selected sink only; the other sink's
// section may be left empty.
func (c Config) Validate() error {
	kind, err := sink.ParseKind(string(c.Sink))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := sink.ParseFormat(string(c.PayloadFormat)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch kind {
	case sink.KindMQTT:
		err = c.MQTT.Validate()
	case sink.KindKafka:
		err = c.Kafka.Validate()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for printing.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	c.MQTT.Password = mask(c.MQTT.Password)
	c.Kafka.SASLPass = mask(c.Kafka.SASLPass)
	return c
}

// Dump writes the effective configuration as YAML with secrets masked.
func (c Config) Dump(w io.Writer) error {
	return dumpYAML(w, c.Redacted())
}
