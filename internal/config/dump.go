package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

// dumpYAML renders c with durations as Go duration strings; yaml.v3 would
// otherwise print them as nanosecond integers.
func dumpYAML(w io.Writer, c Config) error {
	doc := map[string]any{
		"schema_version":  c.SchemaVersion,
		"sink":            string(c.Sink),
		"payload_format":  string(c.PayloadFormat),
		"metrics_port":    c.MetricsPort,
		"grpc_port":       c.GRPCPort,
		"report_interval": c.ReportInterval.String(),
		"log": map[string]any{
			"level": c.Log.Level,
			"json":  c.Log.JSON,
		},
		"feed": map[string]any{
			"address":      c.Feed.Address,
			"dial_timeout": c.Feed.DialTimeout.String(),
		},
		"mqtt": map[string]any{
			"host":            c.MQTT.Host,
			"port":            c.MQTT.Port,
			"username":        c.MQTT.Username,
			"password":        c.MQTT.Password,
			"client_id":       c.MQTT.ClientID,
			"keep_alive":      c.MQTT.KeepAlive.String(),
			"connect_timeout": c.MQTT.ConnectTimeout.String(),
			"publish_timeout": c.MQTT.PublishTimeout.String(),
			"tls_enabled":     c.MQTT.TLSEnabled,
		},
		"kafka": map[string]any{
			"brokers":        c.Kafka.Brokers,
			"topic":          c.Kafka.Topic,
			"auth":           string(c.Kafka.Auth),
			"sasl_mechanism": c.Kafka.SASLMechanism,
			"sasl_user":      c.Kafka.SASLUser,
			"sasl_pass":      c.Kafka.SASLPass,
			"tls_enabled":    c.Kafka.TLSEnabled,
			"version":        c.Kafka.Version,
			"required_acks":  c.Kafka.RequiredAcks,
			"ack_timeout":    c.Kafka.AckTimeout.String(),
			"client_id":      c.Kafka.ClientID,
		},
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
