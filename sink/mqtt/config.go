package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultPort           = 1883
	DefaultClientID       = "adsb_publisher"
	DefaultKeepAlive      = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

type Config struct {
	Host           string        `koanf:"host" yaml:"host"`
	Port           int           `koanf:"port" yaml:"port"`
	Username       string        `koanf:"username" yaml:"username"`
	Password       string        `koanf:"password" yaml:"password"`
	ClientID       string        `koanf:"client_id" yaml:"client_id"`
	KeepAlive      time.Duration `koanf:"keep_alive" yaml:"keep_alive"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	PublishTimeout time.Duration `koanf:"publish_timeout" yaml:"publish_timeout"` // 0 = wait forever
	TLSEnabled     bool          `koanf:"tls_enabled" yaml:"tls_enabled"`
}

func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("mqtt-sink: host not set")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("mqtt-sink: port %d out of range", c.Port)
	}
	if c.Password != "" && c.Username == "" {
		return errors.New("mqtt-sink: password set without username")
	}
	return nil
}

// BrokerURL is the paho broker address, tcp:// or ssl:// depending on TLS.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.TLSEnabled {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
