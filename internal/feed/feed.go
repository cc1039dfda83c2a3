// Package feed opens the newline-delimited BaseStation stream the relay reads
// from: a TCP connection to a decoder (dump1090 port 30003 and friends), a
// recorded file, or stdin.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultDialTimeout = 10 * time.Second

type Config struct {
	// Address is tcp://host:port, host:port, file:///path or "-" for stdin.
	Address     string        `koanf:"address" yaml:"address"`
	Host        string        `koanf:"host" yaml:"host"` // used with Port when Address is empty
	Port        int           `koanf:"port" yaml:"port"`
	DialTimeout time.Duration `koanf:"dial_timeout" yaml:"dial_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.Address == "" && c.Host != "" && c.Port != 0 {
		c.Address = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("feed: address not set")
	}
	return nil
}

// Open connects to the configured source. The caller owns the returned
// reader and must close it.
func Open(ctx context.Context, c Config) (io.ReadCloser, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch {
	case c.Address == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(c.Address, "file://"):
		f, err := os.Open(strings.TrimPrefix(c.Address, "file://"))
		if err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
		return f, nil
	default:
		addr := strings.TrimPrefix(c.Address, "tcp://")
		d := net.Dialer{Timeout: c.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("feed: dial %s: %w", addr, err)
		}
		return conn, nil
	}
}
