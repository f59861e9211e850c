package uplink

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scheme selects the transport security mode for the default transport.
type Scheme string

const (
	// SchemePlain is plaintext HTTP.
	SchemePlain Scheme = "http"
	// SchemeSecure is reserved for a future TLS transport. It validates
	// but New fails with ErrUnsupported until an implementation exists.
	SchemeSecure Scheme = "https"
)

// Endpoint identifies the collector to post events to.
type Endpoint struct {
	Scheme Scheme `yaml:"scheme"`
	Host   string `yaml:"host"`
	Port   uint16 `yaml:"port"`
	Path   string `yaml:"path"`
}

// Addr returns the host:port dial address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// Config is the immutable-after-construction parameter set of a Core.
// New validates it and keeps a copy, so later mutation by the caller
// cannot affect a running Core.
type Config struct {
	Endpoint Endpoint `yaml:"endpoint"`

	// DeviceID identifies this producer to the collector.
	DeviceID string `yaml:"device_id"`

	// QueueLen is the ring buffer capacity, 1..MaxQueueLen.
	QueueLen uint16 `yaml:"queue_len"`

	// SendTimeout and RecvTimeout bound each transport exchange. In YAML
	// files duration fields are integer nanoseconds.
	SendTimeout time.Duration `yaml:"send_timeout"`
	RecvTimeout time.Duration `yaml:"recv_timeout"`

	Retry RetryPolicy `yaml:"retry"`
}

// DefaultConfig returns a Config suitable for a local collector.
func DefaultConfig() Config {
	return Config{
		Endpoint: Endpoint{
			Scheme: SchemePlain,
			Host:   "127.0.0.1",
			Port:   8080,
			Path:   "/api/uplink",
		},
		DeviceID:    "device-0",
		QueueLen:    8,
		SendTimeout: 2 * time.Second,
		RecvTimeout: 2 * time.Second,
		Retry: RetryPolicy{
			BaseDelay:     500 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			MaxAttempts:   10,
			JitterPercent: 20,
		},
	}
}

// LoadConfig reads a YAML config file applied over DefaultConfig, so a
// file only needs the fields it overrides. The result is validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration. A Core can only be constructed from
// a valid Config.
func (c Config) Validate() error {
	switch c.Endpoint.Scheme {
	case SchemePlain, SchemeSecure:
	default:
		return fmt.Errorf("%w: unknown scheme %q", ErrInvalidArgument, c.Endpoint.Scheme)
	}
	if c.Endpoint.Host == "" {
		return fmt.Errorf("%w: endpoint host is empty", ErrInvalidArgument)
	}
	if c.Endpoint.Port == 0 {
		return fmt.Errorf("%w: endpoint port is zero", ErrInvalidArgument)
	}
	if !strings.HasPrefix(c.Endpoint.Path, "/") {
		return fmt.Errorf("%w: endpoint path %q must start with /", ErrInvalidArgument, c.Endpoint.Path)
	}
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device id is empty", ErrInvalidArgument)
	}
	if len(c.DeviceID) > MaxDeviceIDLen {
		return fmt.Errorf("%w: device id longer than %d bytes", ErrValueTooLong, MaxDeviceIDLen)
	}
	if c.QueueLen == 0 || c.QueueLen > MaxQueueLen {
		return fmt.Errorf("%w: queue length %d outside 1..%d", ErrInvalidArgument, c.QueueLen, MaxQueueLen)
	}
	if c.SendTimeout <= 0 || c.RecvTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidArgument)
	}
	return c.Retry.Validate()
}
