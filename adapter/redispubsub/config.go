package redispubsub

import (
	"fmt"
	"os"
	"time"
)

// Config for the Redis pub/sub host.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Channels
	Prefix string
	HostID string

	// BufferSize is the event loop queue size.
	BufferSize int
	// PublishTimeout bounds a single PUBLISH.
	PublishTimeout time.Duration
	// NoBody starts the host with a document that has no body.
	NoBody bool
}

// Defaults returns a Config with local defaults.
func Defaults() Config {
	return Config{
		Addr:           "127.0.0.1:6379",
		Prefix:         "xembed",
		HostID:         defaultHostID(),
		BufferSize:     1024,
		PublishTimeout: 2 * time.Second,
	}
}

func defaultHostID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xembed"
	}
	return fmt.Sprintf("xembed-%s-%d", hostname, os.Getpid())
}

// Validate checks Config before connecting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("config: prefix required")
	}
	if c.HostID == "" {
		return fmt.Errorf("config: host_id required")
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be >= 1, got %d", c.BufferSize)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("config: publish_timeout must be > 0, got %v", c.PublishTimeout)
	}
	return nil
}

// toMap converts Config to generic map for the host factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"prefix":          c.Prefix,
		"host_id":         c.HostID,
		"buffer_size":     c.BufferSize,
		"publish_timeout": c.PublishTimeout,
		"no_body":         c.NoBody,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := m["db"].(int); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["prefix"].(string); ok && v != "" {
		c.Prefix = v
	}
	if v, ok := m["host_id"].(string); ok && v != "" {
		c.HostID = v
	}
	if v, ok := m["buffer_size"].(int); ok && v > 0 {
		c.BufferSize = v
	}
	switch v := m["publish_timeout"].(type) {
	case time.Duration:
		if v > 0 {
			c.PublishTimeout = v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.PublishTimeout = d
		}
	}
	if v, ok := m["no_body"].(bool); ok {
		c.NoBody = v
	}

	return c
}
