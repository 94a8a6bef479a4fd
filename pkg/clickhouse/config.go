package clickhouse

import (
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds connection and session settings for the feature store.
type ClientConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration

	UseHTTP bool
	// Compression is "", "none", "lz4" or "zstd".
	Compression  string
	AsyncInsert  bool
	WaitForAsync bool
	MaxExecTime  time.Duration
}

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Port:            9000,
		Database:        "default",
		User:            "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		Compression:     "lz4",
	}
}

func (c *ClientConfig) addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func (c *ClientConfig) validate() error {
	if c.Host == "" {
		return errors.New("clickhouse: host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("clickhouse: invalid port %d", c.Port)
	}
	if _, err := compressionMethod(c.Compression); err != nil {
		return err
	}
	return nil
}

func compressionMethod(name string) (clickhouse.CompressionMethod, error) {
	switch name {
	case "", "none":
		return clickhouse.CompressionNone, nil
	case "lz4":
		return clickhouse.CompressionLZ4, nil
	case "zstd":
		return clickhouse.CompressionZSTD, nil
	}
	return clickhouse.CompressionNone, fmt.Errorf("clickhouse: unknown compression %q", name)
}

func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) { c.Host, c.Port = host, port }
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) { c.Database = database }
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) { c.User, c.Password = user, password }
}

// WithPool sizes the connection pool.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.MaxOpenConns, c.MaxIdleConns = maxOpen, maxIdle
		if lifetime > 0 {
			c.ConnMaxLifetime = lifetime
		}
	}
}

func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) { c.DialTimeout, c.ReadTimeout = dial, read }
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

func WithCompression(method string) ClientOption {
	return func(c *ClientConfig) { c.Compression = method }
}

// WithAsyncInsert sets async_insert and wait_for_async_insert on every session.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) { c.AsyncInsert, c.WaitForAsync = enabled, wait }
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}
