package cache

import (
	"fmt"
	"time"
)

// RedisOption configures a RedisCache.
type RedisOption func(*RedisConfig)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Prefix namespaces every key; empty disables namespacing.
	Prefix string

	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	DialTimeout  time.Duration
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		Prefix:       "betpull",
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  30 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

func (c *RedisConfig) addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func WithRedisAddr(host string, port int) RedisOption {
	return func(c *RedisConfig) { c.Host, c.Port = host, port }
}

// WithRedisAuth sets the password and logical database.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) { c.Password, c.DB = password, db }
}

func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize, c.MinIdleConns = poolSize, minIdleConns
		if timeout > 0 {
			c.PoolTimeout = timeout
		}
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryConfig)

type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

// WithMemoryMaxSize bounds the number of keys; the least recently used key is evicted first.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		if size > 0 {
			c.MaxSize = size
		}
	}
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		if interval > 0 {
			c.CleanupInterval = interval
		}
	}
}
