package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Client owns a native ClickHouse connection pool.
type Client struct {
	conn     driver.Conn
	database string
}

// NewClient opens and pings a ClickHouse connection.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(buildOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("clickhouse open %s: %w", cfg.addr(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", cfg.addr(), err)
	}
	return &Client{conn: conn, database: cfg.Database}, nil
}

func (c *Client) Conn() driver.Conn { return c.conn }
func (c *Client) Database() string  { return c.database }
func (c *Client) Health(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// buildOptions expects a validated config.
func buildOptions(cfg *ClientConfig) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{cfg.addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Protocol:        clickhouse.Native,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Settings:        clickhouse.Settings{},
	}
	if cfg.UseHTTP {
		opts.Protocol = clickhouse.HTTP
	}
	if method, _ := compressionMethod(cfg.Compression); method != clickhouse.CompressionNone {
		opts.Compression = &clickhouse.Compression{Method: method}
	}
	if cfg.MaxExecTime > 0 {
		opts.Settings["max_execution_time"] = int(cfg.MaxExecTime.Seconds())
	}
	if cfg.AsyncInsert {
		opts.Settings["async_insert"] = 1
		if cfg.WaitForAsync {
			opts.Settings["wait_for_async_insert"] = 1
		}
	}
	return opts
}
