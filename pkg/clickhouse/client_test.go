package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configWith(opts ...ClientOption) *ClientConfig {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func TestBuildOptions(t *testing.T) {
	cfg := configWith(
		WithAddr("ch", 9440),
		WithDatabase("betpull"),
		WithCredentials("svc", "pw"),
		WithTimeouts(time.Second, 2*time.Second),
		WithPool(20, 4, 0),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(90*time.Second),
	)
	require.NoError(t, cfg.validate())

	opts := buildOptions(cfg)
	assert.Equal(t, []string{"ch:9440"}, opts.Addr)
	assert.Equal(t, "betpull", opts.Auth.Database)
	assert.Equal(t, "svc", opts.Auth.Username)
	assert.Equal(t, clickhouse.Native, opts.Protocol)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, 20, opts.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, opts.ConnMaxLifetime)
	assert.Equal(t, 90, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["wait_for_async_insert"])
	require.NotNil(t, opts.Compression)
	assert.Equal(t, clickhouse.CompressionLZ4, opts.Compression.Method)

	cfg = configWith(WithAddr("ch", 8123), WithHTTP(true), WithCompression("none"))
	opts = buildOptions(cfg)
	assert.Equal(t, clickhouse.HTTP, opts.Protocol)
	assert.Nil(t, opts.Compression)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorContains(t, configWith().validate(), "host is required")
	assert.ErrorContains(t, configWith(WithAddr("ch", 0)).validate(), "invalid port")
	assert.ErrorContains(t, configWith(WithAddr("ch", 9000), WithCompression("snappy")).validate(), "unknown compression")
	assert.NoError(t, configWith(WithAddr("ch", 9000), WithCompression("zstd")).validate())
}
