// Package stream is the live websocket source of market snapshots.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	applogger "BetPull/pkg/logger"
)

var ErrNotConnected = errors.New("stream not connected")

// Config configures the websocket client.
type Config struct {
	URL            string
	Token          string
	MarketIDs      []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type subscribeRequest struct {
	Op        string   `json:"op"`
	MarketIDs []string `json:"market_ids"`
}

const (
	frameSnapshot  = "snapshot"
	frameHeartbeat = "heartbeat"
	frameError     = "error"
)

// Client implements SnapshotStream over a websocket.
type Client struct {
	cfg Config
	log *applogger.Logger

	mu        sync.Mutex // guards conn and serializes writes
	conn      *websocket.Conn
	connected bool
}

var _ domrepo.SnapshotStream = (*Client)(nil)

func New(cfg Config, log *applogger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Client{cfg: cfg, log: log}
}

// Connect dials the endpoint, sending the token as a bearer header.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("stream connected", applogger.String("url", c.cfg.URL))
	return nil
}

// Subscribe asks for the configured markets; an empty list means every market the feed offers.
func (c *Client) Subscribe(_ context.Context) error {
	req := subscribeRequest{Op: "subscribe", MarketIDs: c.cfg.MarketIDs}
	if err := c.writeJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Info("stream subscribed", applogger.Strings("market_ids", c.cfg.MarketIDs))
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Read streams snapshots until the connection fails or ctx ends. Both channels close when
// reading stops; at most one error is delivered.
func (c *Client) Read(ctx context.Context) (<-chan *models.Snapshot, <-chan error) {
	out := make(chan *models.Snapshot, c.cfg.BufferSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	rctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					c.log.Warn("stream ping failed", applogger.Error(err))
				}
			}
		}
	}()

	go func() {
		defer close(out)
		defer close(errs)
		defer cancel()
		if conn == nil {
			errs <- ErrNotConnected
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if rctx.Err() == nil {
					errs <- fmt.Errorf("stream read: %w", err)
				}
				return
			}
			s, err := decodeFrame(b)
			if err != nil {
				c.log.Warn("stream frame rejected", applogger.Error(err))
				continue
			}
			if s == nil {
				continue
			}
			select {
			case out <- s:
			case <-rctx.Done():
				return
			}
		}
	}()

	return out, errs
}

// decodeFrame returns nil without error for frames that carry no snapshot.
func decodeFrame(b []byte) (*models.Snapshot, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case frameSnapshot:
		var s models.Snapshot
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return &s, nil
	case frameError:
		return nil, fmt.Errorf("feed error: %s", string(f.Data))
	default:
		return nil, nil
	}
}

// Reconnect closes, waits the reconnect delay and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
