package usecase

import (
	"context"
	"sync"

	domrepo "BetPull/internal/domain/repository"
	applogger "BetPull/pkg/logger"
)

// SnapshotCollector pumps a live stream into the pipeline and reconnects when the stream fails.
type SnapshotCollector struct {
	stream  domrepo.SnapshotStream
	sink    SnapshotSink
	metrics domrepo.Metrics
	log     *applogger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSnapshotCollector(stream domrepo.SnapshotStream, sink SnapshotSink, metrics domrepo.Metrics, log *applogger.Logger) *SnapshotCollector {
	if log == nil {
		log = applogger.Nop()
	}
	return &SnapshotCollector{stream: stream, sink: sink, metrics: metrics, log: log}
}

func (c *SnapshotCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects, subscribes and begins consuming in the background.
func (c *SnapshotCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

func (c *SnapshotCollector) consume(ctx context.Context) {
	defer c.wg.Done()
	for {
		snaps, errs := c.stream.Read(ctx)
		for s := range snaps {
			if err := c.sink.Process(ctx, s); err != nil {
				c.log.Debug("snapshot rejected", applogger.MarketID(s.MarketID), applogger.Error(err))
			}
		}
		err := <-errs
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.log.Warn("stream failed, reconnecting", applogger.Error(err))
		for {
			rerr := c.stream.Reconnect(ctx)
			if rerr == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.metrics.RecordError("stream_reconnect")
			c.log.Error("stream reconnect failed", applogger.Error(rerr))
		}
	}
}

// Shutdown stops consuming and closes the stream.
func (c *SnapshotCollector) Shutdown(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	c.wg.Wait()
	return err
}
