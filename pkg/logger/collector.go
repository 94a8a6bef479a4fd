package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships aggregated error logs; *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
	// Source keys the published batches, defaults to the hostname.
	Source string
}

// AggregatedLogEntry counts repeats of one error site. Fields are those of the latest occurrence.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogBatch is the published payload.
type LogBatch struct {
	Source    string               `json:"source"`
	FlushedAt time.Time            `json:"flushed_at"`
	Entries   []AggregatedLogEntry `json:"entries"`
}

// LogCollector aggregates error entries by (level, caller, message) and publishes them periodically.
type LogCollector struct {
	config  *CollectionConfig
	now     func() time.Time
	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry
	flushes sync.WaitGroup
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	if config.Source == "" {
		config.Source, _ = os.Hostname()
	}
	c := &LogCollector{
		config:  config,
		now:     time.Now,
		entries: make(map[uint64]*AggregatedLogEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

func entryKey(level, message, caller string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(level))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(caller))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(message))
	return h.Sum64()
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := c.now()
	key := entryKey(level, message, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		e.Fields = fields
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Caller:    caller,
			Fields:    fields,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(c.entries) >= c.config.CountThreshold {
		c.flushLocked()
	}
}

// Pending is the number of distinct entries waiting for the next flush.
func (c *LogCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LogCollector) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.stop:
			c.Flush()
			return
		}
	}
}

// Flush publishes pending entries in the background.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *LogCollector) flushLocked() {
	if len(c.entries) == 0 || c.config.Publisher == nil {
		return
	}
	batch := LogBatch{Source: c.config.Source, FlushedAt: c.now(), Entries: make([]AggregatedLogEntry, 0, len(c.entries))}
	for _, e := range c.entries {
		batch.Entries = append(batch.Entries, *e)
	}
	sort.Slice(batch.Entries, func(i, j int) bool { return batch.Entries[i].Count > batch.Entries[j].Count })
	c.entries = make(map[uint64]*AggregatedLogEntry)

	c.flushes.Add(1)
	go func() {
		defer c.flushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.config.Publisher.Publish(ctx, c.config.Topic, []byte(batch.Source), batch); err != nil {
			fmt.Fprintf(os.Stderr, "publish aggregated logs: %v\n", err)
		}
	}()
}

// Close stops the flush loop, publishes what is left and waits for in-flight publishes.
func (c *LogCollector) Close() {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		c.flushes.Wait()
	})
}
