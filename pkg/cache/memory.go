package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultMemoryTTL = 7 * 24 * time.Hour

type memoryItem struct {
	data     []byte
	set      map[string]struct{} // non-nil for set values
	expireAt time.Time
	access   time.Time
}

func (m *memoryItem) expired(now time.Time) bool { return now.After(m.expireAt) }

// MemoryCache implements Service in process with LRU eviction. Values are stored encoded,
// so Get behaves the same as it does on Redis.
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]*memoryItem
	maxSize int
	now     func() time.Time

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

var _ Service = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache and starts its expiry sweeper.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         10000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:    make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		now:     time.Now,
		ticker:  time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}
	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = defaultMemoryTTL
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	mc.data[key] = &memoryItem{data: data, expireAt: now.Add(expiration), access: now}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest any) error {
	mc.mu.Lock()
	item, ok := mc.lookup(key)
	var data []byte
	if ok {
		item.access = mc.now()
		data = item.data
	}
	mc.mu.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	if item.set != nil {
		return ErrWrongType
	}
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if _, ok := mc.lookup(key); ok {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if item, ok := mc.lookup(key); ok && item.set == nil {
			out[key] = string(item.data)
		}
	}
	return out, nil
}

func (mc *MemoryCache) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	item, ok := mc.lookup(key)
	if ok && item.set == nil {
		return ErrWrongType
	}
	if !ok {
		if len(mc.data) >= mc.maxSize {
			mc.evictLRU()
		}
		item = &memoryItem{set: make(map[string]struct{}, len(members)), expireAt: now.Add(defaultMemoryTTL)}
		mc.data[key] = item
	}
	for _, m := range members {
		item.set[m] = struct{}{}
	}
	if ttl > 0 {
		item.expireAt = now.Add(ttl)
	}
	item.access = now
	return nil
}

func (mc *MemoryCache) SMembers(_ context.Context, key string) ([]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.lookup(key)
	if !ok {
		return nil, nil
	}
	if item.set == nil {
		return nil, ErrWrongType
	}
	item.access = mc.now()
	out := make([]string, 0, len(item.set))
	for m := range item.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored keys, expired ones included until swept.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() {
		mc.ticker.Stop()
		close(mc.done)
	})
	return nil
}

// lookup must be called with mu held; it drops the key when expired.
func (mc *MemoryCache) lookup(key string) (*memoryItem, bool) {
	item, ok := mc.data[key]
	if !ok {
		return nil, false
	}
	if item.expired(mc.now()) {
		delete(mc.data, key)
		return nil, false
	}
	return item, true
}

func (mc *MemoryCache) evictLRU() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, item := range mc.data {
		if oldestKey == "" || item.access.Before(oldestTime) {
			oldestKey, oldestTime = key, item.access
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.ticker.C:
			mc.mu.Lock()
			now := mc.now()
			for key, item := range mc.data {
				if item.expired(now) {
					delete(mc.data, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
