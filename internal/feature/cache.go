package feature

import (
	"time"
)

// Entry is one cached feature sample.
type Entry struct {
	Value Value     `json:"value"`
	Time  time.Time `json:"time"`
}

// Bound is a cache eviction policy. At most one of Count and Duration may be set;
// the zero Bound keeps everything.
type Bound struct {
	Count    int
	Duration time.Duration
}

// Unbounded reports whether no eviction applies.
func (b Bound) Unbounded() bool { return b.Count <= 0 && b.Duration <= 0 }

func (b Bound) validate() error {
	if b.Count > 0 && b.Duration > 0 {
		return ErrConflictingBounds
	}
	if b.Count < 0 || b.Duration < 0 {
		return ErrNegativeBound
	}
	return nil
}

// Cache is a deque of samples evicted from the front by its Bound.
type Cache struct {
	buf   []Entry
	head  int
	bound Bound
}

// NewCache creates a cache with the given bound.
func NewCache(b Bound) (*Cache, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &Cache{bound: b}, nil
}

// Bound returns the eviction policy.
func (c *Cache) Bound() Bound { return c.bound }

// Len returns the number of cached samples.
func (c *Cache) Len() int { return len(c.buf) - c.head }

// Push appends a sample and enforces the bound.
func (c *Cache) Push(v Value, ts time.Time) {
	c.buf = append(c.buf, Entry{Value: v, Time: ts})
	c.evict()
}

func (c *Cache) evict() {
	switch {
	case c.bound.Count > 0:
		for c.Len() > c.bound.Count {
			c.dropFront()
		}
	case c.bound.Duration > 0:
		newest := c.buf[len(c.buf)-1].Time
		for c.Len() > 1 && newest.Sub(c.buf[c.head].Time) > c.bound.Duration {
			c.dropFront()
		}
	}
	if c.head > 64 && c.head*2 > len(c.buf) {
		n := copy(c.buf, c.buf[c.head:])
		clear(c.buf[n:])
		c.buf = c.buf[:n]
		c.head = 0
	}
}

func (c *Cache) dropFront() {
	c.buf[c.head] = Entry{}
	c.head++
}

// Last returns the newest sample.
func (c *Cache) Last() (Entry, bool) {
	if c.Len() == 0 {
		return Entry{}, false
	}
	return c.buf[len(c.buf)-1], true
}

// First returns the oldest sample.
func (c *Cache) First() (Entry, bool) {
	if c.Len() == 0 {
		return Entry{}, false
	}
	return c.buf[c.head], true
}

// Entries returns the samples oldest first. The slice must not be modified.
func (c *Cache) Entries() []Entry { return c.buf[c.head:] }

// Tail returns at most the newest n samples, or all when n <= 0.
func (c *Cache) Tail(n int) []Entry {
	es := c.Entries()
	if n <= 0 || n >= len(es) {
		return es
	}
	return es[len(es)-n:]
}

// Since returns the samples no older than d relative to at.
func (c *Cache) Since(at time.Time, d time.Duration) []Entry {
	es := c.Entries()
	i := len(es)
	for i > 0 && at.Sub(es[i-1].Time) <= d {
		i--
	}
	return es[i:]
}

// Reset drops every sample.
func (c *Cache) Reset() {
	c.buf = nil
	c.head = 0
}
