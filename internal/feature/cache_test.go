package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheCountBound(t *testing.T) {
	c, err := NewCache(Bound{Count: 3})
	require.NoError(t, err)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 200; i++ {
		c.Push(float64(i), base.Add(time.Duration(i)*time.Second))
		assert.LessOrEqual(t, c.Len(), 3)
	}
	first, _ := c.First()
	last, _ := c.Last()
	assert.Equal(t, 197.0, first.Value)
	assert.Equal(t, 199.0, last.Value)
	assert.Len(t, c.Tail(2), 2)
	assert.Len(t, c.Tail(0), 3)
}

func TestCacheDurationBound(t *testing.T) {
	c, err := NewCache(Bound{Duration: 5 * time.Second})
	require.NoError(t, err)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 100; i++ {
		c.Push(float64(i), base.Add(time.Duration(i)*time.Second))
		es := c.Entries()
		newest := es[len(es)-1].Time
		for _, e := range es {
			assert.LessOrEqual(t, newest.Sub(e.Time), 5*time.Second)
		}
	}
	assert.Equal(t, 6, c.Len())

	since := c.Since(base.Add(99*time.Second), 2*time.Second)
	require.Len(t, since, 3)
	assert.Equal(t, 97.0, since[0].Value)
}

func TestCacheRejectsBothBounds(t *testing.T) {
	_, err := NewCache(Bound{Count: 2, Duration: time.Second})
	assert.ErrorIs(t, err, ErrConflictingBounds)

	c, err := NewCache(Bound{})
	require.NoError(t, err)
	assert.True(t, c.Bound().Unbounded())
	_, ok := c.Last()
	assert.False(t, ok)
}
