package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BetPull/internal/domain/models"
)

type errCounter map[string]int

func (m errCounter) RecordSnapshot(string)         {}
func (m errCounter) RecordError(k string)          { m[k]++ }
func (m errCounter) RecordLatency(string, float64) {}
func (m errCounter) RecordOrder(string, string)    {}
func (m errCounter) RecordMarketEvent(string)      {}
func (m errCounter) RecordStateTransition(string)  {}
func (m errCounter) SetActiveMarkets(int)          {}

type sink struct {
	got []*models.Snapshot
	err error
}

func (s *sink) Dispatch(_ context.Context, snap *models.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, snap)
	return nil
}

var base = time.Date(2024, 6, 1, 14, 50, 0, 0, time.UTC)

func snap(market string, offset time.Duration, status models.MarketStatus) *models.Snapshot {
	return &models.Snapshot{
		MarketID:        market,
		Timestamp:       base.Add(offset),
		MarketStartTime: base.Add(10 * time.Minute),
		Status:          status,
		Runners: []models.RunnerSnapshot{
			{SelectionID: 1, Back: []models.PriceSize{{Price: 2, Size: 10}}},
			{SelectionID: 2},
		},
	}
}

func TestPipelineDropsOutOfOrder(t *testing.T) {
	out := &sink{}
	m := errCounter{}
	p := NewSnapshotPipeline(out, m)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, snap("1.1", time.Second, models.MarketOpen)))
	require.NoError(t, p.Process(ctx, snap("1.2", 0, models.MarketOpen)))
	assert.ErrorIs(t, p.Process(ctx, snap("1.1", 0, models.MarketOpen)), ErrOutOfOrder)
	assert.ErrorIs(t, p.Process(ctx, snap("1.1", time.Second, models.MarketOpen)), ErrOutOfOrder)
	require.NoError(t, p.Process(ctx, snap("1.1", 2*time.Second, models.MarketOpen)))

	assert.Len(t, out.got, 3)
	assert.Equal(t, 2, m["pipeline_out_of_order"])
	assert.Equal(t, 2, p.Tracked())

	require.NoError(t, p.Process(ctx, snap("1.1", 3*time.Second, models.MarketClosed)))
	assert.Equal(t, 1, p.Tracked())
}

func TestPipelineThrottle(t *testing.T) {
	out := &sink{}
	p := NewSnapshotPipeline(out, errCounter{}, WithMaxRate(2))
	ctx := context.Background()

	for _, ms := range []int{0, 100, 400, 500, 900, 1000} {
		require.NoError(t, p.Process(ctx, snap("1.1", time.Duration(ms)*time.Millisecond, models.MarketOpen)))
	}
	var kept []time.Duration
	for _, s := range out.got {
		kept = append(kept, s.Timestamp.Sub(base))
	}
	assert.Equal(t, []time.Duration{0, 500 * time.Millisecond, time.Second}, kept)
}

func TestPipelineDownstreamError(t *testing.T) {
	m := errCounter{}
	p := NewSnapshotPipeline(&sink{err: errors.New("stopped")}, m)
	err := p.Process(context.Background(), snap("1.1", 0, models.MarketOpen))
	require.Error(t, err)
	assert.Equal(t, 1, m["pipeline_dispatch"])
}

func TestPipelineTransform(t *testing.T) {
	out := &sink{}
	p := NewSnapshotPipeline(out, errCounter{}, WithTransform(func(s *models.Snapshot) *models.Snapshot {
		s.Timestamp = s.Timestamp.UTC().Truncate(time.Second)
		return s
	}))
	require.NoError(t, p.Process(context.Background(), snap("1.1", 1500*time.Millisecond, models.MarketOpen)))
	assert.Equal(t, base.Add(time.Second), out.got[0].Timestamp)
}

func TestValidateSnapshot(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(s *models.Snapshot)
		valid bool
	}{
		{"ok", func(*models.Snapshot) {}, true},
		{"no market", func(s *models.Snapshot) { s.MarketID = "" }, false},
		{"no timestamp", func(s *models.Snapshot) { s.Timestamp = time.Time{} }, false},
		{"no start", func(s *models.Snapshot) { s.MarketStartTime = time.Time{} }, false},
		{"bad status", func(s *models.Snapshot) { s.Status = "SETTLED" }, false},
		{"dup runner", func(s *models.Snapshot) { s.Runners[1].SelectionID = 1 }, false},
		{"negative ltp", func(s *models.Snapshot) { s.Runners[0].LastTradedPrice = -1 }, false},
		{"negative rung", func(s *models.Snapshot) { s.Runners[0].Back[0].Size = -3 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := snap("1.1", 0, models.MarketOpen)
			tc.mut(s)
			err := ValidateSnapshot(s)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSnapshot)
			}
		})
	}
	assert.ErrorIs(t, ValidateSnapshot(nil), ErrInvalidSnapshot)
}
