package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	"BetPull/internal/feature"
	pkgch "BetPull/pkg/clickhouse"
	applogger "BetPull/pkg/logger"
)

const runnerFeaturesTable = "runner_features"

// RunnerFeaturesSchema creates the feature series table. value holds numeric samples;
// anything else is stored as JSON in raw.
func RunnerFeaturesSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			market_id    String,
			selection_id Int64,
			feature_id   LowCardinality(String),
			ts           DateTime64(3, 'UTC'),
			value        Nullable(Float64),
			raw          String,
			closed_at    DateTime64(3, 'UTC')
		)
		ENGINE = ReplacingMergeTree(closed_at)
		PARTITION BY toYYYYMM(ts)
		ORDER BY (market_id, selection_id, feature_id, ts)`, database, runnerFeaturesTable),
	}
}

type featureRow struct {
	MarketID    string
	SelectionID int64
	FeatureID   string
	Time        time.Time
	Value       *float64
	Raw         string
	ClosedAt    time.Time
}

// featureRows flattens a runner result into table rows, ordered by feature id then time.
func featureRows(r *models.RunnerResult) ([]featureRow, error) {
	ids := make([]string, 0, len(r.Features))
	for id := range r.Features {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []featureRow
	for _, id := range ids {
		for _, p := range r.Features[id] {
			row := featureRow{
				MarketID:    r.MarketID,
				SelectionID: r.SelectionID,
				FeatureID:   id,
				Time:        p.Time.UTC(),
				ClosedAt:    r.ClosedAt.UTC(),
			}
			if f, ok := feature.AsFloat(p.Value); ok {
				row.Value = &f
			} else if p.Value != nil {
				b, err := json.Marshal(p.Value)
				if err != nil {
					return nil, fmt.Errorf("encode %s at %s: %w", id, p.Time, err)
				}
				row.Raw = string(b)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// CHResultStore implements ResultStore on ClickHouse.
type CHResultStore struct {
	client *pkgch.Client
	conn   driver.Conn
	table  string
	l      *applogger.Logger
}

var _ domrepo.ResultStore = (*CHResultStore)(nil)

func NewCHResultStore(ch *pkgch.Client, l *applogger.Logger) *CHResultStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHResultStore{
		client: ch,
		conn:   ch.Conn(),
		table:  ch.Database() + "." + runnerFeaturesTable,
		l:      l,
	}
}

func (s *CHResultStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, RunnerFeaturesSchema(s.client.Database()))
}

// SaveRunner writes every feature sample of the runner in one batch.
func (s *CHResultStore) SaveRunner(ctx context.Context, r *models.RunnerResult) error {
	start := time.Now()
	rows, err := featureRows(r)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (market_id, selection_id, feature_id, ts, value, raw, closed_at)", s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer func() { _ = batch.Abort() }()

	for _, row := range rows {
		if err := batch.Append(row.MarketID, row.SelectionID, row.FeatureID, row.Time, row.Value, row.Raw, row.ClosedAt); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		s.l.Error("clickhouse save_runner send error",
			applogger.MarketID(r.MarketID),
			applogger.SelectionID(r.SelectionID),
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return fmt.Errorf("send batch: %w", err)
	}

	s.l.Debug("clickhouse save_runner ok",
		applogger.MarketID(r.MarketID),
		applogger.SelectionID(r.SelectionID),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (s *CHResultStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close is a no-op; the client is owned by the caller.
func (s *CHResultStore) Close() error { return nil }
