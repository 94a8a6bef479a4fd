package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"BetPull/internal/domain/models"
	"BetPull/internal/market"
)

var ErrNoSnapshots = errors.New("no snapshots")

// ReadSnapshots decodes one JSON snapshot per line. Blank lines are skipped; the result is
// sorted by timestamp with the input order kept for equal timestamps.
func ReadSnapshots(r io.Reader) ([]*models.Snapshot, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []*models.Snapshot
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var s models.Snapshot
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// FilterMarket keeps the snapshots of one market.
func FilterMarket(snaps []*models.Snapshot, marketID string) []*models.Snapshot {
	out := make([]*models.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.MarketID == marketID {
			out = append(out, s)
		}
	}
	return out
}

// ReplayMarket drives a market handler through snapshots of a single market and closes it
// when the data ends without a CLOSED snapshot.
func ReplayMarket(ctx context.Context, snaps []*models.Snapshot, cfg market.Config, deps market.Deps) (*market.Handler, error) {
	if len(snaps) == 0 {
		return nil, ErrNoSnapshots
	}
	h, err := market.NewHandler(snaps[0], cfg, deps)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, s := range snaps {
		if h.Closed() {
			break
		}
		if err := h.Process(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if !h.Closed() {
		errs = append(errs, h.Close(ctx))
	}
	return h, errors.Join(errs...)
}
