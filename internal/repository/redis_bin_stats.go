package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	"SwingPulse/internal/service/cache"
)

// RedisBinStats reads percentile-bin tables stored as JSON under
// "<prefix>:<TICKER>:<timeframe>".
type RedisBinStats struct {
	c      cache.BytesCache
	prefix string
	ttl    time.Duration
}

var _ domrepo.BinStatsProvider = (*RedisBinStats)(nil)

// NewRedisBinStats builds a provider. ttl applies to entries written by Put.
func NewRedisBinStats(c cache.BytesCache, prefix string, ttl time.Duration) *RedisBinStats {
	return &RedisBinStats{c: c, prefix: strings.TrimSuffix(prefix, ":"), ttl: ttl}
}

func (r *RedisBinStats) key(ticker string, tf models.Timeframe) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, strings.ToUpper(ticker), tf)
}

// GetStockData returns models.ErrBinStatsNotFound when no table is stored.
func (r *RedisBinStats) GetStockData(ctx context.Context, ticker string, tf models.Timeframe) (*models.BinStatistics, error) {
	b, ok, err := r.c.GetBytes(ctx, r.key(ticker, tf))
	if err != nil {
		return nil, fmt.Errorf("bin stats %s/%s: %w", ticker, tf, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrBinStatsNotFound, ticker, tf)
	}
	var s models.BinStatistics
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode bin stats %s/%s: %w", ticker, tf, err)
	}
	if err := normalizeBins(&s, ticker, tf); err != nil {
		return nil, err
	}
	return &s, nil
}

// Put stores a bin table after normalizing it.
func (r *RedisBinStats) Put(ctx context.Context, s models.BinStatistics) error {
	if err := normalizeBins(&s, s.Ticker, s.Timeframe); err != nil {
		return err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode bin stats: %w", err)
	}
	return r.c.SetBytes(ctx, r.key(s.Ticker, s.Timeframe), b, r.ttl)
}

func normalizeBins(s *models.BinStatistics, ticker string, tf models.Timeframe) error {
	if s.Ticker == "" {
		s.Ticker = ticker
	}
	if s.Timeframe == "" {
		s.Timeframe = tf
	}
	if s.Ticker == "" || !models.IsValidTimeframe(s.Timeframe) {
		return &models.ValidationError{Code: models.ErrCodeInvalidInput, Message: "bin stats need a ticker and a valid timeframe"}
	}
	if len(s.Bins) == 0 {
		return &models.ValidationError{Code: models.ErrCodeInvalidInput, Message: fmt.Sprintf("bin stats %s/%s have no bins", s.Ticker, s.Timeframe)}
	}
	sort.SliceStable(s.Bins, func(i, j int) bool { return s.Bins[i].Lower < s.Bins[j].Lower })
	for i, bin := range s.Bins {
		if bin.Upper <= bin.Lower || bin.Lower < 0 || bin.Upper > 100 {
			return &models.ValidationError{Code: models.ErrCodeInvalidInput, Message: fmt.Sprintf("bin %d has bounds [%g, %g)", i, bin.Lower, bin.Upper)}
		}
		if bin.Label == "" {
			s.Bins[i].Label = bin.DefaultLabel()
		}
	}
	return nil
}
