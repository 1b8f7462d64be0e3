package repository

import (
	"context"
	"time"

	"SwingPulse/internal/domain/models"
)

// BarStore provides read-only access to historical bars.
type BarStore interface {
	GetBars(ctx context.Context, instrument string, from, to time.Time, tf models.Timeframe) ([]models.Bar, error)
	GetLatestNBars(ctx context.Context, instrument string, n int, tf models.Timeframe) ([]models.Bar, error)
}

// BinStatsProvider serves percentile-bin statistics computed by the external
// analytics/backtest store.
type BinStatsProvider interface {
	GetStockData(ctx context.Context, ticker string, tf models.Timeframe) (*models.BinStatistics, error)
}
