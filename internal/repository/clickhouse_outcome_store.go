package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	applogger "SwingPulse/pkg/logger"
)

// CHOutcomeStore persists trade outcomes in ClickHouse.
type CHOutcomeStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.OutcomeStore = (*CHOutcomeStore)(nil)

func NewCHOutcomeStore(db *sql.DB, table string) (*CHOutcomeStore, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	return &CHOutcomeStore{db: db, table: table, l: applogger.NewNop()}, nil
}

// SetLogger injects a structured logger.
func (s *CHOutcomeStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l.Named("ch_outcomes")
	}
}

func (s *CHOutcomeStore) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    instrument LowCardinality(String),
    entry_time DateTime64(3, 'UTC'),
    exit_time DateTime64(3, 'UTC'),
    entry_price Float64,
    exit_price Float64,
    holding_days Float64,
    ret Float64,
    entry_percentile Float64,
    exit_percentile Float64,
    regime LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (instrument, exit_time)`, s.table)}
}

// LoadOutcomes returns outcomes that closed at or after since, oldest first.
func (s *CHOutcomeStore) LoadOutcomes(ctx context.Context, instrument string, since time.Time) ([]models.TradeOutcome, error) {
	q := fmt.Sprintf(`SELECT entry_time, exit_time, entry_price, exit_price, holding_days, ret,
        entry_percentile, exit_percentile, regime
        FROM %s WHERE instrument = ? AND exit_time >= ?
        ORDER BY exit_time ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, q, instrument, since.UTC())
	if err != nil {
		s.l.Error("clickhouse load_outcomes error", applogger.String("instrument", instrument), applogger.Error(err))
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.TradeOutcome
	for rows.Next() {
		o := models.TradeOutcome{Instrument: instrument}
		var regime string
		if err := rows.Scan(&o.EntryTime, &o.ExitTime, &o.EntryPrice, &o.ExitPrice, &o.HoldingDays, &o.Return,
			&o.EntryPercentile, &o.ExitPercentile, &regime); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Regime = models.RegimeType(regime)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHOutcomeStore) SaveOutcomes(ctx context.Context, outcomes []models.TradeOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	values := make([]string, 0, len(outcomes))
	args := make([]interface{}, 0, len(outcomes)*10)
	for _, o := range outcomes {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, o.Instrument, o.EntryTime.UTC(), o.ExitTime.UTC(), o.EntryPrice, o.ExitPrice,
			o.HoldingDays, o.Return, o.EntryPercentile, o.ExitPercentile, string(o.Regime))
	}
	q := fmt.Sprintf(`INSERT INTO %s (instrument, entry_time, exit_time, entry_price, exit_price, holding_days, ret,
        entry_percentile, exit_percentile, regime) VALUES %s`, s.table, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse save_outcomes error", applogger.Int("rows", len(outcomes)), applogger.Error(err))
		return fmt.Errorf("save outcomes: %w", err)
	}
	return nil
}

func (s *CHOutcomeStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
