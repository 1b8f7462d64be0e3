package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"SwingPulse/internal/domain/models"
	domrepo "SwingPulse/internal/domain/repository"
	applogger "SwingPulse/pkg/logger"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// CHBarStore serves historical bars from a single ClickHouse table keyed by
// (instrument, timeframe, ts).
type CHBarStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.BarStore = (*CHBarStore)(nil)

func NewCHBarStore(db *sql.DB, table string) (*CHBarStore, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	return &CHBarStore{db: db, table: table, l: applogger.NewNop()}, nil
}

// SetLogger injects a structured logger.
func (s *CHBarStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l.Named("ch_bars")
	}
}

// Schema returns the DDL for the bars table.
func (s *CHBarStore) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    instrument LowCardinality(String),
    timeframe LowCardinality(String),
    ts DateTime64(3, 'UTC'),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64
) ENGINE = ReplacingMergeTree
ORDER BY (instrument, timeframe, ts)`, s.table)}
}

func (s *CHBarStore) GetBars(ctx context.Context, instrument string, from, to time.Time, tf models.Timeframe) ([]models.Bar, error) {
	q := fmt.Sprintf(`SELECT ts, open, high, low, close, volume FROM %s FINAL
        WHERE instrument = ? AND timeframe = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC`, s.table)
	return s.query(ctx, "get_bars", instrument, tf, q, instrument, string(tf), from, to)
}

// GetLatestNBars returns the newest n bars in ascending time order.
func (s *CHBarStore) GetLatestNBars(ctx context.Context, instrument string, n int, tf models.Timeframe) ([]models.Bar, error) {
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT ts, open, high, low, close, volume FROM %s FINAL
        WHERE instrument = ? AND timeframe = ?
        ORDER BY ts DESC
        LIMIT ?`, s.table)
	out, err := s.query(ctx, "latest_bars", instrument, tf, q, instrument, string(tf), n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// SaveBars appends bars. Bars without a timeframe are stored under primary.
func (s *CHBarStore) SaveBars(ctx context.Context, instrument string, bars []models.Bar, primary models.Timeframe) error {
	if len(bars) == 0 {
		return nil
	}
	const chunk = 2000
	for start := 0; start < len(bars); start += chunk {
		end := min(start+chunk, len(bars))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, b := range bars[start:end] {
			tf := b.Timeframe
			if tf == "" {
				tf = primary
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, instrument, string(tf), b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		q := fmt.Sprintf("INSERT INTO %s (instrument, timeframe, ts, open, high, low, close, volume) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse save_bars error",
				applogger.String("instrument", instrument),
				applogger.Int("rows", len(values)),
				applogger.Error(err))
			return fmt.Errorf("save bars: %w", err)
		}
	}
	return nil
}

func (s *CHBarStore) query(ctx context.Context, op, instrument string, tf models.Timeframe, q string, args ...interface{}) ([]models.Bar, error) {
	start := time.Now()
	fields := []applogger.Field{
		applogger.String("op", op),
		applogger.String("instrument", instrument),
		applogger.String("tf", string(tf)),
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query error", append(fields, applogger.Error(err))...)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, 256)
	for rows.Next() {
		b := models.Bar{Timeframe: tf}
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			s.l.Error("clickhouse scan error", append(fields, applogger.Error(err))...)
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse query ok", append(fields,
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)))...)
	return out, nil
}
