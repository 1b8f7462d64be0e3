package repository

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SwingPulse/internal/domain/models"
)

// MarketDataStore holds the latest validated series per instrument. Entries
// are replaced wholesale so readers see each instrument fully old or fully
// new.
type MarketDataStore struct {
	mu       sync.RWMutex
	entries  map[string]*models.MarketData
	rejected map[string]error
}

// NewMarketDataStore creates an empty store.
func NewMarketDataStore() *MarketDataStore {
	return &MarketDataStore{
		entries:  make(map[string]*models.MarketData),
		rejected: make(map[string]error),
	}
}

// Add validates data and replaces the stored entry for instrument. Bars
// without a timeframe are assigned primary. Invalid data leaves any existing
// entry untouched; an instrument with no valid entry is remembered as
// rejected until valid data arrives.
func (s *MarketDataStore) Add(instrument string, data models.MarketData, primary models.Timeframe, now time.Time) error {
	entry, err := normalize(instrument, data, primary, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if _, ok := s.entries[instrument]; !ok && instrument != "" {
			s.rejected[instrument] = err
		}
		return err
	}
	s.entries[instrument] = entry
	delete(s.rejected, instrument)
	return nil
}

func normalize(instrument string, data models.MarketData, primary models.Timeframe, now time.Time) (*models.MarketData, error) {
	if instrument == "" {
		return nil, &models.ValidationError{Code: models.ErrCodeInvalidInput, Field: "instrument", Message: "instrument is required"}
	}
	if len(data.Bars) == 0 {
		return nil, &models.ValidationError{
			Code: models.ErrCodeEmptyBars, Instrument: instrument, Field: "bars",
			Message: "no bars supplied", Err: models.ErrEmptyBars,
		}
	}

	entry := data.Clone()
	entry.Instrument = instrument
	last := make(map[models.Timeframe]time.Time)
	for i := range entry.Bars {
		b := &entry.Bars[i]
		if b.Timeframe == "" {
			b.Timeframe = primary
		}
		if !models.IsValidTimeframe(b.Timeframe) {
			return nil, &models.ValidationError{
				Code: models.ErrCodeInvalidInput, Instrument: instrument, Field: fmt.Sprintf("bars[%d].timeframe", i),
				Message: fmt.Sprintf("unknown timeframe %q", b.Timeframe),
			}
		}
		if !(b.Close > 0) || math.IsInf(b.Close, 0) {
			return nil, &models.ValidationError{
				Code: models.ErrCodeInvalidInput, Instrument: instrument, Field: fmt.Sprintf("bars[%d].close", i),
				Message: fmt.Sprintf("close must be positive, got %g", b.Close),
			}
		}
		if prev, ok := last[b.Timeframe]; ok && !b.Timestamp.After(prev) {
			return nil, &models.ValidationError{
				Code: models.ErrCodeUnorderedBars, Instrument: instrument, Field: fmt.Sprintf("bars[%d].timestamp", i),
				Message: fmt.Sprintf("%s bar at %s is not after %s", b.Timeframe, b.Timestamp.Format(time.RFC3339), prev.Format(time.RFC3339)),
			}
		}
		last[b.Timeframe] = b.Timestamp
	}
	if entry.CurrentPrice < 0 {
		return nil, &models.ValidationError{
			Code: models.ErrCodeInvalidInput, Instrument: instrument, Field: "currentPrice",
			Message: fmt.Sprintf("current price must not be negative, got %g", entry.CurrentPrice),
		}
	}
	if entry.CurrentPrice == 0 {
		entry.CurrentPrice = entry.Bars[len(entry.Bars)-1].Close
	}
	if entry.LastUpdate.IsZero() {
		entry.LastUpdate = now
	}
	return &entry, nil
}

// Snapshot returns the current entries. Entries are never mutated after
// insertion, so callers may read them without holding a lock but must not
// modify them.
func (s *MarketDataStore) Snapshot() map[string]*models.MarketData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.MarketData, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Rejected returns the instruments whose only submissions were invalid,
// with the last validation error of each.
func (s *MarketDataStore) Rejected() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]error, len(s.rejected))
	for k, v := range s.rejected {
		out[k] = v
	}
	return out
}

// Get returns a copy of the entry for instrument.
func (s *MarketDataStore) Get(instrument string) (models.MarketData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[instrument]
	if !ok {
		return models.MarketData{}, false
	}
	return e.Clone(), true
}

// Remove forgets an instrument.
func (s *MarketDataStore) Remove(instrument string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[instrument]
	_, rej := s.rejected[instrument]
	delete(s.entries, instrument)
	delete(s.rejected, instrument)
	return ok || rej
}

// Instruments lists stored instruments in sorted order.
func (s *MarketDataStore) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
