// Package positions tracks open positions and tightens their stops as price
// moves in their favour.
package positions

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"
)

var validate = validator.New()

// Monitor owns the open positions. It is safe for concurrent use.
type Monitor struct {
	mu        sync.RWMutex
	cfg       config.StopConfig
	positions map[string]*models.Position
	order     []string
}

// NewMonitor creates an empty monitor.
func NewMonitor(cfg config.StopConfig) *Monitor {
	return &Monitor{cfg: cfg, positions: make(map[string]*models.Position)}
}

// SetConfig replaces the stop configuration for subsequent updates.
func (m *Monitor) SetConfig(cfg config.StopConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Open starts tracking p and returns the stored copy. The initial stop must
// sit on the losing side of the entry price.
func (m *Monitor) Open(p models.Position, now time.Time) (models.Position, error) {
	if err := validate.Struct(p); err != nil {
		return models.Position{}, &models.ValidationError{
			Code: models.ErrCodeInvalidInput, Instrument: p.Instrument, Field: "position",
			Message: "invalid position", Err: err,
		}
	}
	initial := p.Stop.InitialStop
	if initial <= 0 || (initial-p.EntryPrice)*p.Direction.Sign() >= 0 {
		return models.Position{}, &models.ValidationError{
			Code: models.ErrCodeInvalidInput, Instrument: p.Instrument, Field: "stop.initialStop",
			Message: fmt.Sprintf("initial stop %g must be on the losing side of entry %g", initial, p.EntryPrice),
		}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CurrentPrice <= 0 {
		p.CurrentPrice = p.EntryPrice
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.UpdatedAt = now
	p.Stop = models.AdaptiveStopLoss{
		InitialStop:  initial,
		CurrentStop:  initial,
		UpdateReason: "initial stop",
		Timestamp:    now,
	}
	refresh(&p)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[p.ID]; ok {
		return models.Position{}, &models.ValidationError{
			Code: models.ErrCodeInvalidInput, Instrument: p.Instrument, Field: "id",
			Message: "position " + p.ID + " already open",
		}
	}
	stored := p.Clone()
	m.positions[p.ID] = &stored
	m.order = append(m.order, p.ID)
	return p.Clone(), nil
}

// Close stops tracking a position and returns its last state.
func (m *Monitor) Close(id string) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return models.Position{}, fmt.Errorf("%w: %s", models.ErrPositionNotFound, id)
	}
	delete(m.positions, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return p.Clone(), nil
}

// UpdatePrice marks every position on instrument to price and tightens
// stops where the move allows. It returns the number of positions touched.
func (m *Monitor) UpdatePrice(instrument string, price float64, now time.Time) int {
	if price <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.order {
		p := m.positions[id]
		if p.Instrument != instrument {
			continue
		}
		p.CurrentPrice = price
		p.UpdatedAt = now
		if stop, reason, ok := NextStop(*p, price, m.cfg); ok {
			p.Stop.History = append(p.Stop.History, models.StopAdjustment{
				From: p.Stop.CurrentStop, To: stop, Reason: reason, Timestamp: now,
			})
			p.Stop.CurrentStop = stop
			p.Stop.UpdateReason = reason
			p.Stop.Timestamp = now
		}
		refresh(p)
		n++
	}
	return n
}

// Positions returns copies of the open positions in opening order.
func (m *Monitor) Positions() []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Position, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.positions[id].Clone())
	}
	return out
}

// Get returns a copy of one position.
func (m *Monitor) Get(id string) (models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return p.Clone(), true
}

// NextStop proposes a tighter stop for p at price. ok is false when no
// candidate improves on the current stop.
func NextStop(p models.Position, price float64, cfg config.StopConfig) (stop float64, reason string, ok bool) {
	dir := p.Direction.Sign()
	r := math.Abs(p.EntryPrice - p.Stop.InitialStop)
	if r == 0 {
		return 0, "", false
	}
	move := (price - p.EntryPrice) * dir
	best := p.Stop.CurrentStop

	tighter := func(c float64) bool { return (c-best)*dir > 0 }

	if move >= cfg.BreakevenR*r && tighter(p.EntryPrice) {
		best, reason, ok = p.EntryPrice, fmt.Sprintf("breakeven after %.2fR move", move/r), true
	}
	if move >= cfg.TrailActivationR*r {
		trail := price - dir*cfg.TrailR*r
		if tighter(trail) {
			best, reason, ok = trail, fmt.Sprintf("trailing %.2fR behind price after %.2fR move", cfg.TrailR, move/r), true
		}
	}
	return best, reason, ok
}

// refresh recomputes the derived fields of p.
func refresh(p *models.Position) {
	dir := p.Direction.Sign()
	p.UnrealizedPnL = (p.CurrentPrice - p.EntryPrice) * p.Quantity * dir
	risk := math.Max(0, (p.EntryPrice-p.Stop.CurrentStop)*dir) * p.Quantity
	p.RiskAmount = risk
	p.Stop.RiskAmount = risk
	if (p.CurrentPrice-p.Stop.CurrentStop)*dir <= 0 {
		p.StopTriggered = true
	}
}
