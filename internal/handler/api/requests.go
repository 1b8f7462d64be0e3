package api

import (
	"strings"
	"time"

	"SwingPulse/internal/domain/models"
)

type openPositionRequest struct {
	ID         string           `json:"id" validate:"omitempty,max=64"`
	Instrument string           `json:"instrument" validate:"required,max=32"`
	Direction  models.Direction `json:"direction" default:"long" validate:"oneof=long short"`
	EntryPrice float64          `json:"entryPrice" validate:"gt=0"`
	Quantity   float64          `json:"quantity" validate:"gt=0"`
	Stop       struct {
		InitialStop float64 `json:"initialStop" validate:"gt=0"`
	} `json:"stop"`
	OpenedAt time.Time `json:"openedAt"`
}

func (r openPositionRequest) position() models.Position {
	return models.Position{
		ID:         r.ID,
		Instrument: strings.ToUpper(strings.TrimSpace(r.Instrument)),
		Direction:  r.Direction,
		EntryPrice: r.EntryPrice,
		Quantity:   r.Quantity,
		Stop:       models.AdaptiveStopLoss{InitialStop: r.Stop.InitialStop},
		OpenedAt:   r.OpenedAt,
	}
}

type outcomesRequest struct {
	Outcomes []models.TradeOutcome `json:"outcomes" validate:"required,min=1,max=10000,dive"`
}
