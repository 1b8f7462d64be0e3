package regime

import (
	"fmt"
	"time"

	"SwingPulse/internal/domain/models"
	"SwingPulse/pkg/config"
)

// tieEpsilon treats vote totals this close as equal.
const tieEpsilon = 1e-12

// Aggregate combines per-timeframe signals using the configured weights.
// Signals whose timeframe has no weight are ignored; weights of missing
// timeframes are redistributed over the present ones. The output keeps the
// order of weights.
func Aggregate(instrument string, signals []models.RegimeSignal, weights []config.TimeframeWeight, at time.Time) (*models.MultiTimeframeRegime, error) {
	byTF := make(map[models.Timeframe]models.RegimeSignal, len(signals))
	for _, s := range signals {
		byTF[s.Timeframe] = s
	}

	ordered := make([]models.RegimeSignal, 0, len(weights))
	raw := make([]float64, 0, len(weights))
	total := 0.0
	for _, w := range weights {
		s, ok := byTF[w.Timeframe]
		if !ok {
			continue
		}
		ordered = append(ordered, s)
		raw = append(raw, w.Weight)
		total += w.Weight
	}
	if len(ordered) == 0 || total <= 0 {
		return nil, fmt.Errorf("%w: no weighted timeframe produced a signal", models.ErrInsufficientData)
	}

	ws := make([]float64, len(raw))
	types := make([]models.RegimeType, len(ordered))
	strength := 0.0
	for i := range raw {
		ws[i] = raw[i] / total
		types[i] = ordered[i].Type
		strength += ws[i] * ordered[i].Strength
	}

	return &models.MultiTimeframeRegime{
		Instrument:     instrument,
		Signals:        ordered,
		Weights:        ws,
		Coherence:      Coherence(types, ws),
		DominantRegime: DominantRegime(types, ws),
		Strength:       strength,
		Timestamp:      at,
	}, nil
}

// Coherence is the weighted share of distinct timeframe pairs that agree on
// regime type:
//
//	sum_{i!=j} w_i w_j [t_i == t_j] / sum_{i!=j} w_i w_j
//
// It is 1 when every signal agrees (and for a single signal) and never
// decreases when one signal switches to a type already more heavily weighted.
func Coherence(types []models.RegimeType, weights []float64) float64 {
	if len(types) <= 1 {
		return 1
	}
	var agree, all float64
	for i := range types {
		for j := range types {
			if i == j {
				continue
			}
			p := weights[i] * weights[j]
			all += p
			if types[i] == types[j] {
				agree += p
			}
		}
	}
	if all == 0 {
		return 1
	}
	return agree / all
}

// DominantRegime is the weighted vote winner; ties go to the earlier entry
// of models.RegimePrecedence.
func DominantRegime(types []models.RegimeType, weights []float64) models.RegimeType {
	votes := make(map[models.RegimeType]float64, len(models.RegimePrecedence))
	for i, t := range types {
		votes[t] += weights[i]
	}
	best := models.RegimeNeutral
	bestVote := -1.0
	for _, t := range models.RegimePrecedence {
		v, ok := votes[t]
		if !ok {
			continue
		}
		if v > bestVote+tieEpsilon {
			best, bestVote = t, v
		}
	}
	return best
}
