package features

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// noiseFloor is the dispersion below which a series is treated as constant;
// it absorbs rounding left over from log/exp round trips.
const noiseFloor = 1e-12

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(closes)-1, or nil if insufficient data.
func ComputeLogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		cur := closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample standard deviation of the latest window
// log returns, annualized with barsPerYear (pass 1 for per-bar volatility).
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sd, err := stats.StandardDeviationSample(logReturns[len(logReturns)-window:])
	if err != nil || math.IsNaN(sd) || sd < noiseFloor {
		return 0
	}
	return sd * math.Sqrt(barsPerYear)
}

// LinearTrend fits ys against their index by least squares and returns the
// slope and coefficient of determination.
func LinearTrend(ys []float64) (slope, r2 float64) {
	n := len(ys)
	if n < 2 {
		return 0, 0
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	mx, _ := stats.Mean(xs)
	my, _ := stats.Mean(ys)
	var sxy, sxx, syy float64
	for i := range ys {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 {
		return 0, 0
	}
	slope = sxy / sxx
	if syy == 0 {
		// a flat series has no trend to explain
		return slope, 0
	}
	r2 = (sxy * sxy) / (sxx * syy)
	if r2 > 1 {
		r2 = 1
	}
	return slope, r2
}

// EfficiencyRatio is |net move| / path length, in [0,1].
func EfficiencyRatio(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	net := math.Abs(closes[len(closes)-1] - closes[0])
	path := 0.0
	for i := 1; i < len(closes); i++ {
		path += math.Abs(closes[i] - closes[i-1])
	}
	if path == 0 {
		return 0
	}
	return math.Min(1, net/path)
}

// Autocorrelation returns the Pearson correlation of xs with itself shifted by
// lag. Zero-variance input yields 0.
func Autocorrelation(xs []float64, lag int) float64 {
	if lag <= 0 || len(xs) <= lag+1 {
		return 0
	}
	if sd, _ := stats.StandardDeviationPopulation(xs); sd < noiseFloor {
		return 0
	}
	c, err := stats.Correlation(xs[:len(xs)-lag], xs[lag:])
	if err != nil || math.IsNaN(c) {
		return 0
	}
	return c
}

// ZScore is the distance of the last value from the window mean in
// population standard deviations.
func ZScore(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean, _ := stats.Mean(xs)
	sd, _ := stats.StandardDeviationPopulation(xs)
	if sd < noiseFloor || math.IsNaN(sd) {
		return 0
	}
	return (xs[len(xs)-1] - mean) / sd
}

// PercentileRank returns the share of values strictly below x plus half the
// ties, scaled to [0,100].
func PercentileRank(values []float64, x float64) float64 {
	if len(values) == 0 {
		return 50
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	below := sort.SearchFloat64s(sorted, x)
	equal := 0
	for i := below; i < len(sorted) && sorted[i] == x; i++ {
		equal++
	}
	return 100 * (float64(below) + 0.5*float64(equal)) / float64(len(sorted))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
