package expectancy

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/montanaflynn/stats"
)

// NormalQuantile is the inverse standard normal CDF (Acklam's rational
// approximation, relative error below 1.2e-9).
func NormalQuantile(p float64) float64 {
	switch {
	case p <= 0:
		return math.Inf(-1)
	case p >= 1:
		return math.Inf(1)
	}

	a := [6]float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02, 1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := [5]float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02, 6.680131188771972e+01, -1.328068155288572e+01}
	c := [6]float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00, -2.549671731386838e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := [4]float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00, 3.754408661907416e+00}
	const pLow = 0.02425

	tail := func(q float64) float64 {
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}

	switch {
	case p < pLow:
		return tail(math.Sqrt(-2 * math.Log(p)))
	case p > 1-pLow:
		return -tail(math.Sqrt(-2 * math.Log(1-p)))
	}
	q := p - 0.5
	r := q * q
	return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
		(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
}

// WilsonInterval is the Wilson score interval for wins successes out of n.
func WilsonInterval(wins, n int, z float64) (lower, upper float64) {
	if n <= 0 {
		return 0, 0
	}
	nf := float64(n)
	p := float64(wins) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
	lower = math.Max(0, center-half)
	upper = math.Min(1, center+half)
	return math.Min(lower, p), math.Max(upper, p)
}

// BootstrapMeanInterval resamples xs with replacement b times and returns the
// percentile interval of the resampled means at the given level.
func BootstrapMeanInterval(xs []float64, b int, level float64, rng *rand.Rand) (lower, upper float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0
	}
	means := make([]float64, b)
	for i := 0; i < b; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += xs[rng.IntN(n)]
		}
		means[i] = sum / float64(n)
	}
	alpha := (1 - level) / 2
	lower = percentileOr(means, 100*alpha, minOf)
	upper = percentileOr(means, 100*(1-alpha), maxOf)
	return lower, upper
}

func percentileOr(xs []float64, pct float64, fallback func([]float64) float64) float64 {
	v, err := stats.Percentile(xs, pct)
	if err != nil || math.IsNaN(v) {
		return fallback(xs)
	}
	return v
}

func minOf(xs []float64) float64 {
	m, _ := stats.Min(xs)
	return m
}

func maxOf(xs []float64) float64 {
	m, _ := stats.Max(xs)
	return m
}

// TTestPValue is the two-sided p-value of a one-sample t-test of mean
// against zero. It returns false when fewer than two samples are present.
func TTestPValue(xs []float64) (float64, bool) {
	n := len(xs)
	if n < 2 {
		return 0, false
	}
	mean, _ := stats.Mean(xs)
	sd, _ := stats.StandardDeviationSample(xs)
	if sd == 0 || math.IsNaN(sd) {
		if mean == 0 {
			return 1, true
		}
		return 0, true
	}
	t := mean / (sd / math.Sqrt(float64(n)))
	df := float64(n - 1)
	p := regIncBeta(df/2, 0.5, df/(df+t*t))
	return math.Max(0, math.Min(1, p)), true
}

// regIncBeta is the regularized incomplete beta function I_x(a, b).
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	front := math.Exp(lab - la - lb + a*math.Log(x) + b*math.Log(1-x))
	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

// betaContinuedFraction evaluates the continued fraction of I_x(a, b) with
// the modified Lentz method.
func betaContinuedFraction(a, b, x float64) float64 {
	const (
		maxIter = 300
		eps     = 3e-14
		tiny    = 1e-300
	)
	qab, qap, qam := a+b, a+1, a-1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		mf := float64(m)
		m2 := 2 * mf
		aa := mf * (b - mf) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + mf) * (qab + mf) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

// OptimalHoldingDay groups returns by whole holding days (at least 1) and
// returns the first day whose successor does not improve the mean return,
// or the last observed day when the mean keeps rising.
func OptimalHoldingDay(holdingDays, returns []float64) (int, bool) {
	if len(holdingDays) == 0 || len(holdingDays) != len(returns) {
		return 0, false
	}
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, h := range holdingDays {
		d := int(math.Ceil(h))
		if d < 1 {
			d = 1
		}
		sums[d] += returns[i]
		counts[d]++
	}
	days := make([]int, 0, len(sums))
	for d := range sums {
		days = append(days, d)
	}
	sort.Ints(days)
	for i := 0; i < len(days)-1; i++ {
		cur := sums[days[i]] / float64(counts[days[i]])
		next := sums[days[i+1]] / float64(counts[days[i+1]])
		if next-cur <= 0 {
			return days[i], true
		}
	}
	return days[len(days)-1], true
}
