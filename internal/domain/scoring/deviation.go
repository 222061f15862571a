package scoring

import "math"

const (
	// DeviationMean is the deviation score of an average result.
	DeviationMean = 50.0
	// DeviationScale is the deviation points per standard deviation.
	DeviationScale = 10.0

	deviationMin = 0.0
	deviationMax = 100.0
)

// Stats describes the score distribution of one partition.
type Stats struct {
	N      int
	Mean   float64
	StdDev float64 // sample standard deviation (n-1)
}

// Describe computes count, mean and sample standard deviation.
func Describe(scores []int) Stats {
	n := len(scores)
	if n == 0 {
		return Stats{}
	}

	var sum float64
	for _, s := range scores {
		sum += float64(s)
	}
	mean := sum / float64(n)

	if n == 1 {
		return Stats{N: n, Mean: mean}
	}

	var sq float64
	for _, s := range scores {
		d := float64(s) - mean
		sq += d * d
	}
	return Stats{
		N:      n,
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(n-1)),
	}
}

// Deviation returns the deviation score of a score within the distribution:
// 50 + (score - mean) / sd * 10, clamped to [0, 100] and rounded to two
// decimals. A partition of one or with no spread yields exactly 50.
func (s Stats) Deviation(score int) float64 {
	if s.N <= 1 || s.StdDev == 0 {
		return DeviationMean
	}
	v := DeviationMean + (float64(score)-s.Mean)/s.StdDev*DeviationScale
	return round2(clamp(v, deviationMin, deviationMax))
}

// DeviationScore is a one-shot helper computing the deviation of score
// within scores.
func DeviationScore(score int, scores []int) float64 {
	return Describe(scores).Deviation(score)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
