// Package stats holds the pure statistics used to compare a sample against its
// rolling baseline.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/obsidianstack/sentinel/pkg/types"
)

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StdDev returns the sample standard deviation (n-1 denominator), or 0 when
// fewer than two values are available.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// ZScore returns |current-mean|/stddev. A zero stddev yields the infinite score:
// any movement away from a perfectly flat history is maximally anomalous.
func ZScore(current, mean, stddev float64) types.ZScore {
	if stddev == 0 {
		return types.Infinite()
	}
	return types.Finite(math.Abs((current - mean) / stddev))
}

// Summary is the baseline statistics of a history window together with the
// deviation of the current value from it.
type Summary struct {
	Mean   float64
	StdDev float64
	Z      types.ZScore
}

// Summarize computes the mean and stddev of prev and the z-score of current.
func Summarize(prev []float64, current float64) Summary {
	m := Mean(prev)
	sd := StdDev(prev)
	return Summary{Mean: m, StdDev: sd, Z: ZScore(current, m, sd)}
}
