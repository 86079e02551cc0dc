package stats

import (
	"fmt"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

// DefaultBuckets is the number of histogram buckets (10 evenly spaced edges).
const DefaultBuckets = 9

// Histogram is a percentage distribution of historical values with the position
// of one submission marked.
type Histogram struct {
	// Edges has len(Percent)+1 ascending values from the historical min to max.
	Edges []float64
	// Percent[i] is the share of values in [Edges[i], Edges[i+1]), the last bucket
	// being closed on the right.
	Percent []float64
	Value   float64
	// Marker is the index of the bucket Value falls in, clamped to the range.
	Marker int
}

// Build buckets values into the given number of equal-width buckets and marks own.
// It needs at least two values with a non-zero spread.
func Build(values []float64, own float64, buckets int) (Histogram, error) {
	if buckets < 1 {
		buckets = DefaultBuckets
	}
	if len(values) < 2 {
		return Histogram{}, fmt.Errorf("stats: %d values: %w", len(values), domain.ErrInsufficientHistory)
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		return Histogram{}, fmt.Errorf("stats: all values equal %g: %w", lo, domain.ErrDegenerateRange)
	}

	width := (hi - lo) / float64(buckets)
	edges := make([]float64, buckets+1)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[buckets] = hi

	counts := make([]int, buckets)
	for _, v := range values {
		counts[bucketOf(v, lo, width, buckets)]++
	}

	percent := make([]float64, buckets)
	for i, c := range counts {
		percent[i] = 100 * float64(c) / float64(len(values))
	}

	return Histogram{
		Edges:   edges,
		Percent: percent,
		Value:   own,
		Marker:  bucketOf(own, lo, width, buckets),
	}, nil
}

func bucketOf(v, lo, width float64, buckets int) int {
	i := int((v - lo) / width)
	if i < 0 {
		return 0
	}
	if i >= buckets {
		return buckets - 1
	}
	return i
}

// TimeValues extracts the average times of a history.
func TimeValues(history []domain.HistoricalAggregate) []float64 {
	out := make([]float64, len(history))
	for i, h := range history {
		out[i] = h.AvgTime
	}
	return out
}

// MemoryValues extracts the average memory of a history.
func MemoryValues(history []domain.HistoricalAggregate) []float64 {
	out := make([]float64, len(history))
	for i, h := range history {
		out[i] = h.AvgMemory
	}
	return out
}
