package stats

import (
	"fmt"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
)

// Aggregate computes average, minimum and maximum time and memory over the
// measurements of a fully passing run.
func Aggregate(ms []domain.Measurement) (domain.AggregateStats, error) {
	if len(ms) == 0 {
		return domain.AggregateStats{}, fmt.Errorf("stats: %w", domain.ErrEmptySuite)
	}

	first := ms[0]
	out := domain.AggregateStats{
		MinTime:   first.Elapsed.Seconds(),
		MaxTime:   first.Elapsed.Seconds(),
		MinMemory: first.MemoryMB,
		MaxMemory: first.MemoryMB,
	}

	var sumTime, sumMem float64
	for _, m := range ms {
		t := m.Elapsed.Seconds()
		sumTime += t
		sumMem += m.MemoryMB
		out.MinTime = min(out.MinTime, t)
		out.MaxTime = max(out.MaxTime, t)
		out.MinMemory = min(out.MinMemory, m.MemoryMB)
		out.MaxMemory = max(out.MaxMemory, m.MemoryMB)
	}

	n := float64(len(ms))
	out.AvgTime = sumTime / n
	out.AvgMemory = sumMem / n
	return out, nil
}
