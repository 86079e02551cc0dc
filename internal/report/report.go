package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/stats"
	"github.com/Harsh-BH/Sentinel/grader/internal/storage"
)

// Object keys of the rendered charts.
const (
	TimeChartPrefix   = "graphs/time_distribution/"
	MemoryChartPrefix = "graphs/memory_distribution/"
)

// TimeChartKey returns the object key of a task's runtime chart.
func TimeChartKey(taskID string) string { return TimeChartPrefix + taskID + ".png" }

// MemoryChartKey returns the object key of a task's memory chart.
func MemoryChartKey(taskID string) string { return MemoryChartPrefix + taskID + ".png" }

// Subject identifies the submission a report is produced for.
type Subject struct {
	TaskID  string
	Contest string
	TaskN   int
	Stats   domain.AggregateStats
}

// Report lists the charts that were rendered and stored.
type Report struct {
	Time   *stats.Histogram
	Memory *stats.Histogram
	Charts []string
}

// DefaultPutTimeout bounds a single chart upload.
const DefaultPutTimeout = 30 * time.Second

// Generator compares a submission with the history of the same task and stores charts.
type Generator struct {
	store      storage.ObjectStore
	renderer   ChartRenderer
	buckets    int
	putTimeout time.Duration
	logger     *zap.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(store storage.ObjectStore, renderer ChartRenderer, buckets int, logger *zap.Logger) *Generator {
	if buckets < 1 {
		buckets = stats.DefaultBuckets
	}
	return &Generator{store: store, renderer: renderer, buckets: buckets, putTimeout: DefaultPutTimeout, logger: logger}
}

// WithPutTimeout sets the bound of a single chart upload; zero or less keeps the default.
func (g *Generator) WithPutTimeout(d time.Duration) *Generator {
	if d > 0 {
		g.putTimeout = d
	}
	return g
}

// Generate builds the time and memory histograms over history and uploads a chart for
// each one that could be built. Charts are independent: a partial report is returned
// together with the error of the chart that failed.
func (g *Generator) Generate(ctx context.Context, subj Subject, history []domain.HistoricalAggregate) (*Report, error) {
	rep := &Report{}
	title := fmt.Sprintf("%s#%d", subj.Contest, subj.TaskN)

	var errs []error

	th, err := g.chart(ctx, TimeChartKey(subj.TaskID), stats.TimeValues(history), subj.Stats.AvgTime,
		"Runtime distribution for task "+title, "Average runtime (s)")
	if err != nil {
		errs = append(errs, fmt.Errorf("time chart: %w", err))
	} else {
		rep.Time = th
		rep.Charts = append(rep.Charts, TimeChartKey(subj.TaskID))
	}

	mh, err := g.chart(ctx, MemoryChartKey(subj.TaskID), stats.MemoryValues(history), subj.Stats.AvgMemory,
		"Memory usage distribution for task "+title, "Average memory usage (MB)")
	if err != nil {
		errs = append(errs, fmt.Errorf("memory chart: %w", err))
	} else {
		rep.Memory = mh
		rep.Charts = append(rep.Charts, MemoryChartKey(subj.TaskID))
	}

	if len(errs) > 0 {
		return rep, fmt.Errorf("report: %w", errors.Join(errs...))
	}

	g.logger.Debug("Report generated",
		zap.String("task_id", subj.TaskID),
		zap.Int("history", len(history)),
		zap.Strings("charts", rep.Charts),
	)
	return rep, nil
}

func (g *Generator) chart(ctx context.Context, key string, values []float64, own float64, title, xlabel string) (*stats.Histogram, error) {
	h, err := stats.Build(values, own, g.buckets)
	if err != nil {
		return nil, err
	}
	img, err := g.renderer.Render(Chart{Title: title, XLabel: xlabel, Histogram: h})
	if err != nil {
		return nil, err
	}
	putCtx, cancel := context.WithTimeout(ctx, g.putTimeout)
	defer cancel()
	if err := g.store.Put(putCtx, key, img, g.renderer.ContentType()); err != nil {
		return nil, err
	}
	return &h, nil
}
