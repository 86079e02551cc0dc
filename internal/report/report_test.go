package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/grader/internal/domain"
	"github.com/Harsh-BH/Sentinel/grader/internal/stats"
	"github.com/Harsh-BH/Sentinel/grader/internal/storage"
)

type fakeRenderer struct {
	charts []Chart
	err    error
}

func (f *fakeRenderer) Render(c Chart) ([]byte, error) {
	f.charts = append(f.charts, c)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("img:" + c.Title), nil
}

func (f *fakeRenderer) ContentType() string { return "image/png" }

func history(times, mems []float64) []domain.HistoricalAggregate {
	out := make([]domain.HistoricalAggregate, len(times))
	for i := range times {
		out[i] = domain.HistoricalAggregate{
			TaskID:         string(rune('a' + i)),
			Contest:        "c1",
			TaskN:          3,
			AggregateStats: domain.AggregateStats{AvgTime: times[i], AvgMemory: mems[i]},
		}
	}
	return out
}

var subject = Subject{
	TaskID:  "task-1",
	Contest: "c1",
	TaskN:   3,
	Stats:   domain.AggregateStats{AvgTime: 0.2, AvgMemory: 15},
}

func TestGenerate_StoresBothCharts(t *testing.T) {
	store := storage.NewFSStore(t.TempDir())
	renderer := &fakeRenderer{}
	g := NewGenerator(store, renderer, stats.DefaultBuckets, zap.NewNop())

	rep, err := g.Generate(context.Background(), subject, history([]float64{0.1, 0.2, 0.4}, []float64{10, 15, 30}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Charts) != 2 {
		t.Fatalf("expected 2 charts, got %v", rep.Charts)
	}
	for _, key := range []string{TimeChartKey("task-1"), MemoryChartKey("task-1")} {
		if _, err := store.Get(context.Background(), key); err != nil {
			t.Errorf("expected %s to be stored: %v", key, err)
		}
	}
	if rep.Time == nil || len(rep.Time.Percent) != stats.DefaultBuckets {
		t.Errorf("unexpected time histogram %+v", rep.Time)
	}
	if renderer.charts[0].Title != "Runtime distribution for task c1#3" {
		t.Errorf("unexpected title %q", renderer.charts[0].Title)
	}
}

func TestGenerate_InsufficientHistory(t *testing.T) {
	g := NewGenerator(storage.NewFSStore(t.TempDir()), &fakeRenderer{}, 0, zap.NewNop())

	rep, err := g.Generate(context.Background(), subject, history([]float64{0.2}, []float64{15}))
	if !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if len(rep.Charts) != 0 {
		t.Errorf("expected no charts, got %v", rep.Charts)
	}
}

func TestGenerate_PartialReport(t *testing.T) {
	g := NewGenerator(storage.NewFSStore(t.TempDir()), &fakeRenderer{}, 0, zap.NewNop())

	// Memory values have no spread, times do.
	rep, err := g.Generate(context.Background(), subject, history([]float64{0.1, 0.3}, []float64{12, 12}))
	if !errors.Is(err, domain.ErrDegenerateRange) {
		t.Fatalf("expected ErrDegenerateRange, got %v", err)
	}
	if len(rep.Charts) != 1 || rep.Charts[0] != TimeChartKey("task-1") {
		t.Errorf("expected only the time chart, got %v", rep.Charts)
	}
}

func TestGenerate_RenderFailure(t *testing.T) {
	boom := errors.New("no fonts")
	g := NewGenerator(storage.NewFSStore(t.TempDir()), &fakeRenderer{err: boom}, 0, zap.NewNop())

	_, err := g.Generate(context.Background(), subject, history([]float64{0.1, 0.3}, []float64{10, 20}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected render error, got %v", err)
	}
}

// stalledStore never answers until the caller gives up.
type stalledStore struct{}

func (stalledStore) Get(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledStore) Put(ctx context.Context, _ string, _ []byte, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestGenerate_StalledUploadTimesOut(t *testing.T) {
	g := NewGenerator(stalledStore{}, &fakeRenderer{}, 0, zap.NewNop()).WithPutTimeout(20 * time.Millisecond)

	start := time.Now()
	rep, err := g.Generate(context.Background(), subject, history([]float64{0.1, 0.3}, []float64{10, 20}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if len(rep.Charts) != 0 {
		t.Errorf("expected no stored charts, got %v", rep.Charts)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected uploads to be cut off, took %s", elapsed)
	}
}

func TestHistogramBars_WidthIsOneBin(t *testing.T) {
	h, err := stats.Build([]float64{0, 1, 2, 3, 4}, 2, 4)
	if err != nil {
		t.Fatal(err)
	}

	bars := histogramBars(h)
	want := h.Edges[1] - h.Edges[0]
	if bars.Width != want {
		t.Errorf("expected bin width %v, got %v", want, bars.Width)
	}
	if span := h.Edges[len(h.Edges)-1] - h.Edges[0]; bars.Width >= span {
		t.Errorf("expected width below the full range %v, got %v", span, bars.Width)
	}
	if len(bars.Bins) != len(h.Percent) {
		t.Errorf("expected %d bins, got %d", len(h.Percent), len(bars.Bins))
	}
}

func TestPNGRenderer_Render(t *testing.T) {
	h, err := stats.Build([]float64{0.1, 0.2, 0.25, 0.4}, 0.2, stats.DefaultBuckets)
	if err != nil {
		t.Fatal(err)
	}

	img, err := NewPNGRenderer().Render(Chart{Title: "Runtime", XLabel: "s", Histogram: h})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Error("expected PNG signature")
	}
}

func TestPNGRenderer_RejectsMalformed(t *testing.T) {
	if _, err := NewPNGRenderer().Render(Chart{Histogram: stats.Histogram{Edges: []float64{1}}}); err == nil {
		t.Fatal("expected error")
	}
}
