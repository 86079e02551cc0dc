package report

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/Harsh-BH/Sentinel/grader/internal/stats"
)

// Chart is one distribution chart to render.
type Chart struct {
	Title     string
	XLabel    string
	Histogram stats.Histogram
}

// ChartRenderer turns a chart into an encoded image.
type ChartRenderer interface {
	Render(c Chart) ([]byte, error)
	ContentType() string
}

// PNGRenderer renders charts with gonum/plot.
type PNGRenderer struct {
	Width, Height vg.Length
}

// NewPNGRenderer returns a renderer producing 10x5 inch PNG images.
func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{Width: 10 * vg.Inch, Height: 5 * vg.Inch}
}

func (r *PNGRenderer) ContentType() string {
	return "image/png"
}

func (r *PNGRenderer) Render(c Chart) ([]byte, error) {
	h := c.Histogram
	if len(h.Edges) != len(h.Percent)+1 || len(h.Percent) == 0 {
		return nil, fmt.Errorf("report: malformed histogram with %d edges and %d buckets", len(h.Edges), len(h.Percent))
	}

	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = "Percentage of solutions"

	bars := histogramBars(h)

	marker, err := plotter.NewScatter(plotter.XYs{{X: h.Value, Y: 0}})
	if err != nil {
		return nil, fmt.Errorf("report: marker: %w", err)
	}
	marker.GlyphStyle.Color = color.RGBA{R: 220, A: 255}
	marker.GlyphStyle.Shape = draw.CircleGlyph{}
	marker.GlyphStyle.Radius = vg.Points(5)

	p.Add(bars, marker)
	p.Legend.Add("Your solution", marker)
	p.Legend.Top = true

	canvas := vgimg.PngCanvas{Canvas: vgimg.New(r.Width, r.Height)}
	p.Draw(draw.New(canvas))

	var buf bytes.Buffer
	if _, err := canvas.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("report: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// histogramBars converts h into plotter bars; Width is the width of one bin.
func histogramBars(h stats.Histogram) *plotter.Histogram {
	bins := make([]plotter.HistogramBin, len(h.Percent))
	for i, pct := range h.Percent {
		bins[i] = plotter.HistogramBin{Min: h.Edges[i], Max: h.Edges[i+1], Weight: pct}
	}
	return &plotter.Histogram{
		Bins:      bins,
		Width:     h.Edges[1] - h.Edges[0],
		FillColor: color.RGBA{R: 31, G: 119, B: 180, A: 255},
		LineStyle: plotter.DefaultLineStyle,
	}
}
