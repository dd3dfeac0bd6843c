package debug

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/carcontrol/internal/vision/l4estimate"
)

// Track is the list of positions sampled during a run, with the frame size
// used to scale the axes and an optional goal marker.
type Track struct {
	Title   string
	Width   int
	Height  int
	Points  []l4estimate.Position
	Goal    l4estimate.Position
	HasGoal bool
}

func (t Track) xys() plotter.XYs {
	pts := make(plotter.XYs, len(t.Points))
	for i, p := range t.Points {
		pts[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return pts
}

// WritePlot renders the track as a PNG with image-style axes (y down).
func (t Track) WritePlot(w io.Writer) error {
	p := plot.New()
	p.Title.Text = t.Title
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}
	if t.Width > 0 && t.Height > 0 {
		p.X.Min, p.X.Max = 0, float64(t.Width)
		p.Y.Min, p.Y.Max = 0, float64(t.Height)
	}
	p.Add(plotter.NewGrid())

	if len(t.Points) > 0 {
		line, points, err := plotter.NewLinePoints(t.xys())
		if err != nil {
			return fmt.Errorf("trajectory line: %w", err)
		}
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		line.Width = vg.Points(1)
		points.Shape = draw.CircleGlyph{}
		points.Radius = vg.Points(1.5)
		points.Color = line.Color
		p.Add(line, points)
		p.Legend.Add("position", line, points)
	}
	if t.HasGoal {
		goal, err := plotter.NewScatter(plotter.XYs{{X: t.Goal.X, Y: t.Goal.Y}})
		if err != nil {
			return fmt.Errorf("goal marker: %w", err)
		}
		goal.Shape = draw.CrossGlyph{}
		goal.Radius = vg.Points(5)
		goal.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		p.Add(goal)
		p.Legend.Add("goal", goal)
	}

	wt, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("trajectory plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// RenderChart renders the track as a self-contained echarts HTML page.
func (t Track) RenderChart(w io.Writer) error {
	data := make([]opts.ScatterData, 0, len(t.Points))
	for i, p := range t.Points {
		data = append(data, opts.ScatterData{Name: fmt.Sprintf("#%d", i), Value: []interface{}{p.X, p.Y}})
	}

	xAxis := opts.XAxis{Type: "value", Name: "x (px)", NameLocation: "middle", NameGap: 25}
	yAxis := opts.YAxis{Type: "value", Name: "y (px)", NameLocation: "middle", NameGap: 35, Inverse: opts.Bool(true)}
	if t.Width > 0 && t.Height > 0 {
		xAxis.Min, xAxis.Max = 0, t.Width
		yAxis.Min, yAxis.Max = 0, t.Height
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: t.Title, Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: t.Title, Subtitle: fmt.Sprintf("samples=%d", len(t.Points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(yAxis),
	)
	scatter.AddSeries("position", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	if t.HasGoal {
		scatter.AddSeries("goal", []opts.ScatterData{{Name: "goal", Value: []interface{}{t.Goal.X, t.Goal.Y}}},
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("trajectory chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
