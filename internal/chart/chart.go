// Package chart renders dashboard series with go-chart.
package chart

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/LeonGeorgi/corona/internal/models"
)

var ErrNotEnoughData = errors.New("chart: at least two points are required")

type Format string

const (
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
)

func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/svg+xml"
}

type Options struct {
	Width    int
	Height   int
	LogScale bool
	Theme    models.ThemeMode
	Format   Format
}

const (
	DefaultWidth  = 960
	DefaultHeight = 480
)

type palette struct {
	background drawing.Color
	font       drawing.Color
	grid       drawing.Color
}

var (
	darkPalette = palette{
		background: drawing.ColorFromHex("333333"),
		font:       drawing.Color{R: 255, G: 255, B: 255, A: 230},
		grid:       drawing.Color{R: 255, G: 255, B: 255, A: 13},
	}
	lightPalette = palette{
		background: drawing.ColorFromHex("ffffff"),
		font:       drawing.ColorFromHex("333333"),
		grid:       drawing.Color{R: 0, G: 0, B: 0, A: 13},
	}

	casesArea   = drawing.ColorFromHex("48a59c")
	casesLine   = drawing.ColorFromHex("E0F2F1")
	deathsArea  = drawing.ColorFromHex("b3423b")
	deathsLine  = drawing.ColorFromHex("FFEBEE")
	growthAbove = drawing.ColorFromHex("489f4c")
	growthBelow = drawing.ColorFromHex("b3423b")
	growthLine  = drawing.ColorWhite
)

func paletteFor(mode models.ThemeMode) palette {
	if mode == models.ThemeLight {
		return lightPalette
	}
	// auto has no client preference to consult on the server.
	return darkPalette
}

// Layout is the resolved axis geometry of a chart. For log scale charts Y is
// expressed in log10 units.
type Layout struct {
	Metric models.Metric
	Log    bool
	X      gochart.ContinuousRange
	Y      gochart.ContinuousRange
	XTicks []gochart.Tick
	YTicks []gochart.Tick
}

// Plan drops absent values and computes the axes for metric.
func Plan(metric models.Metric, series models.Series, logScale bool) (Layout, models.Series, error) {
	points := series.Present()
	if len(points) < 2 {
		return Layout{}, nil, ErrNotEnoughData
	}
	first, last := TimeDomain(points)
	l := Layout{Metric: metric}
	l.X, l.XTicks = timeAxis(first, last, axisTicks)

	if metric == models.MetricGrowth {
		l.Y = gochart.ContinuousRange{Min: GrowthMin, Max: GrowthMax}
		for v := GrowthMin; v <= GrowthMax; v += 7 {
			l.YTicks = append(l.YTicks, gochart.Tick{Value: v, Label: formatValue(v)})
		}
		return l, points, nil
	}

	min, max := MagnitudeDomain(points, logScale)
	l.Log = logScale
	if logScale {
		l.Y, l.YTicks = logAxis(min, max)
	} else {
		l.Y, l.YTicks = linearAxis(min, max, axisTicks)
	}
	return l, points, nil
}

// Render draws series for metric to w. Cases, deaths and incidence use the
// magnitude chart; growth uses the diverging growth chart.
func Render(w io.Writer, metric models.Metric, series models.Series, opts Options) error {
	layout, points, err := Plan(metric, series, opts.LogScale)
	if err != nil {
		return err
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	pal := paletteFor(opts.Theme)
	xr, yr := layout.X, layout.Y

	var s []gochart.Series
	switch metric {
	case models.MetricGrowth:
		s = growthSeries(points, pal, layout)
	case models.MetricDeaths:
		s = magnitudeSeries(points, layout.Log, deathsArea, deathsLine)
	default:
		s = magnitudeSeries(points, layout.Log, casesArea, casesLine)
	}

	c := gochart.Chart{
		Width:  opts.Width,
		Height: opts.Height,
		Background: gochart.Style{
			FillColor: pal.background,
			Padding:   gochart.Box{Top: 20, Left: 20, Right: 20, Bottom: 10},
		},
		Canvas: gochart.Style{FillColor: pal.background},
		XAxis: gochart.XAxis{
			Style:          axisStyle(pal),
			Range:          &xr,
			Ticks:          layout.XTicks,
			GridMajorStyle: gridStyle(pal),
			GridMinorStyle: gridStyle(pal),
		},
		YAxis: gochart.YAxis{
			Style:          axisStyle(pal),
			Range:          &yr,
			Ticks:          layout.YTicks,
			GridMajorStyle: gridStyle(pal),
			GridMinorStyle: gridStyle(pal),
		},
		Series: s,
	}

	rp := gochart.SVG
	if opts.Format == FormatPNG {
		rp = gochart.PNG
	}
	if err := c.Render(rp, w); err != nil {
		return fmt.Errorf("render %s chart: %w", metric, err)
	}
	return nil
}

func axisStyle(pal palette) gochart.Style {
	return gochart.Style{FontColor: pal.font, StrokeColor: pal.grid, FontSize: 10}
}

func gridStyle(pal palette) gochart.Style {
	return gochart.Style{StrokeColor: pal.grid, StrokeWidth: 1}
}

func dates(points models.Series) []time.Time {
	out := make([]time.Time, len(points))
	for i, p := range points {
		out[i] = p.Date
	}
	return out
}

func magnitudeSeries(points models.Series, logScale bool, area, line drawing.Color) []gochart.Series {
	ys := make([]float64, len(points))
	for i, p := range points {
		ys[i] = *p.Value
		if logScale {
			ys[i] = toLog(ys[i])
		}
	}
	return []gochart.Series{gochart.TimeSeries{
		Name:    "magnitude",
		Style:   gochart.Style{FillColor: area, StrokeColor: line, StrokeWidth: 2},
		XValues: dates(points),
		YValues: ys,
	}}
}

// growthSeries layers the series because go-chart fills from a line down to
// the bottom of the canvas: the positive part in green, everything below zero
// in red, then the area under the negative part in the background colour.
// The fills cover the axis grid, so it is drawn again before the line.
func growthSeries(points models.Series, pal palette, l Layout) []gochart.Series {
	xs := dates(points)
	values := make([]float64, len(points))
	above := make([]float64, len(points))
	zero := make([]float64, len(points))
	below := make([]float64, len(points))
	for i, p := range points {
		v := math.Max(GrowthMin, math.Min(GrowthMax, *p.Value))
		values[i] = v
		above[i] = math.Max(v, 0)
		below[i] = math.Min(v, 0)
	}
	fill := func(name string, ys []float64, c drawing.Color) gochart.Series {
		return gochart.TimeSeries{
			Name:    name,
			Style:   gochart.Style{FillColor: c, StrokeColor: c, StrokeWidth: 1},
			XValues: xs,
			YValues: ys,
		}
	}
	return []gochart.Series{
		fill("above", above, growthAbove),
		fill("below", zero, growthBelow),
		fill("mask", below, pal.background),
		gridOverlay{xTicks: l.XTicks, yTicks: l.YTicks, style: gridStyle(pal)},
		gochart.TimeSeries{
			Name:    "growth",
			Style:   gochart.Style{StrokeColor: growthLine, StrokeWidth: 1},
			XValues: xs,
			YValues: values,
		},
	}
}

// gridOverlay is a series that strokes grid lines at the axis ticks.
type gridOverlay struct {
	xTicks []gochart.Tick
	yTicks []gochart.Tick
	style  gochart.Style
}

func (g gridOverlay) GetName() string { return "grid" }
func (g gridOverlay) GetStyle() gochart.Style { return g.style }
func (g gridOverlay) GetYAxis() gochart.YAxisType { return gochart.YAxisPrimary }
func (g gridOverlay) Validate() error { return nil }

func (g gridOverlay) Render(r gochart.Renderer, box gochart.Box, xrange, yrange gochart.Range, _ gochart.Style) {
	r.SetStrokeColor(g.style.StrokeColor)
	r.SetStrokeWidth(g.style.StrokeWidth)
	for _, t := range g.yTicks {
		y := box.Bottom - yrange.Translate(t.Value)
		r.MoveTo(box.Left, y)
		r.LineTo(box.Right, y)
		r.Stroke()
	}
	for _, t := range g.xTicks {
		x := box.Left + xrange.Translate(t.Value)
		r.MoveTo(x, box.Top)
		r.LineTo(x, box.Bottom)
		r.Stroke()
	}
}
