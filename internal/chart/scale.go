package chart

import (
	"fmt"
	"math"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/LeonGeorgi/corona/internal/models"
)

// Fixed value domain of the growth chart, in percent per day.
const (
	GrowthMin = -21.0
	GrowthMax = 21.0
)

const axisTicks = 5

// TimeDomain returns the first and last date of s. s must not be empty.
func TimeDomain(s models.Series) (time.Time, time.Time) {
	return s[0].Date, s[len(s)-1].Date
}

// MagnitudeDomain is [0, max] on a linear axis and [1, max] on a log axis.
// Both are widened so the axis never collapses to a single value.
func MagnitudeDomain(s models.Series, logScale bool) (float64, float64) {
	max := 0.0
	for _, e := range s {
		if e.Value != nil && *e.Value > max {
			max = *e.Value
		}
	}
	if logScale {
		if max <= 1 {
			max = 10
		}
		return 1, max
	}
	if max <= 0 {
		max = 1
	}
	return 0, max
}

// linearAxis rounds [min, max] out to nice bounds and places roughly n ticks.
func linearAxis(min, max float64, n int) (gochart.ContinuousRange, []gochart.Tick) {
	if max <= min {
		max = min + 1
	}
	step := niceStep((max-min)/float64(n-1), n)
	lo := math.Floor(min/step) * step
	hi := math.Ceil(max/step) * step

	ticks := make([]gochart.Tick, 0, n+2)
	for v := lo; v <= hi+step/2; v += step {
		ticks = append(ticks, gochart.Tick{Value: v, Label: formatValue(v)})
	}
	return gochart.ContinuousRange{Min: lo, Max: hi}, ticks
}

func niceStep(raw float64, n int) float64 {
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	best, bestScore := mag, math.MaxFloat64
	for _, c := range []float64{1, 2, 2.5, 5, 10} {
		step := c * mag
		count := math.Ceil(raw * float64(n-1) / step)
		if score := math.Abs(count - float64(n-1)); score < bestScore {
			best, bestScore = step, score
		}
	}
	return best
}

// logAxis works in log10 space: the returned range and tick values are
// exponents, the labels are the original magnitudes.
func logAxis(min, max float64) (gochart.ContinuousRange, []gochart.Tick) {
	lo := math.Floor(math.Log10(min))
	hi := math.Ceil(math.Log10(max))
	if hi <= lo {
		hi = lo + 1
	}
	ticks := make([]gochart.Tick, 0, int(hi-lo)+1)
	for e := lo; e <= hi; e++ {
		ticks = append(ticks, gochart.Tick{Value: e, Label: formatValue(math.Pow(10, e))})
	}
	return gochart.ContinuousRange{Min: lo, Max: hi}, ticks
}

// toLog maps a magnitude onto the log axis, clamping to the domain floor of 1.
func toLog(v float64) float64 {
	if v < 1 {
		v = 1
	}
	return math.Log10(v)
}

func timeAxis(first, last time.Time, n int) (gochart.ContinuousRange, []gochart.Tick) {
	lo := gochart.TimeToFloat64(first)
	hi := gochart.TimeToFloat64(last)
	layout := "02 Jan"
	if last.Sub(first) > 120*24*time.Hour {
		layout = "Jan 06"
	}
	ticks := make([]gochart.Tick, 0, n)
	span := last.Sub(first)
	for i := 0; i < n; i++ {
		t := first.Add(time.Duration(float64(span) * float64(i) / float64(n-1)))
		ticks = append(ticks, gochart.Tick{Value: gochart.TimeToFloat64(t), Label: t.Format(layout)})
	}
	return gochart.ContinuousRange{Min: lo, Max: hi}, ticks
}

func formatValue(v float64) string {
	av := math.Abs(v)
	switch {
	case av >= 1_000_000:
		return trimZero(fmt.Sprintf("%.1f", v/1_000_000)) + "M"
	case av >= 1_000:
		return trimZero(fmt.Sprintf("%.1f", v/1_000)) + "k"
	case av == math.Trunc(av):
		return fmt.Sprintf("%.0f", v)
	default:
		return trimZero(fmt.Sprintf("%.1f", v))
	}
}

func trimZero(s string) string {
	if len(s) > 2 && s[len(s)-2:] == ".0" {
		return s[:len(s)-2]
	}
	return s
}
