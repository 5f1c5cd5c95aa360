// Package analysis derives the daily metrics served by the API from
// cumulative counts. All series are aligned by index with the input; NaN
// marks a day without a value.
package analysis

import "math"

// Window of the rolling means, in days.
const Window = 7

// DailyChange returns x[t] - x[t-1]; the first day has no predecessor.
func DailyChange(x []float64) []float64 {
	out := make([]float64, len(x))
	for t := range x {
		if t == 0 {
			out[t] = math.NaN()
			continue
		}
		out[t] = x[t] - x[t-1]
	}
	return out
}

// Shift moves values n places later (n > 0) or earlier (n < 0), filling the
// vacated places with NaN.
func Shift(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	for t := range out {
		src := t - n
		if src < 0 || src >= len(x) {
			out[t] = math.NaN()
			continue
		}
		out[t] = x[src]
	}
	return out
}

// Rolling applies fn to every trailing window of size w. Windows that reach
// before the start or contain NaN yield NaN.
func Rolling(x []float64, w int, fn func([]float64) float64) []float64 {
	out := make([]float64, len(x))
	for t := range x {
		if t < w-1 {
			out[t] = math.NaN()
			continue
		}
		win := x[t-w+1 : t+1]
		if hasNaN(win) {
			out[t] = math.NaN()
			continue
		}
		out[t] = fn(win)
	}
	return out
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func Mean(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

// GeometricMean is NaN for negative inputs and 0 when any input is 0.
func GeometricMean(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += math.Log(v)
	}
	return math.Exp(s / float64(len(x)))
}

// gaussian3 is a 3 point gaussian window with a standard deviation of one day.
func gaussian3(x []float64) float64 {
	w := math.Exp(-0.5)
	return (w*x[0] + x[1] + w*x[2]) / (1 + 2*w)
}

// CenteredMean is the 7 day mean over t-3..t+3.
func CenteredMean(x []float64) []float64 {
	return Shift(Rolling(x, Window, Mean), -Window/2)
}

// NewPerDay smooths the daily change of a cumulative series with a centered
// 7 day mean. This is what the API serves as cases and deaths.
func NewPerDay(cumulative []float64) []float64 {
	return CenteredMean(DailyChange(cumulative))
}

// WeekOverWeek is x[t] / x[t-7], with NaN where last week was zero. Gaps
// after the first value are filled by Interpolate.
func WeekOverWeek(x []float64) []float64 {
	last := Shift(x, Window)
	out := make([]float64, len(x))
	for t := range x {
		if last[t] == 0 {
			out[t] = math.NaN()
			continue
		}
		out[t] = x[t] / last[t]
	}
	return Interpolate(out)
}

// Interpolate fills interior NaN runs linearly and repeats the last value
// over a trailing run. Leading NaN stay.
func Interpolate(x []float64) []float64 {
	out := append([]float64(nil), x...)
	prev := -1
	for t, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if prev >= 0 && t-prev > 1 {
			step := (v - out[prev]) / float64(t-prev)
			for k := prev + 1; k < t; k++ {
				out[k] = out[prev] + step*float64(k-prev)
			}
		}
		prev = t
	}
	if prev >= 0 {
		for k := prev + 1; k < len(out); k++ {
			out[k] = out[prev]
		}
	}
	return out
}

// Growth is the smoothed daily growth rate of newPerDay in percent: the
// seventh root of the week-over-week ratio, averaged geometrically over a
// centered week, smoothed with a centered 3 day gaussian and mapped to
// (rate-1)*100.
func Growth(newPerDay []float64) []float64 {
	ratio := WeekOverWeek(newPerDay)
	daily := make([]float64, len(ratio))
	for t, v := range ratio {
		daily[t] = math.Pow(v, 1.0/Window)
	}
	mean := Shift(Rolling(daily, Window, GeometricMean), -Window/2)
	smooth := Shift(Rolling(mean, 3, gaussian3), -1)
	out := make([]float64, len(smooth))
	for t, v := range smooth {
		out[t] = (v - 1) * 100
	}
	return out
}

// Incidence is the 7 day case count per 100000 people.
func Incidence(cumulative []float64, population float64) []float64 {
	last := Shift(cumulative, Window)
	out := make([]float64, len(cumulative))
	for t := range cumulative {
		out[t] = (cumulative[t] - last[t]) / population * 100_000
	}
	return out
}
