package models

import (
	"fmt"
	"strings"
	"time"
)

type Metric string

const (
	MetricCases     Metric = "cases"
	MetricDeaths    Metric = "deaths"
	MetricGrowth    Metric = "growth"
	MetricIncidence Metric = "incidence"
)

// DashboardMetrics are the metrics the dashboard lets the user pick.
var DashboardMetrics = []Metric{MetricCases, MetricDeaths, MetricGrowth}

// ParseMetric accepts the wire names used by the API, including the legacy
// "inzidenz" alias for incidence.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cases":
		return MetricCases, nil
	case "deaths":
		return MetricDeaths, nil
	case "growth":
		return MetricGrowth, nil
	case "incidence", "inzidenz":
		return MetricIncidence, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

func (m Metric) Label() string {
	switch m {
	case MetricCases:
		return "Cases"
	case MetricDeaths:
		return "Deaths"
	case MetricGrowth:
		return "Growth"
	case MetricIncidence:
		return "Incidence"
	}
	return string(m)
}

type ThemeMode string

const (
	ThemeAuto  ThemeMode = "auto"
	ThemeDark  ThemeMode = "dark"
	ThemeLight ThemeMode = "light"
)

// ParseThemeMode returns ThemeAuto for anything it does not recognise.
func ParseThemeMode(s string) ThemeMode {
	switch ThemeMode(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeDark:
		return ThemeDark
	case ThemeLight:
		return ThemeLight
	}
	return ThemeAuto
}

// SeriesEntry is one daily sample. A nil Value means the backend had no
// number for that day.
type SeriesEntry struct {
	Date  time.Time `json:"date"`
	Value *float64  `json:"value"`
}

// Series is ordered by date, oldest first.
type Series []SeriesEntry

// Present returns the entries that carry a value.
func (s Series) Present() Series {
	out := make(Series, 0, len(s))
	for _, e := range s {
		if e.Value != nil {
			out = append(out, e)
		}
	}
	return out
}

// Clone deep-copies the series so callers cannot alias cached values.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	for i, e := range s {
		out[i] = SeriesEntry{Date: e.Date}
		if e.Value != nil {
			v := *e.Value
			out[i].Value = &v
		}
	}
	return out
}

func Float(v float64) *float64 { return &v }

type CountriesResponse struct {
	Countries []string `json:"countries"`
}

type WirePoint struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

type SeriesResponse struct {
	Result []WirePoint `json:"result"`
}

type CountryResponse struct {
	Country string `json:"country"`
}

// DatasetUpdate is announced by the API after each successful refresh.
type DatasetUpdate struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Countries   int       `json:"countries"`
}
