// Package dataset keeps the derived per-country metrics in memory and
// refreshes them from the JHU source.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"

	"github.com/LeonGeorgi/corona/internal/analysis"
	"github.com/LeonGeorgi/corona/internal/jhu"
	"github.com/LeonGeorgi/corona/internal/models"
	"github.com/LeonGeorgi/corona/internal/observability"
	"github.com/LeonGeorgi/corona/internal/store"
)

var (
	ErrNotLoaded      = errors.New("dataset not loaded yet")
	ErrUnknownCountry = errors.New("unknown country")
	ErrUnknownMetric  = errors.New("unknown metric")
	ErrNoPopulation   = errors.New("no population known for country")
)

const DefaultMinInterval = 3 * time.Hour

type Source interface {
	Download(ctx context.Context) (jhu.Snapshot, error)
}

// Store persists raw counts so a restart can serve data before the first
// download finishes.
type Store interface {
	ReplaceCounts(ctx context.Context, rows []store.DailyCount) error
	LoadCounts(ctx context.Context) ([]store.DailyCount, error)
	RecordRun(ctx context.Context, run *store.RefreshRun) error
	LatestRun(ctx context.Context) (*store.RefreshRun, error)
}

type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

type Options struct {
	// MinInterval throttles unforced refreshes.
	MinInterval time.Duration
	Populations analysis.Populations
	Store       Store
	Publisher   Publisher
	Topic       string
	Logger      *slog.Logger
	Now         func() time.Time
}

// frame is an immutable set of derived series. Rows follow countries.
type frame struct {
	dates     []time.Time
	countries []string
	index     map[string]int
	cumCases  [][]float64
	cases     [][]float64
	deaths    [][]float64
	growth    [][]float64
}

type Service struct {
	src  Source
	opts Options

	// refreshMu serializes refreshes; mu guards the fields below it.
	refreshMu  sync.Mutex
	mu         sync.RWMutex
	frame      *frame
	lastUpdate time.Time

	cron *cron.Cron
}

func New(src Source, opts Options) *Service {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Populations == nil {
		opts.Populations = analysis.Populations{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{src: src, opts: opts}
}

// Warm loads the last persisted counts. The throttle window starts at the
// persisted run, so a quick restart does not download again.
func (s *Service) Warm(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	rows, err := s.opts.Store.LoadCounts(ctx)
	if err != nil {
		return fmt.Errorf("load counts: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	cases, deaths := tablesFromRows(rows)
	f := buildFrame(cases, deaths)

	run, err := s.opts.Store.LatestRun(ctx)
	if err != nil {
		return fmt.Errorf("load latest run: %w", err)
	}

	s.mu.Lock()
	s.frame = f
	if run != nil {
		s.lastUpdate = run.FinishedAt
	}
	s.mu.Unlock()
	s.opts.Logger.Info("dataset warmed from store", "countries", len(f.countries), "days", len(f.dates))
	return nil
}

// Refresh downloads and recomputes unless the last successful refresh is
// younger than MinInterval and force is false. It reports whether new data
// was loaded.
func (s *Service) Refresh(ctx context.Context, force bool) (bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	started := s.opts.Now()
	last := s.LastUpdate()
	if !force && !last.IsZero() && started.Sub(last) < s.opts.MinInterval {
		observability.RefreshRuns.WithLabelValues("skipped").Inc()
		return false, nil
	}

	s.opts.Logger.Info("downloading new data")
	snap, err := s.src.Download(ctx)
	if err != nil {
		observability.RefreshRuns.WithLabelValues("error").Inc()
		return false, fmt.Errorf("download: %w", err)
	}
	f := buildFrame(snap.Cases, snap.Deaths)
	finished := s.opts.Now()

	s.mu.Lock()
	s.frame = f
	s.lastUpdate = started
	s.mu.Unlock()
	observability.RefreshRuns.WithLabelValues("ok").Inc()
	s.opts.Logger.Info("dataset refreshed", "countries", len(f.countries), "days", len(f.dates))

	s.persist(ctx, snap, f, started, finished)
	s.announce(finished, len(f.countries))
	return true, nil
}

func (s *Service) persist(ctx context.Context, snap jhu.Snapshot, f *frame, started, finished time.Time) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.ReplaceCounts(ctx, rowsFromTables(snap.Cases, snap.Deaths)); err != nil {
		s.opts.Logger.Warn("failed to persist counts", "error", err)
		return
	}
	sources, _ := json.Marshal(snap.Sources)
	run := &store.RefreshRun{
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Countries:  len(f.countries),
		Days:       len(f.dates),
		Sources:    datatypes.JSON(sources),
	}
	if err := s.opts.Store.RecordRun(ctx, run); err != nil {
		s.opts.Logger.Warn("failed to record refresh run", "error", err)
	}
}

func (s *Service) announce(at time.Time, countries int) {
	if s.opts.Publisher == nil || s.opts.Topic == "" {
		return
	}
	payload, err := json.Marshal(models.DatasetUpdate{RefreshedAt: at.UTC(), Countries: countries})
	if err != nil {
		return
	}
	if err := s.opts.Publisher.Publish(s.opts.Topic, payload, true); err != nil {
		s.opts.Logger.Warn("failed to announce refresh", "topic", s.opts.Topic, "error", err)
	}
}

func (s *Service) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

func (s *Service) current() (*frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, ErrNotLoaded
	}
	return s.frame, nil
}

// Countries lists countries in source file order.
func (s *Service) Countries() ([]string, error) {
	f, err := s.current()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), f.countries...), nil
}

// HasCountry reports whether country is part of the loaded data.
func (s *Service) HasCountry(country string) (bool, error) {
	f, err := s.current()
	if err != nil {
		return false, err
	}
	_, ok := f.index[country]
	return ok, nil
}

// Series returns one derived metric of country. Days without a finite value
// carry a nil Value.
func (s *Service) Series(country string, metric models.Metric) (models.Series, error) {
	f, err := s.current()
	if err != nil {
		return nil, err
	}
	i, ok := f.index[country]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCountry, country)
	}

	var values []float64
	switch metric {
	case models.MetricCases:
		values = f.cases[i]
	case models.MetricDeaths:
		values = f.deaths[i]
	case models.MetricGrowth:
		values = f.growth[i]
	case models.MetricIncidence:
		pop, ok := s.opts.Populations.Lookup(country)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoPopulation, country)
		}
		values = analysis.Incidence(f.cumCases[i], pop)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}

	out := make(models.Series, len(values))
	for t, v := range values {
		out[t] = models.SeriesEntry{Date: f.dates[t]}
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[t].Value = models.Float(v)
		}
	}
	return out, nil
}

// Start schedules unforced refreshes on spec, a robfig/cron expression such
// as "@every 3h".
func (s *Service) Start(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Refresh(ctx, false); err != nil {
			s.opts.Logger.Error("scheduled refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running refresh to return.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func buildFrame(cases, deaths *jhu.Table) *frame {
	f := &frame{
		dates:     cases.Dates,
		countries: cases.Countries,
		index:     make(map[string]int, len(cases.Countries)),
	}
	deathDay := make(map[time.Time]int, len(deaths.Dates))
	for j, d := range deaths.Dates {
		deathDay[d] = j
	}
	for i, country := range cases.Countries {
		f.index[country] = i
		cum := cases.Values[i]
		newCases := analysis.NewPerDay(cum)

		cumDeaths := make([]float64, len(cases.Dates))
		col := deaths.Column(country)
		for t, d := range cases.Dates {
			cumDeaths[t] = math.NaN()
			if j, ok := deathDay[d]; ok && col != nil {
				cumDeaths[t] = col[j]
			}
		}

		f.cumCases = append(f.cumCases, cum)
		f.cases = append(f.cases, newCases)
		f.deaths = append(f.deaths, analysis.NewPerDay(cumDeaths))
		f.growth = append(f.growth, analysis.Growth(newCases))
	}
	return f
}

func rowsFromTables(cases, deaths *jhu.Table) []store.DailyCount {
	deathDay := make(map[time.Time]int, len(deaths.Dates))
	for j, d := range deaths.Dates {
		deathDay[d] = j
	}
	rows := make([]store.DailyCount, 0, len(cases.Countries)*len(cases.Dates))
	for i, country := range cases.Countries {
		col := deaths.Column(country)
		for t, d := range cases.Dates {
			row := store.DailyCount{Country: country, Date: d, Position: i, Confirmed: finite(cases.Values[i][t])}
			if j, ok := deathDay[d]; ok && col != nil {
				row.Deaths = finite(col[j])
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// tablesFromRows rebuilds both tables from rows ordered by position and date.
func tablesFromRows(rows []store.DailyCount) (*jhu.Table, *jhu.Table) {
	days := map[time.Time]struct{}{}
	for _, r := range rows {
		days[r.Date.UTC()] = struct{}{}
	}
	dates := make([]time.Time, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })
	dayIndex := make(map[time.Time]int, len(dates))
	for j, d := range dates {
		dayIndex[d] = j
	}

	cases := &jhu.Table{Dates: dates}
	deaths := &jhu.Table{Dates: dates}
	row := -1
	for k, r := range rows {
		if k == 0 || r.Country != rows[k-1].Country {
			cases.Countries = append(cases.Countries, r.Country)
			deaths.Countries = append(deaths.Countries, r.Country)
			cases.Values = append(cases.Values, nanSlice(len(dates)))
			deaths.Values = append(deaths.Values, nanSlice(len(dates)))
			row++
		}
		j := dayIndex[r.Date.UTC()]
		if r.Confirmed != nil {
			cases.Values[row][j] = *r.Confirmed
		}
		if r.Deaths != nil {
			deaths.Values[row][j] = *r.Deaths
		}
	}
	return cases, deaths
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
