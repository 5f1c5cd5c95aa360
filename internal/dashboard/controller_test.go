package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LeonGeorgi/corona/internal/cache"
	"github.com/LeonGeorgi/corona/internal/models"
	"github.com/LeonGeorgi/corona/internal/settings"
)

type fakeFetcher struct {
	mu        sync.Mutex
	countries []string
	series    map[string]models.Series
	calls     map[string]int
	gates     map[string]chan struct{}
	finished  chan string
	err       error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		countries: []string{"France", "Germany", "Italy"},
		series: map[string]models.Series{
			"Germany|cases":  makeSeries(10, 20, 40),
			"Germany|deaths": makeSeries(1, 2),
			"Italy|cases":    makeSeries(5, 6, 7, 8),
		},
		calls:    map[string]int{},
		gates:    map[string]chan struct{}{},
		finished: make(chan string, 16),
	}
}

func makeSeries(values ...float64) models.Series {
	day := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(models.Series, len(values))
	for i, v := range values {
		s[i] = models.SeriesEntry{Date: day.AddDate(0, 0, i), Value: models.Float(v)}
	}
	return s
}

func (f *fakeFetcher) ListCountries(ctx context.Context) ([]string, error) {
	return f.countries, nil
}

func (f *fakeFetcher) FetchSeries(ctx context.Context, country string, metric models.Metric) (models.Series, error) {
	key := country + "|" + string(metric)
	f.mu.Lock()
	f.calls[key]++
	gate := f.gates[key]
	err := f.err
	f.mu.Unlock()
	defer func() { f.finished <- key }()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.series[key], nil
}

func (f *fakeFetcher) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.calls {
		n += v
	}
	return n
}

func newTestController(t *testing.T, f Fetcher, store settings.Store) (*Controller, *cache.Cache) {
	t.Helper()
	c := cache.New(cache.DefaultThreshold)
	ctrl := New(context.Background(), f, c, store, Options{})
	t.Cleanup(ctrl.Close)
	return ctrl, c
}

func TestMountLoadsDefaultSelection(t *testing.T) {
	f := newFakeFetcher()
	ctrl, _ := newTestController(t, f, settings.NewMemory())

	ctrl.Mount()
	ctrl.Wait()

	st := ctrl.Snapshot()
	if st.SelectedCountry != "Germany" || st.SelectedMetric != models.MetricCases {
		t.Fatalf("unexpected selection %q/%q", st.SelectedCountry, st.SelectedMetric)
	}
	if st.ActiveMetric != models.MetricCases || st.Loading {
		t.Fatalf("expected cases loaded, got active=%q loading=%v", st.ActiveMetric, st.Loading)
	}
	if len(st.Series) <= 1 {
		t.Fatalf("expected more than one point, got %d", len(st.Series))
	}
	found := false
	for _, c := range st.Countries {
		if c == "Germany" {
			found = true
		}
	}
	if !found || len(st.Countries) != 3 {
		t.Fatalf("unexpected countries %v", st.Countries)
	}
	if st.LogScale {
		t.Fatalf("log scale must be off by default")
	}
	if st.ThemeMode != models.ThemeAuto {
		t.Fatalf("expected auto theme, got %q", st.ThemeMode)
	}
}

func TestFreshCacheHitSkipsFetcher(t *testing.T) {
	f := newFakeFetcher()
	ctrl, c := newTestController(t, f, settings.NewMemory())
	c.Put("Italy", models.MetricCases, makeSeries(1, 2, 3))

	ctrl.SelectCountryAndMetric("Italy", models.MetricCases)

	if n := f.totalCalls(); n != 0 {
		t.Fatalf("expected no fetch, got %d", n)
	}
	st := ctrl.Snapshot()
	if st.Loading || st.ActiveMetric != models.MetricCases || len(st.Series) != 3 {
		t.Fatalf("cached series not applied synchronously: %+v", st)
	}
}

func TestMissFetchesOnceAndUpdatesActiveMetric(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.gates["Germany|deaths"] = gate
	ctrl, c := newTestController(t, f, settings.NewMemory())

	ctrl.SelectCountryAndMetric("Germany", models.MetricDeaths)

	st := ctrl.Snapshot()
	if st.SelectedMetric != models.MetricDeaths || st.ActiveMetric != models.MetricCases || !st.Loading {
		t.Fatalf("expected selection ahead of rendered metric while loading: %+v", st)
	}

	close(gate)
	ctrl.Wait()

	if n := f.callCount("Germany|deaths"); n != 1 {
		t.Fatalf("expected exactly one fetch, got %d", n)
	}
	st = ctrl.Snapshot()
	if st.ActiveMetric != models.MetricDeaths || st.Loading {
		t.Fatalf("expected deaths active after load: %+v", st)
	}
	if !c.IsFresh("Germany", models.MetricDeaths) {
		t.Fatalf("fetched series should be cached")
	}

	ctrl.SelectCountryAndMetric("Germany", models.MetricDeaths)
	ctrl.Wait()
	if n := f.callCount("Germany|deaths"); n != 1 {
		t.Fatalf("second selection should be served from cache, got %d fetches", n)
	}
}

func TestSupersededFetchDoesNotOverwriteSelection(t *testing.T) {
	f := newFakeFetcher()
	gate := make(chan struct{})
	f.gates["Germany|cases"] = gate
	ctrl, c := newTestController(t, f, settings.NewMemory())

	ctrl.SelectCountryAndMetric("Germany", models.MetricCases)
	ctrl.SelectCountryAndMetric("Italy", models.MetricCases)

	if got := <-f.finished; got != "Italy|cases" {
		t.Fatalf("expected Italy to finish first, got %s", got)
	}
	close(gate)
	ctrl.Wait()

	st := ctrl.Snapshot()
	if st.SelectedCountry != "Italy" {
		t.Fatalf("unexpected selection %q", st.SelectedCountry)
	}
	if len(st.Series) != 4 {
		t.Fatalf("late Germany response replaced Italy series: %d points", len(st.Series))
	}
	if !c.IsFresh("Germany", models.MetricCases) {
		t.Fatalf("superseded response should still populate the cache")
	}
}

func TestFetchFailureLeavesLoading(t *testing.T) {
	f := newFakeFetcher()
	f.err = errors.New("connection refused")
	ctrl, c := newTestController(t, f, settings.NewMemory())

	ctrl.SelectCountryAndMetric("Germany", models.MetricCases)
	ctrl.Wait()

	st := ctrl.Snapshot()
	if !st.Loading {
		t.Fatalf("a failed fetch keeps the view loading")
	}
	if len(st.Series) != 0 {
		t.Fatalf("expected no series, got %d", len(st.Series))
	}
	if c.Len() != 0 {
		t.Fatalf("failed fetch must not be cached")
	}
}

func TestLogScaleToggleDoesNotFetch(t *testing.T) {
	f := newFakeFetcher()
	ctrl, _ := newTestController(t, f, settings.NewMemory())
	ctrl.Mount()
	ctrl.Wait()
	before := f.totalCalls()

	ctrl.SetLogScale(true)
	ctrl.Wait()

	if f.totalCalls() != before {
		t.Fatalf("log scale toggle triggered a fetch")
	}
	if !ctrl.Snapshot().LogScale {
		t.Fatalf("expected log scale on")
	}
}

func TestThemeModePersistsAcrossControllers(t *testing.T) {
	store := settings.NewMemory()
	f := newFakeFetcher()

	first, _ := newTestController(t, f, store)
	first.SetThemeMode(models.ThemeDark)

	v, ok, err := store.Get(context.Background(), settings.ThemeModeKey)
	if err != nil || !ok || v != "dark" {
		t.Fatalf("expected dark to be persisted, got %q %v %v", v, ok, err)
	}

	second, _ := newTestController(t, f, store)
	if got := second.Snapshot().ThemeMode; got != models.ThemeDark {
		t.Fatalf("expected restored dark theme, got %q", got)
	}
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	f := newFakeFetcher()
	ctrl, _ := newTestController(t, f, settings.NewMemory())

	var mu sync.Mutex
	var seen []State
	cancel := ctrl.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ctrl.SelectCountryAndMetric("Germany", models.MetricCases)
	ctrl.Wait()
	ctrl.SetLogScale(true)
	cancel()
	ctrl.SetLogScale(false)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 notifications (loading, loaded, log scale), got %d", len(seen))
	}
	if !seen[0].Loading || seen[1].Loading || !seen[2].LogScale {
		t.Fatalf("unexpected notification sequence %+v", seen)
	}
}
