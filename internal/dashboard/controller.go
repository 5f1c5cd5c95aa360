// Package dashboard holds the view state of the corona dashboard and mediates
// between user actions, the result cache and the API client.
package dashboard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/LeonGeorgi/corona/internal/cache"
	"github.com/LeonGeorgi/corona/internal/models"
	"github.com/LeonGeorgi/corona/internal/observability"
	"github.com/LeonGeorgi/corona/internal/settings"
)

// Fetcher is the part of the API client the controller needs.
type Fetcher interface {
	ListCountries(ctx context.Context) ([]string, error)
	FetchSeries(ctx context.Context, country string, metric models.Metric) (models.Series, error)
}

// State is what the UI renders. SelectedMetric and SelectedCountry follow the
// user immediately; ActiveMetric and Series change only once data is in.
type State struct {
	Series          models.Series    `json:"series"`
	Loading         bool             `json:"loading"`
	ActiveMetric    models.Metric    `json:"active_metric"`
	SelectedMetric  models.Metric    `json:"selected_metric"`
	SelectedCountry string           `json:"selected_country"`
	Countries       []string         `json:"countries"`
	LogScale        bool             `json:"log_scale"`
	ThemeMode       models.ThemeMode `json:"theme_mode"`
}

func (s State) clone() State {
	out := s
	out.Series = s.Series.Clone()
	out.Countries = append([]string(nil), s.Countries...)
	return out
}

type Options struct {
	DefaultCountry string
	DefaultMetric  models.Metric
	Logger         *slog.Logger
}

type Controller struct {
	fetcher  Fetcher
	cache    *cache.Cache
	settings settings.Store
	logger   *slog.Logger

	defaultCountry string
	defaultMetric  models.Metric

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state State
	// selection increases on every user selection; fetches carry the value
	// they were started with.
	selection uint64

	// notifyMu is taken before mu is released so listeners see changes in
	// the order they were made.
	notifyMu  sync.Mutex
	listeners map[int]func(State)
	nextID    int
}

// New restores the theme mode from store and prepares the initial state.
// Nothing is fetched until Mount.
func New(ctx context.Context, fetcher Fetcher, c *cache.Cache, store settings.Store, opts Options) *Controller {
	if opts.DefaultCountry == "" {
		opts.DefaultCountry = "Germany"
	}
	if opts.DefaultMetric == "" {
		opts.DefaultMetric = models.MetricCases
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	theme := models.ThemeAuto
	if v, ok, err := store.Get(ctx, settings.ThemeModeKey); err != nil {
		logger.Warn("failed to restore theme mode", "error", err)
	} else if ok {
		theme = models.ParseThemeMode(v)
	}

	cctx, cancel := context.WithCancel(ctx)
	return &Controller{
		fetcher:        fetcher,
		cache:          c,
		settings:       store,
		logger:         logger,
		defaultCountry: opts.DefaultCountry,
		defaultMetric:  opts.DefaultMetric,
		ctx:            cctx,
		cancel:         cancel,
		state: State{
			ActiveMetric:    opts.DefaultMetric,
			SelectedMetric:  opts.DefaultMetric,
			SelectedCountry: opts.DefaultCountry,
			Countries:       []string{opts.DefaultCountry},
			ThemeMode:       theme,
		},
		listeners: map[int]func(State){},
	}
}

// Mount loads the default selection and, in the background, the country list.
func (c *Controller) Mount() {
	c.SelectCountryAndMetric(c.defaultCountry, c.defaultMetric)

	c.wg.Add(1)
	go c.loadCountries()
}

func (c *Controller) SelectCountryAndMetric(country string, metric models.Metric) {
	c.mu.Lock()
	c.selection++
	tag := c.selection
	c.state.SelectedCountry = country
	c.state.SelectedMetric = metric
	c.state.Loading = true

	if series, ok := c.cache.Get(country, metric); ok {
		observability.CacheLookups.WithLabelValues("hit").Inc()
		c.applyLocked(series, metric)
		c.commitLocked()
		return
	}
	observability.CacheLookups.WithLabelValues("miss").Inc()
	c.commitLocked()

	c.wg.Add(1)
	go c.fetch(tag, country, metric)
}

func (c *Controller) SetLogScale(enabled bool) {
	c.mu.Lock()
	c.state.LogScale = enabled
	c.commitLocked()
}

func (c *Controller) SetThemeMode(mode models.ThemeMode) {
	c.mu.Lock()
	c.state.ThemeMode = mode
	c.commitLocked()
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// synchronously and must not call back into the controller's setters.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		delete(c.listeners, id)
	}
}

// Wait blocks until every fetch started so far has finished.
func (c *Controller) Wait() { c.wg.Wait() }

// Close cancels in-flight requests and waits for them to return.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) fetch(tag uint64, country string, metric models.Metric) {
	defer c.wg.Done()

	series, err := c.fetcher.FetchSeries(c.ctx, country, metric)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		// The view keeps loading=true; there is no failure state.
		c.logger.Error("series fetch failed", "country", country, "metric", metric, "error", err)
		return
	}
	c.cache.Put(country, metric, series)

	c.mu.Lock()
	if tag != c.selection {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded series", "country", country, "metric", metric)
		return
	}
	c.applyLocked(series, metric)
	c.commitLocked()
}

func (c *Controller) loadCountries() {
	defer c.wg.Done()

	countries, err := c.fetcher.ListCountries(c.ctx)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Error("country list fetch failed", "error", err)
		}
		return
	}

	c.mu.Lock()
	c.state.Countries = append([]string(nil), countries...)
	c.commitLocked()
}

func (c *Controller) applyLocked(series models.Series, metric models.Metric) {
	c.state.Series = series
	c.state.ActiveMetric = metric
	c.state.Loading = false
}

// commitLocked must be called with mu held and releases it. It persists the
// theme mode and notifies listeners; both happen on every state change.
func (c *Controller) commitLocked() {
	snap := c.state.clone()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	if err := c.settings.Set(c.ctx, settings.ThemeModeKey, string(snap.ThemeMode)); err != nil && c.ctx.Err() == nil {
		c.logger.Warn("failed to persist theme mode", "error", err)
	}
	for _, fn := range c.listeners {
		fn(snap)
	}
}
