// Package jhu downloads and parses the JHU CSSE global COVID-19 time series.
package jhu

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultCasesURL  = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_confirmed_global.csv"
	DefaultDeathsURL = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_deaths_global.csv"
)

// Header columns preceding the date columns.
const (
	colProvince = "Province/State"
	colCountry  = "Country/Region"
	colLat      = "Lat"
	colLong     = "Long"
)

var ErrMalformed = errors.New("jhu: malformed time series")

// Table holds cumulative counts, one row per country. Countries keeps file
// order and Values[i] lines up with Dates. Missing cells are NaN.
type Table struct {
	Dates     []time.Time
	Countries []string
	Values    [][]float64
}

// Column returns the counts of country, or nil.
func (t *Table) Column(country string) []float64 {
	for i, c := range t.Countries {
		if c == country {
			return t.Values[i]
		}
	}
	return nil
}

// Snapshot is one download of both series.
type Snapshot struct {
	Cases  *Table
	Deaths *Table
	// Sources maps series name to the URL it was read from.
	Sources map[string]string
}

type Source struct {
	casesURL   string
	deathsURL  string
	httpClient *http.Client
}

func New(casesURL, deathsURL string, timeout time.Duration) *Source {
	if casesURL == "" {
		casesURL = DefaultCasesURL
	}
	if deathsURL == "" {
		deathsURL = DefaultDeathsURL
	}
	return &Source{casesURL: casesURL, deathsURL: deathsURL, httpClient: &http.Client{Timeout: timeout}}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (s *Source) WithHTTPClient(hc *http.Client) *Source {
	s.httpClient = hc
	return s
}

// Download fetches both CSV files concurrently. Either failing fails the
// whole snapshot.
func (s *Source) Download(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Sources: map[string]string{"cases": s.casesURL, "deaths": s.deathsURL}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.fetch(gctx, s.casesURL)
		if err != nil {
			return fmt.Errorf("cases: %w", err)
		}
		snap.Cases = t
		return nil
	})
	g.Go(func() error {
		t, err := s.fetch(gctx, s.deathsURL)
		if err != nil {
			return fmt.Errorf("deaths: %w", err)
		}
		snap.Deaths = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *Source) fetch(ctx context.Context, u string) (*Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s: status %d: %s", u, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return Parse(resp.Body)
}

// Parse reads a JHU global time series. Rows with a Province/State are
// sub-national and skipped.
func Parse(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	provinceCol, ok1 := idx[colProvince]
	countryCol, ok2 := idx[colCountry]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: missing %s or %s column", ErrMalformed, colProvince, colCountry)
	}

	t := &Table{}
	var dateCols []int
	for i, h := range header {
		name := strings.TrimSpace(h)
		if i == provinceCol || i == countryCol || name == colLat || name == colLong {
			continue
		}
		d, err := time.Parse("1/2/06", name)
		if err != nil {
			return nil, fmt.Errorf("%w: date column %q", ErrMalformed, name)
		}
		t.Dates = append(t.Dates, d)
		dateCols = append(dateCols, i)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if cell(rec, provinceCol) != "" {
			continue
		}
		values := make([]float64, len(dateCols))
		for j, c := range dateCols {
			values[j] = parseCount(cell(rec, c))
		}
		t.Countries = append(t.Countries, cell(rec, countryCol))
		t.Values = append(t.Values, values)
	}
	return t, nil
}

func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseCount(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
