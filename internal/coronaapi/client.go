package coronaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LeonGeorgi/corona/internal/models"
)

// Client talks to the corona API backend. It does not retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// StatusError is returned when the API answers with anything but 200.
type StatusError struct {
	Status int
	Body   string
}

func (e StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API returned status %d", e.Status)
	}
	return fmt.Sprintf("API returned status %d: %s", e.Status, e.Body)
}

// New builds a client for baseURL (for example http://localhost:5000/api).
// A zero timeout leaves requests unbounded.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) ListCountries(ctx context.Context) ([]string, error) {
	var resp models.CountriesResponse
	if err := c.getJSON(ctx, c.baseURL+"/countries/", &resp); err != nil {
		return nil, fmt.Errorf("listing countries: %w", err)
	}
	return resp.Countries, nil
}

func (c *Client) FetchSeries(ctx context.Context, country string, metric models.Metric) (models.Series, error) {
	u := fmt.Sprintf("%s/country/%s/?type=%s", c.baseURL, url.PathEscape(country), url.QueryEscape(string(metric)))

	// Older backends used "data" for the point list.
	var resp struct {
		Result []models.WirePoint `json:"result"`
		Data   []models.WirePoint `json:"data"`
	}
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetching %s for %s: %w", metric, country, err)
	}
	points := resp.Result
	if points == nil {
		points = resp.Data
	}

	series := make(models.Series, 0, len(points))
	for _, p := range points {
		d, err := parseDate(p.Date)
		if err != nil {
			return nil, fmt.Errorf("fetching %s for %s: %w", metric, country, err)
		}
		series = append(series, models.SeriesEntry{Date: d, Value: p.Value})
	}
	return series, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
