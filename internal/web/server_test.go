package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/LeonGeorgi/corona/internal/cache"
	"github.com/LeonGeorgi/corona/internal/chart"
	"github.com/LeonGeorgi/corona/internal/coronaapi"
	"github.com/LeonGeorgi/corona/internal/dashboard"
	"github.com/LeonGeorgi/corona/internal/models"
	"github.com/LeonGeorgi/corona/internal/realtime"
	"github.com/LeonGeorgi/corona/internal/settings"
)

// fakeBackend serves the corona API wire format and counts series requests.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int
}

func (b *fakeBackend) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/countries/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.CountriesResponse{Countries: []string{"Austria", "Germany", "Italy"}})
	})
	r.Get("/api/country/{name}/", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		metric := r.URL.Query().Get("type")
		b.mu.Lock()
		b.calls[name+"|"+metric]++
		b.mu.Unlock()

		values := []float64{1, 12, 150, 1900, 22000}
		if metric == "growth" {
			values = []float64{5, 3, -2, -8, 1}
		}
		day := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
		resp := models.SeriesResponse{}
		for i, v := range values {
			resp.Result = append(resp.Result, models.WirePoint{
				Date:  day.AddDate(0, 0, i).Format("2006-01-02T15:04:05"),
				Value: models.Float(v),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	})
	return r
}

func (b *fakeBackend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

type fixture struct {
	backend *fakeBackend
	ctrl    *dashboard.Controller
	server  *Server
	ts      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := &fakeBackend{calls: map[string]int{}}
	api := httptest.NewServer(backend.handler())
	t.Cleanup(api.Close)

	client := coronaapi.New(api.URL+"/api", 5*time.Second)
	ctrl := dashboard.New(context.Background(), client, cache.New(cache.DefaultThreshold), settings.NewMemory(), dashboard.Options{})
	t.Cleanup(ctrl.Close)

	var srv *Server
	hub := realtime.NewHub(func() realtime.Event { return srv.StateEvent() })
	srv = NewServer(ctrl, hub, Options{ChartWidth: 480, ChartHeight: 240})
	t.Cleanup(srv.Close)

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &fixture{backend: backend, ctrl: ctrl, server: srv, ts: ts}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	res, err := f.ts.Client().Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	return res, body
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode json: %v", err)
	}
	res, err := f.ts.Client().Post(f.ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	res.Body.Close()
	return res
}

func TestDefaultMountRendersLinearThenLog(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Mount()
	f.ctrl.Wait()

	res, body := f.get(t, "/api/state")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("state status=%d", res.StatusCode)
	}
	var st dashboard.State
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !strings.Contains(strings.Join(st.Countries, ","), "Germany") {
		t.Fatalf("countries should contain Germany: %v", st.Countries)
	}
	if st.SelectedCountry != "Germany" || st.ActiveMetric != models.MetricCases {
		t.Fatalf("unexpected selection %q/%q", st.SelectedCountry, st.ActiveMetric)
	}
	if len(st.Series) <= 1 {
		t.Fatalf("expected more than one point, got %d", len(st.Series))
	}

	layout, _, err := chart.Plan(st.ActiveMetric, st.Series, st.LogScale)
	if err != nil || layout.Log {
		t.Fatalf("expected a linear chart by default: log=%v err=%v", layout.Log, err)
	}
	res, linear := f.get(t, "/chart.svg")
	if res.StatusCode != http.StatusOK || res.Header.Get("Content-Type") != "image/svg+xml" {
		t.Fatalf("chart status=%d type=%q", res.StatusCode, res.Header.Get("Content-Type"))
	}
	fetches := f.backend.total()

	if res := f.post(t, "/api/log-scale", map[string]bool{"enabled": true}); res.StatusCode != http.StatusOK {
		t.Fatalf("log-scale status=%d", res.StatusCode)
	}
	st = f.ctrl.Snapshot()
	layout, _, err = chart.Plan(st.ActiveMetric, st.Series, st.LogScale)
	if err != nil || !layout.Log {
		t.Fatalf("expected a log chart after toggling: log=%v err=%v", layout.Log, err)
	}
	_, logChart := f.get(t, "/chart.svg")
	if bytes.Equal(linear, logChart) {
		t.Fatalf("log toggle did not change the chart")
	}
	if f.backend.total() != fetches {
		t.Fatalf("log toggle must not refetch: %d -> %d", fetches, f.backend.total())
	}
}

func TestSelectionValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body any
		want int
	}{
		{"ok", selectionRequest{Country: "Italy", Metric: "growth"}, http.StatusAccepted},
		{"missing country", selectionRequest{Metric: "cases"}, http.StatusBadRequest},
		{"incidence not on dashboard", selectionRequest{Country: "Italy", Metric: "incidence"}, http.StatusBadRequest},
		{"unknown metric", selectionRequest{Country: "Italy", Metric: "foo"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if res := f.post(t, "/api/selection", tc.body); res.StatusCode != tc.want {
				t.Fatalf("status=%d want %d", res.StatusCode, tc.want)
			}
		})
	}

	f.ctrl.Wait()
	st := f.ctrl.Snapshot()
	if st.SelectedCountry != "Italy" || st.ActiveMetric != models.MetricGrowth {
		t.Fatalf("unexpected state after selection: %q/%q", st.SelectedCountry, st.ActiveMetric)
	}
}

func TestChartNoContentWhileEmpty(t *testing.T) {
	f := newFixture(t)
	res, _ := f.get(t, "/chart.png")
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 before any data, got %d", res.StatusCode)
	}
}

func TestThemeEndpointPersistsMode(t *testing.T) {
	f := newFixture(t)
	if res := f.post(t, "/api/theme", map[string]string{"mode": "light"}); res.StatusCode != http.StatusOK {
		t.Fatalf("theme status=%d", res.StatusCode)
	}
	if got := f.ctrl.Snapshot().ThemeMode; got != models.ThemeLight {
		t.Fatalf("expected light theme, got %q", got)
	}
	_, body := f.get(t, "/")
	if !strings.Contains(string(body), `class="theme-light"`) {
		t.Fatalf("page should carry the theme class")
	}
}

func TestWebSocketPushesStateChanges(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	read := func() realtime.Event {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read ws: %v", err)
		}
		var ev realtime.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal event: %v msg=%s", err, string(msg))
		}
		return ev
	}

	if ev := read(); ev.Type != realtime.EventState {
		t.Fatalf("expected greeting state event, got %q", ev.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.server.hub.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.ctrl.SetLogScale(true)
	ev := read()
	if ev.Type != realtime.EventState {
		t.Fatalf("unexpected event type %q", ev.Type)
	}
	state, _ := ev.State.(map[string]any)
	if state["log_scale"] != true {
		t.Fatalf("expected log_scale in pushed state: %#v", ev.State)
	}

	f.server.DatasetUpdated(models.DatasetUpdate{RefreshedAt: time.Now().UTC(), Countries: 3})
	if ev := read(); ev.Type != realtime.EventDatasetUpdated {
		t.Fatalf("expected dataset_updated, got %q", ev.Type)
	}
}

func TestThemeChangeReachesOtherTabs(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	var tabs []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial ws: %v", err)
		}
		defer conn.Close()
		tabs = append(tabs, conn)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.server.hub.Clients() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if res := f.post(t, "/api/theme", map[string]string{"mode": "dark"}); res.StatusCode != http.StatusOK {
		t.Fatalf("theme status=%d", res.StatusCode)
	}

	for i, conn := range tabs {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("tab %d never saw the dark theme: %v", i, err)
			}
			var ev realtime.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatalf("unmarshal event: %v msg=%s", err, string(msg))
			}
			if state, ok := ev.State.(map[string]any); ok && state["theme_mode"] == "dark" {
				break
			}
		}
	}

	// The page applies pushed state to the theme picker as well as the page class.
	_, body := f.get(t, "/")
	if !strings.Contains(string(body), `document.getElementById("theme").value = s.theme_mode;`) {
		t.Fatalf("page script does not sync the theme picker from pushed state")
	}
}
