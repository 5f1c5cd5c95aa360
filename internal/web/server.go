// Package web serves the dashboard page, its JSON state API and the rendered
// chart images.
package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeonGeorgi/corona/internal/chart"
	"github.com/LeonGeorgi/corona/internal/dashboard"
	"github.com/LeonGeorgi/corona/internal/models"
	"github.com/LeonGeorgi/corona/internal/realtime"
)

//go:embed templates/index.html
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/index.html"))

type Options struct {
	ChartWidth  int
	ChartHeight int
	Logger      *slog.Logger
}

type Server struct {
	ctrl   *dashboard.Controller
	hub    *realtime.Hub
	opts   Options
	logger *slog.Logger

	unsubscribe func()
}

// NewServer forwards every controller change to hub as a state event.
func NewServer(ctrl *dashboard.Controller, hub *realtime.Hub, opts Options) *Server {
	if opts.ChartWidth <= 0 {
		opts.ChartWidth = chart.DefaultWidth
	}
	if opts.ChartHeight <= 0 {
		opts.ChartHeight = chart.DefaultHeight
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ctrl: ctrl, hub: hub, opts: opts, logger: logger}
	s.unsubscribe = ctrl.Subscribe(func(st dashboard.State) {
		hub.Broadcast(realtime.Event{Type: realtime.EventState, State: st})
	})
	return s
}

// StateEvent is the greeting for new websocket clients.
func (s *Server) StateEvent() realtime.Event {
	return realtime.Event{Type: realtime.EventState, State: s.ctrl.Snapshot()}
}

// DatasetUpdated tells connected browsers the backend has refreshed. The
// result cache is left alone; entries age out on their own.
func (s *Server) DatasetUpdated(u models.DatasetUpdate) {
	at := u.RefreshedAt
	s.hub.Broadcast(realtime.Event{Type: realtime.EventDatasetUpdated, RefreshedAt: &at})
}

func (s *Server) Close() { s.unsubscribe() }

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/", s.handleIndex)
	r.Get("/chart.svg", s.handleChart(chart.FormatSVG))
	r.Get("/chart.png", s.handleChart(chart.FormatPNG))
	r.Handle("/ws", s.hub)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/selection", s.handleSelection)
		r.Post("/log-scale", s.handleLogScale)
		r.Post("/theme", s.handleTheme)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type pageData struct {
	State   dashboard.State
	Metrics []models.Metric
	Width   int
	Height  int
	Version int64
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data := pageData{
		State:   s.ctrl.Snapshot(),
		Metrics: models.DashboardMetrics,
		Width:   s.opts.ChartWidth,
		Height:  s.opts.ChartHeight,
		Version: time.Now().UnixNano(),
	}
	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		s.logger.Error("render page", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type selectionRequest struct {
	Country string `json:"country"`
	Metric  string `json:"metric"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	country := strings.TrimSpace(req.Country)
	if country == "" {
		writeError(w, http.StatusBadRequest, "country is required")
		return
	}
	metric, err := models.ParseMetric(req.Metric)
	if err != nil || !slices.Contains(models.DashboardMetrics, metric) {
		writeError(w, http.StatusBadRequest, "metric must be one of cases, deaths, growth")
		return
	}
	s.ctrl.SelectCountryAndMetric(country, metric)
	writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
}

func (s *Server) handleLogScale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.ctrl.SetLogScale(req.Enabled)
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.ctrl.SetThemeMode(models.ParseThemeMode(req.Mode))
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleChart(format chart.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := chart.Options{
			Width:  dimension(r, "width", s.opts.ChartWidth),
			Height: dimension(r, "height", s.opts.ChartHeight),
			Format: format,
		}
		st := s.ctrl.Snapshot()
		opts.LogScale = st.LogScale
		opts.Theme = st.ThemeMode

		var buf bytes.Buffer
		err := chart.Render(&buf, st.ActiveMetric, st.Series, opts)
		if errors.Is(err, chart.ErrNotEnoughData) {
			// Nothing to draw yet; the page keeps showing its loading text.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			s.logger.Error("render chart", "metric", st.ActiveMetric, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to render chart")
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	}
}

func dimension(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 100 || v > 4000 {
		return def
	}
	return v
}
