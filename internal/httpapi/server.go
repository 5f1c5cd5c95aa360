package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeonGeorgi/corona/internal/dataset"
	"github.com/LeonGeorgi/corona/internal/models"
)

// wireDate matches the naive ISO timestamps the dashboard has always
// received.
const wireDate = "2006-01-02T15:04:05"

type Server struct {
	data *dataset.Service
}

func NewServer(data *dataset.Service) *Server {
	return &Server{data: data}
}

// RegisterRoutes mounts the API below r. Every path answers with and
// without a trailing slash.
func (s *Server) RegisterRoutes(r chi.Router) {
	for _, p := range []string{"/countries", "/countries/"} {
		r.Get(p, s.handleCountries)
	}
	for _, p := range []string{"/country/{name}", "/country/{name}/"} {
		r.Get(p, s.handleCountry)
	}
	for _, p := range []string{"/update", "/update/"} {
		r.Get(p, s.handleUpdate)
		r.Post(p, s.handleUpdate)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps dataset errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dataset.ErrNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, dataset.ErrUnknownCountry), errors.Is(err, dataset.ErrNoPopulation):
		return http.StatusNotFound
	case errors.Is(err, dataset.ErrUnknownMetric):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleCountries(w http.ResponseWriter, _ *http.Request) {
	countries, err := s.data.Countries()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.CountriesResponse{Countries: countries})
}

func (s *Server) handleCountry(w http.ResponseWriter, r *http.Request) {
	name, err := countryParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid country name")
		return
	}
	typ := strings.TrimSpace(r.URL.Query().Get("type"))
	if typ == "" {
		writeJSON(w, http.StatusOK, models.CountryResponse{Country: name})
		return
	}

	metric, err := models.ParseMetric(typ)
	if err != nil {
		writeError(w, http.StatusBadRequest, "type must be one of cases, deaths, growth, incidence")
		return
	}
	series, err := s.data.Series(name, metric)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := models.SeriesResponse{Result: make([]models.WirePoint, len(series))}
	for i, e := range series {
		resp.Result[i] = models.WirePoint{Date: e.Date.Format(wireDate), Value: e.Value}
	}
	writeJSON(w, http.StatusOK, resp)
}

// countryParam decodes the {name} segment. chi matches on RawPath when the
// client escaped characters such as ',' so the param is still escaped then.
func countryParam(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name, nil
	}
	return url.PathUnescape(name)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.data.Refresh(r.Context(), false)
	if err != nil {
		slog.Error("manual refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to download data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"done":      s.data.LastUpdate().UTC().Format(time.RFC3339),
		"refreshed": refreshed,
	})
}
