package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/LeonGeorgi/corona/internal/cache"
	"github.com/LeonGeorgi/corona/internal/config"
	"github.com/LeonGeorgi/corona/internal/coronaapi"
	"github.com/LeonGeorgi/corona/internal/dashboard"
	"github.com/LeonGeorgi/corona/internal/models"
	"github.com/LeonGeorgi/corona/internal/mqtt"
	"github.com/LeonGeorgi/corona/internal/observability"
	"github.com/LeonGeorgi/corona/internal/realtime"
	"github.com/LeonGeorgi/corona/internal/settings"
	"github.com/LeonGeorgi/corona/internal/store"
	"github.com/LeonGeorgi/corona/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $CORONA_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	observability.SetupLogging(cfg.LogLevel)

	shutdownObs, promHandler, tracer := observability.SetupObservability("corona-dashboard")
	defer shutdownObs()

	settingsStore, closeSettings, err := openSettings(cfg)
	if err != nil {
		slog.Error("settings init failed", "backend", cfg.Dashboard.SettingsBackend, "error", err)
		os.Exit(1)
	}
	defer closeSettings()

	metric, err := models.ParseMetric(cfg.Dashboard.DefaultMetric)
	if err != nil {
		slog.Warn("invalid default metric, using cases", "metric", cfg.Dashboard.DefaultMetric)
		metric = models.MetricCases
	}

	apiBase := cfg.APIBase()
	client := coronaapi.New(apiBase, cfg.Dashboard.APITimeout)
	results := cache.New(cfg.Dashboard.CacheThreshold)
	ctrl := dashboard.New(context.Background(), client, results, settingsStore, dashboard.Options{
		DefaultCountry: cfg.Dashboard.DefaultCountry,
		DefaultMetric:  metric,
	})

	var srv *web.Server
	hub := realtime.NewHub(func() realtime.Event { return srv.StateEvent() })
	srv = web.NewServer(ctrl, hub, web.Options{
		ChartWidth:  cfg.Dashboard.ChartWidth,
		ChartHeight: cfg.Dashboard.ChartHeight,
	})
	defer srv.Close()

	var mq *mqtt.Client
	if cfg.MQTT.BrokerURL != "" {
		mq, err = mqtt.Connect(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID)
		if err != nil {
			slog.Warn("mqtt unavailable, dataset updates will not be relayed", "error", err)
		} else {
			topic := mqtt.DatasetUpdatedTopic(cfg.MQTT.TopicPrefix)
			err = mq.Subscribe(topic, func(_ string, payload []byte) {
				var u models.DatasetUpdate
				if err := json.Unmarshal(payload, &u); err != nil {
					slog.Warn("invalid dataset update", "error", err)
					return
				}
				srv.DatasetUpdated(u)
			})
			if err != nil {
				slog.Warn("mqtt subscribe failed", "topic", topic, "error", err)
			}
		}
	}

	ctrl.Mount()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(observability.MetricsAndTracingMiddleware(tracer, "corona-dashboard"))

	r.Handle("/metrics", promHandler)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv.RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Dashboard.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("corona-dashboard started", "port", cfg.Dashboard.Port, "api", apiBase)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down")
	mq.Close()
	ctrl.Close()
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// openSettings builds the store that keeps the theme mode across restarts.
func openSettings(cfg *config.Config) (settings.Store, func(), error) {
	noop := func() {}
	switch cfg.Dashboard.SettingsBackend {
	case "memory":
		return settings.NewMemory(), noop, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			return nil, noop, err
		}
		return settings.NewRedis(rdb), func() { _ = rdb.Close() }, nil
	}

	var (
		db  *gorm.DB
		err error
	)
	if cfg.Dashboard.SettingsBackend == "postgres" {
		p := cfg.Dashboard.Settings.Postgres
		db, err = store.OpenPostgres(p.User, p.Password, p.DBName, p.Host, p.Port, p.SSLMode)
	} else {
		db, err = store.OpenSQLite(cfg.Dashboard.Settings.SQLitePath)
	}
	if err != nil {
		return nil, noop, err
	}
	s, err := settings.NewSQL(db)
	if err != nil {
		return nil, noop, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return s, closeDB, nil
}
