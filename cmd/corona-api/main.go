package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/LeonGeorgi/corona/internal/analysis"
	"github.com/LeonGeorgi/corona/internal/config"
	"github.com/LeonGeorgi/corona/internal/dataset"
	"github.com/LeonGeorgi/corona/internal/httpapi"
	"github.com/LeonGeorgi/corona/internal/jhu"
	"github.com/LeonGeorgi/corona/internal/mqtt"
	"github.com/LeonGeorgi/corona/internal/observability"
	"github.com/LeonGeorgi/corona/internal/store"
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

	shutdownObs, promHandler, tracer := observability.SetupObservability("corona-api")
	defer shutdownObs()

	db, err := openDatabase(cfg.API.Database)
	if err != nil {
		slog.Error("db init failed", "driver", cfg.API.Database.Driver, "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	pops, err := analysis.LoadPopulations(cfg.API.PopulationsFile)
	if err != nil {
		slog.Error("populations load failed", "error", err)
		os.Exit(1)
	}

	opts := dataset.Options{
		MinInterval: cfg.API.MinRefreshInterval,
		Populations: pops,
		Store:       repo,
	}
	var mq *mqtt.Client
	if cfg.MQTT.BrokerURL != "" {
		mq, err = mqtt.Connect(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID)
		if err != nil {
			slog.Warn("mqtt unavailable, refreshes will not be announced", "error", err)
		} else {
			opts.Publisher = mq
			opts.Topic = mqtt.DatasetUpdatedTopic(cfg.MQTT.TopicPrefix)
		}
	}

	src := jhu.New(cfg.API.CasesURL, cfg.API.DeathsURL, cfg.API.DownloadTimeout)
	data := dataset.New(src, opts)

	ctx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()
	if err := data.Warm(ctx); err != nil {
		slog.Warn("warm start failed", "error", err)
	}
	go func() {
		if _, err := data.Refresh(ctx, false); err != nil {
			slog.Error("initial refresh failed", "error", err)
		}
	}()
	if err := data.Start(ctx, cfg.API.RefreshCron); err != nil {
		slog.Error("refresh schedule invalid", "error", err)
		os.Exit(1)
	}

	srv := httpapi.NewServer(data)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(observability.MetricsAndTracingMiddleware(tracer, "corona-api"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promHandler)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Route("/api", srv.RegisterRoutes)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("corona-api started", "port", cfg.API.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down")
	cancelRefresh()
	data.Stop()
	mq.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver == "postgres" {
		p := cfg.Postgres
		return store.OpenPostgres(p.User, p.Password, p.DBName, p.Host, p.Port, p.SSLMode)
	}
	return store.OpenSQLite(cfg.SQLitePath)
}
