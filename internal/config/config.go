package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devAPIBase  = "http://localhost:5000/api"
	prodAPIBase = "http://corona-api:5000/api"
)

type PostgresConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
}

// SQLConfig holds the connection settings for both gorm drivers.
type SQLConfig struct {
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type DatabaseConfig struct {
	Driver    string `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MQTTConfig struct {
	BrokerURL   string `mapstructure:"broker_url"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type DashboardConfig struct {
	Port           string        `mapstructure:"port"`
	APIBaseURL     string        `mapstructure:"api_base_url"`
	APITimeout     time.Duration `mapstructure:"api_timeout"`
	CacheThreshold time.Duration `mapstructure:"cache_threshold"`
	DefaultCountry string        `mapstructure:"default_country"`
	DefaultMetric  string        `mapstructure:"default_metric"`
	ChartWidth     int           `mapstructure:"chart_width"`
	ChartHeight    int           `mapstructure:"chart_height"`
	// SettingsBackend is one of "sqlite", "postgres", "redis" or "memory".
	SettingsBackend string    `mapstructure:"settings_backend"`
	Settings        SQLConfig `mapstructure:"settings"`
}

type APIConfig struct {
	Port               string         `mapstructure:"port"`
	CasesURL           string         `mapstructure:"cases_url"`
	DeathsURL          string         `mapstructure:"deaths_url"`
	DownloadTimeout    time.Duration  `mapstructure:"download_timeout"`
	MinRefreshInterval time.Duration  `mapstructure:"min_refresh_interval"`
	RefreshCron        string         `mapstructure:"refresh_cron"`
	PopulationsFile    string         `mapstructure:"populations_file"`
	Database           DatabaseConfig `mapstructure:"database"`
}

type Config struct {
	Env       string          `mapstructure:"env"`
	LogLevel  string          `mapstructure:"log_level"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	API       APIConfig       `mapstructure:"api"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvProduction)
	v.SetDefault("log_level", "info")

	v.SetDefault("dashboard.port", "3000")
	v.SetDefault("dashboard.api_base_url", "")
	v.SetDefault("dashboard.api_timeout", "0s")
	v.SetDefault("dashboard.cache_threshold", "10m")
	v.SetDefault("dashboard.default_country", "Germany")
	v.SetDefault("dashboard.default_metric", "cases")
	v.SetDefault("dashboard.chart_width", 960)
	v.SetDefault("dashboard.chart_height", 480)
	v.SetDefault("dashboard.settings_backend", "sqlite")
	v.SetDefault("dashboard.settings.sqlite_path", "dashboard-settings.db")
	v.SetDefault("dashboard.settings.postgres.user", "postgres")
	v.SetDefault("dashboard.settings.postgres.password", "postgres")
	v.SetDefault("dashboard.settings.postgres.db", "corona_dashboard")
	v.SetDefault("dashboard.settings.postgres.host", "postgres")
	v.SetDefault("dashboard.settings.postgres.port", "5432")
	v.SetDefault("dashboard.settings.postgres.sslmode", "disable")

	v.SetDefault("api.port", "5000")
	v.SetDefault("api.cases_url", "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_confirmed_global.csv")
	v.SetDefault("api.deaths_url", "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_deaths_global.csv")
	v.SetDefault("api.download_timeout", "60s")
	v.SetDefault("api.min_refresh_interval", "3h")
	v.SetDefault("api.refresh_cron", "@every 3h")
	v.SetDefault("api.populations_file", "")
	v.SetDefault("api.database.driver", "sqlite")
	v.SetDefault("api.database.sqlite_path", "corona.db")
	v.SetDefault("api.database.postgres.user", "postgres")
	v.SetDefault("api.database.postgres.password", "postgres")
	v.SetDefault("api.database.postgres.db", "corona")
	v.SetDefault("api.database.postgres.host", "postgres")
	v.SetDefault("api.database.postgres.port", "5432")
	v.SetDefault("api.database.postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", "corona/")
}

// Load reads defaults, then the optional YAML file at path, then CORONA_*
// environment variables (dashboard.port -> CORONA_DASHBOARD_PORT).
// An empty path falls back to $CORONA_CONFIG.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("corona")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CORONA_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Dashboard.SettingsBackend {
	case "sqlite", "postgres", "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis settings backend requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown settings backend %q", c.Dashboard.SettingsBackend)
	}
	switch c.API.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.API.Database.Driver)
	}
	return nil
}

// APIBase picks the backend base URL for the current environment unless one
// was configured explicitly.
func (c *Config) APIBase() string {
	if u := strings.TrimSpace(c.Dashboard.APIBaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return ResolveAPIBase(c.Env)
}

func ResolveAPIBase(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), EnvDevelopment) {
		return devAPIBase
	}
	return prodAPIBase
}
