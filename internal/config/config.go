package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig             `yaml:"store" mapstructure:"store"`
	Audit      AuditConfig             `yaml:"audit" mapstructure:"audit"`
	Sources    map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
	Profiles   ProfilesConfig          `yaml:"profiles" mapstructure:"profiles"`
	Fetch      FetchConfig             `yaml:"fetch" mapstructure:"fetch"`
	Ingest     IngestConfig            `yaml:"ingest" mapstructure:"ingest"`
	Monitoring MonitoringConfig        `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig            `yaml:"server" mapstructure:"server"`
	Log        LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the warehouse database.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AuditConfig selects where run history is kept.
type AuditConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// SourceConfig locates one source's export. Location is a file path or an
// http(s) URL.
type SourceConfig struct {
	Location string `yaml:"location" mapstructure:"location"`
}

// ProfilesConfig points at an optional profile override file.
type ProfilesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// FetchConfig configures remote downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// IngestConfig configures the ingest runner.
type IngestConfig struct {
	MaxConcurrentSources int  `yaml:"max_concurrent_sources" mapstructure:"max_concurrent_sources"`
	DryRun               bool `yaml:"dry_run" mapstructure:"dry_run"`
}

// MonitoringConfig configures data-quality alerting.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RejectRateThreshold     float64 `yaml:"reject_rate_threshold" mapstructure:"reject_rate_threshold"`
	StructuralRateThreshold float64 `yaml:"structural_rate_threshold" mapstructure:"structural_rate_threshold"`
	MinRows                 int     `yaml:"min_rows" mapstructure:"min_rows"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the audit API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Location returns the configured location for source name, or "".
func (c *Config) Location(name string) string {
	return c.Sources[name].Location
}

// Validate checks the settings a command mode depends on and reports every
// problem at once. Modes: ingest, migrate, runs, serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	needDB := false
	switch mode {
	case "ingest":
		needDB = !c.Ingest.DryRun
		if c.Ingest.MaxConcurrentSources < 1 || c.Ingest.MaxConcurrentSources > 16 {
			errs = append(errs, "ingest.max_concurrent_sources must be between 1 and 16")
		}
	case "migrate":
		needDB = true
	case "runs":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needDB && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch c.Audit.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres audit driver")
		}
	case "sqlite":
		if c.Audit.SQLitePath == "" {
			errs = append(errs, "audit.sqlite_path is required for the sqlite audit driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.driver must be postgres or sqlite, got %q", c.Audit.Driver))
	}

	if r := c.Monitoring.RejectRateThreshold; r < 0 || r > 1 {
		errs = append(errs, "monitoring.reject_rate_threshold must be between 0 and 1")
	}
	if r := c.Monitoring.StructuralRateThreshold; r < 0 || r > 1 {
		errs = append(errs, "monitoring.structural_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.MinRows < 0 {
		errs = append(errs, "monitoring.min_rows must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WAREHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.sqlite_path", "warehouse_audit.db")
	v.SetDefault("sources.crm.location", "crm_revenue.csv")
	v.SetDefault("sources.facebook.location", "facebook_export.csv")
	v.SetDefault("sources.google.location", "google_ads_api.json")
	v.SetDefault("profiles.file", "")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "campaign-warehouse/1.0")
	v.SetDefault("fetch.rate_per_sec", 5)
	v.SetDefault("ingest.max_concurrent_sources", 3)
	v.SetDefault("ingest.dry_run", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.reject_rate_threshold", 0.25)
	v.SetDefault("monitoring.structural_rate_threshold", 0.05)
	v.SetDefault("monitoring.min_rows", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
