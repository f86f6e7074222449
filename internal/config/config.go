package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"flowpower-sync/internal/logging"
	"flowpower-sync/internal/model"
)

// Price source selectors.
const (
	SourceAEMO  = "aemo"
	SourceAmber = "amber"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	AEMO      AEMOConfig      `mapstructure:"aemo"`
	Amber     AmberConfig     `mapstructure:"amber"`
	TWAP      TWAPConfig      `mapstructure:"twap"`
	Server    ServerConfig    `mapstructure:"server"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs polling cadence and clock-aligned triggers.
type SchedulerConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	AlignHalfMinute   bool          `mapstructure:"align_half_minute"`
	HappyHourTriggers bool          `mapstructure:"happy_hour_triggers"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey   int64         `mapstructure:"advisory_lock_key"`
}

// PricingConfig selects the price source and the tariff parameters.
type PricingConfig struct {
	Source           string  `mapstructure:"source"`
	Region           string  `mapstructure:"region"`
	BaseRate         float64 `mapstructure:"base_rate"`
	PEAEnabled       bool    `mapstructure:"pea_enabled"`
	PEACustomEnabled bool    `mapstructure:"pea_custom_enabled"`
	PEACustomValue   float64 `mapstructure:"pea_custom_value"`
	NetworkTariff    bool    `mapstructure:"network_tariff"`
	NetworkFlatRate  float64 `mapstructure:"network_flat_rate"`
	OtherFees        float64 `mapstructure:"other_fees"`
	IncludeGST       bool    `mapstructure:"include_gst"`
	ForecastPeriods  int     `mapstructure:"forecast_periods"`
}

// AEMOConfig covers the direct-market NEMWEB endpoints.
type AEMOConfig struct {
	DispatchURL    string        `mapstructure:"dispatch_url"`
	PredispatchURL string        `mapstructure:"predispatch_url"`
	SummaryURL     string        `mapstructure:"summary_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BulkTimeout    time.Duration `mapstructure:"bulk_timeout"`
	ForecastTTL    time.Duration `mapstructure:"forecast_ttl"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AmberConfig covers the retailer REST API.
type AmberConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	SiteID         string        `mapstructure:"site_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TWAPConfig tunes the rolling average tracker.
type TWAPConfig struct {
	WindowDays   int           `mapstructure:"window_days"`
	MinSamples   int           `mapstructure:"min_samples"`
	MinSampleGap time.Duration `mapstructure:"min_sample_gap"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

// ServerConfig governs the consumer-facing HTTP API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	ThresholdCents float64        `mapstructure:"threshold_cents"`
	Cooldown       time.Duration  `mapstructure:"cooldown"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOWPOWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flowpowersync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "300s")
	v.SetDefault("scheduler.align_half_minute", true)
	v.SetDefault("scheduler.happy_hour_triggers", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x666c6f77))

	v.SetDefault("pricing.source", SourceAEMO)
	v.SetDefault("pricing.region", "NSW1")
	v.SetDefault("pricing.base_rate", 34.0)
	v.SetDefault("pricing.pea_enabled", true)
	v.SetDefault("pricing.network_flat_rate", 10.0)
	v.SetDefault("pricing.other_fees", 2.0)
	v.SetDefault("pricing.include_gst", true)
	v.SetDefault("pricing.forecast_periods", 96)

	v.SetDefault("aemo.request_timeout", "30s")
	v.SetDefault("aemo.bulk_timeout", "60s")
	v.SetDefault("aemo.forecast_ttl", "30m")

	v.SetDefault("amber.base_url", "https://api.amber.com.au/v1")
	v.SetDefault("amber.request_timeout", "30s")

	v.SetDefault("twap.window_days", 30)
	v.SetDefault("twap.min_samples", 12)
	v.SetDefault("twap.min_sample_gap", "240s")
	v.SetDefault("twap.save_interval", "600s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", ":8422")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_cents", 100.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Pricing.Source {
	case SourceAEMO:
	case SourceAmber:
		if c.Amber.APIKey == "" {
			return fmt.Errorf("amber.api_key is required when pricing.source is %q", SourceAmber)
		}
	default:
		return fmt.Errorf("pricing.source must be %q or %q", SourceAEMO, SourceAmber)
	}
	if !model.ValidRegion(c.Pricing.Region) {
		return fmt.Errorf("pricing.region %q is not a known NEM region", c.Pricing.Region)
	}
	if c.Pricing.BaseRate < 0 {
		return fmt.Errorf("pricing.base_rate cannot be negative")
	}
	if c.Pricing.ForecastPeriods <= 0 {
		return fmt.Errorf("pricing.forecast_periods must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
