package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"alertcpl/internal/logging"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Meta      MetaConfig      `mapstructure:"meta"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the reconciliation cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

// MetaConfig covers the Meta Graph API insights source.
type MetaConfig struct {
	AccessToken    string        `mapstructure:"access_token"`
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	APIBase        string        `mapstructure:"api_base"`
	APIVersion     string        `mapstructure:"api_version"`
	DatePreset     string        `mapstructure:"date_preset"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PageLimit      int           `mapstructure:"page_limit"`
	MaxPages       int           `mapstructure:"max_pages"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// TelegramConfig describes the Telegram bot used for notifications.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	ParseMode      string        `mapstructure:"parse_mode"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert evaluation and suppression.
type AlertingConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	SuppressionWindow time.Duration `mapstructure:"suppression_window"`
}

// ServerConfig configures the HTTP status and trigger surface.
type ServerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Listen        string        `mapstructure:"listen"`
	TriggerSecret string        `mapstructure:"trigger_secret"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALERTCPL")
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

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Telegram.ParseMode = strings.ToLower(strings.TrimSpace(cfg.Telegram.ParseMode))

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
	v.SetDefault("app.name", "alertcpl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "data/alertcpl.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("meta.access_token", "")
	v.SetDefault("meta.app_id", "")
	v.SetDefault("meta.app_secret", "")
	v.SetDefault("meta.api_base", "https://graph.facebook.com")
	v.SetDefault("meta.api_version", "v24.0")
	v.SetDefault("meta.date_preset", "today")
	v.SetDefault("meta.request_timeout", "30s")
	v.SetDefault("meta.page_limit", 500)
	v.SetDefault("meta.max_pages", 20)
	v.SetDefault("meta.user_agent", "alertcpl/1.0")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.parse_mode", "html")
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.suppression_window", "2h")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", ":5000")
	v.SetDefault("server.trigger_secret", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "10m")

	v.SetDefault("export.max_data_points", 100000)
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
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.SuppressionWindow <= 0 {
		return fmt.Errorf("alerting.suppression_window must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Meta.PageLimit <= 0 || c.Meta.MaxPages <= 0 {
		return fmt.Errorf("meta.page_limit and meta.max_pages must be greater than zero")
	}
	switch strings.ToLower(strings.TrimSpace(c.Telegram.ParseMode)) {
	case "", "plain", "html", "markdownv2":
	default:
		return fmt.Errorf("telegram.parse_mode must be one of plain, html, markdownv2")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram.enabled is set")
	}
	return nil
}

// StorageConfigured reports whether a persistence backend can be opened.
func (c *Config) StorageConfigured() bool {
	if c.Database.Driver == DriverSQLite {
		return c.Database.SQLitePath != ""
	}
	return c.Database.DSN != ""
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
