package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"power-env-alerts/internal/detector"
	"power-env-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Logging  logging.Config  `mapstructure:"logging"`
	Detector detector.Config `mapstructure:"detector"`
	Baseline BaselineConfig  `mapstructure:"baseline"`
	Database DatabaseConfig  `mapstructure:"database"`
	HTTP     HTTPConfig      `mapstructure:"http"`
	Kafka    KafkaConfig     `mapstructure:"kafka"`
	Alerting AlertingConfig  `mapstructure:"alerting"`
	Replay   ReplayConfig    `mapstructure:"replay"`
	Export   ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// BaselineConfig locates the estimator snapshot and its save cadence.
type BaselineConfig struct {
	Path         string        `mapstructure:"path"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	RecordReadings  bool          `mapstructure:"record_readings"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// HTTPConfig governs the ingest/status server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// KafkaConfig covers the live-feed consumer.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	GroupID  string   `mapstructure:"group_id"`
	MinBytes int      `mapstructure:"min_bytes"`
	MaxBytes int      `mapstructure:"max_bytes"`
}

// AlertingConfig defines dispatch routing and filtering.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Channels    []string       `mapstructure:"channels"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ReplayConfig tunes CSV replay behaviour.
type ReplayConfig struct {
	WeatherTolerance time.Duration `mapstructure:"weather_tolerance"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HOMEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.homewatcher")
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
	v.SetDefault("app.name", "homewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	det := detector.DefaultConfig()
	v.SetDefault("detector.alpha", det.Alpha)
	v.SetDefault("detector.half_life_samples", det.HalfLifeSamples)
	v.SetDefault("detector.warmup_min_samples", det.WarmupMinSamples)
	v.SetDefault("detector.drift_k", det.DriftK)
	v.SetDefault("detector.drift_alert_factor", det.DriftAlertFactor)
	v.SetDefault("detector.min_duration", det.MinDuration)
	v.SetDefault("detector.cooldown", det.Cooldown)
	v.SetDefault("detector.line_voltage", det.LineVoltage)
	v.SetDefault("detector.current_limit", det.CurrentLimit)
	v.SetDefault("detector.near_limit_ratio", det.NearLimitRatio)
	v.SetDefault("detector.spike_delta", det.SpikeDelta)
	v.SetDefault("detector.spike_abs_ceiling", det.SpikeAbsCeiling)
	v.SetDefault("detector.summer_warn", det.SummerWarn)
	v.SetDefault("detector.summer_alert", det.SummerAlert)
	v.SetDefault("detector.winter_warn", det.WinterWarn)
	v.SetDefault("detector.winter_alert", det.WinterAlert)
	v.SetDefault("detector.occupancy_lux", det.OccupancyLux)
	v.SetDefault("detector.thermal_lux_gate", det.ThermalLuxGate)

	v.SetDefault("baseline.path", "baseline.json")
	v.SetDefault("baseline.save_interval", "5m")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "")
	v.SetDefault("database.record_readings", true)
	v.SetDefault("database.advisory_lock_key", int64(0x686f6d65))

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "sensor-readings")
	v.SetDefault("kafka.group_id", "homewatcher")
	v.SetDefault("kafka.min_bytes", 1)
	v.SetDefault("kafka.max_bytes", 10*1024*1024)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", "warn")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("replay.weather_tolerance", "10m")

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
	if err := c.Detector.Validate(); err != nil {
		return err
	}
	if c.Baseline.Path == "" {
		return fmt.Errorf("baseline.path must not be empty")
	}
	if c.Baseline.SaveInterval <= 0 {
		return fmt.Errorf("baseline.save_interval must be greater than zero")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Replay.WeatherTolerance <= 0 {
		return fmt.Errorf("replay.weather_tolerance must be greater than zero")
	}
	if _, err := detector.ParseSeverity(c.Alerting.MinSeverity); err != nil {
		return fmt.Errorf("alerting.min_severity: %w", err)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// MinSeverity resolves the configured alert floor.
func (c *Config) MinSeverity() detector.Severity {
	sev, err := detector.ParseSeverity(c.Alerting.MinSeverity)
	if err != nil {
		return detector.SeverityWarn
	}
	return sev
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
