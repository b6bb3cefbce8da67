package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Thresholds  Thresholds        `mapstructure:"thresholds"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Geolocation GeolocationConfig `mapstructure:"geolocation"`
	Providers   []ProviderConfig  `mapstructure:"providers"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
}

// AuditConfig points at the upstream MDS audit server that queued events are
// dispatched to.
type AuditConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Thresholds are the pass/fail tolerances applied when comparing audit
// events against provider events. Each bucket applies to a category of
// event; see SelectBucket on the report builder.
type Thresholds struct {
	// trip_start and trip_end
	StartEnd ThresholdBucket `mapstructure:"start_end"`
	// trip_enter and trip_leave
	EnterLeave ThresholdBucket `mapstructure:"enter_leave"`
	// all other events, including telemetry
	Other ThresholdBucket `mapstructure:"other"`
	// telemetry event matching
	Telemetry TelemetryThresholds `mapstructure:"telemetry"`
	// audit trip vs provider trip totals
	Totals TotalsThresholds `mapstructure:"totals"`
}

// ThresholdBucket holds the tolerances for a single category of event.
type ThresholdBucket struct {
	TimeAccuracy     float64 `mapstructure:"time_accuracy" json:"time_accuracy"`         // seconds, audit.timestamp - provider.timestamp
	TimeDelay        float64 `mapstructure:"time_delay" json:"time_delay"`               // seconds, provider.timestamp - provider.recorded
	LocationAccuracy float64 `mapstructure:"location_accuracy" json:"location_accuracy"` // meters, audit.gps - provider.gps
}

// TelemetryThresholds controls telemetry matching between the two sides.
type TelemetryThresholds struct {
	MatchTime float64 `mapstructure:"match_time" json:"match_time"` // seconds, match telemetry events within this period
}

// TotalsThresholds holds the tolerances for whole-trip totals.
type TotalsThresholds struct {
	DistanceAccuracy float64 `mapstructure:"distance_accuracy" json:"distance_accuracy"` // meters, total distance delta
	TimeAccuracy     float64 `mapstructure:"time_accuracy" json:"time_accuracy"`         // seconds, total time delta
}

// QueueConfig contains event submission queue settings
type QueueConfig struct {
	OfflineCheckInterval time.Duration `mapstructure:"offline_check_interval"`
	DispatchTimeout      time.Duration `mapstructure:"dispatch_timeout"`
	TelemetryTimeout     time.Duration `mapstructure:"telemetry_timeout"`
	SnapshotKey          string        `mapstructure:"snapshot_key"`
}

// GeolocationConfig contains location acquisition settings
type GeolocationConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	CacheDuration time.Duration `mapstructure:"cache_duration"`
	DeviceID      string        `mapstructure:"device_id"`
}

// ProviderConfig identifies a mobility provider whose trips can be audited.
type ProviderConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("environment", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "mds_audit")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.database", 0)

	// Upstream audit server defaults
	v.SetDefault("audit.timeout", "30s")

	// Threshold defaults
	v.SetDefault("thresholds.start_end.time_accuracy", 60)
	v.SetDefault("thresholds.start_end.time_delay", 60)
	v.SetDefault("thresholds.start_end.location_accuracy", 70)
	v.SetDefault("thresholds.enter_leave.time_accuracy", 60)
	v.SetDefault("thresholds.enter_leave.time_delay", 60)
	v.SetDefault("thresholds.enter_leave.location_accuracy", 70)
	v.SetDefault("thresholds.other.time_accuracy", 60)
	v.SetDefault("thresholds.other.time_delay", 60)
	v.SetDefault("thresholds.other.location_accuracy", 70)
	v.SetDefault("thresholds.telemetry.match_time", 10)
	v.SetDefault("thresholds.totals.distance_accuracy", 100)
	v.SetDefault("thresholds.totals.time_accuracy", 60)

	// Queue defaults
	v.SetDefault("queue.offline_check_interval", "5s")
	v.SetDefault("queue.dispatch_timeout", "30s")
	v.SetDefault("queue.telemetry_timeout", "10s")
	v.SetDefault("queue.snapshot_key", "event_queue")

	// Geolocation defaults
	v.SetDefault("geolocation.cache_duration", "2s")
}

// Validate validates the configuration. A zero or missing threshold is a
// deployment mistake, not a data problem, so it fails loudly here instead of
// producing reports that pass everything.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if err := c.Thresholds.Validate(); err != nil {
		return err
	}

	if c.Queue.OfflineCheckInterval <= 0 {
		return fmt.Errorf("queue offline check interval must be positive")
	}

	return nil
}

// Validate checks that every threshold bucket is fully specified.
func (t Thresholds) Validate() error {
	buckets := map[string]ThresholdBucket{
		"start_end":   t.StartEnd,
		"enter_leave": t.EnterLeave,
		"other":       t.Other,
	}
	for name, bucket := range buckets {
		if bucket.TimeAccuracy <= 0 {
			return fmt.Errorf("thresholds.%s.time_accuracy is required", name)
		}
		if bucket.TimeDelay <= 0 {
			return fmt.Errorf("thresholds.%s.time_delay is required", name)
		}
		if bucket.LocationAccuracy <= 0 {
			return fmt.Errorf("thresholds.%s.location_accuracy is required", name)
		}
	}
	if t.Telemetry.MatchTime <= 0 {
		return fmt.Errorf("thresholds.telemetry.match_time is required")
	}
	if t.Totals.DistanceAccuracy <= 0 {
		return fmt.Errorf("thresholds.totals.distance_accuracy is required")
	}
	if t.Totals.TimeAccuracy <= 0 {
		return fmt.Errorf("thresholds.totals.time_accuracy is required")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.Username,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis connection address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// InitLogger initializes the logger based on configuration
func (c *Config) InitLogger() (*zap.Logger, error) {
	var cfg zap.Config
	if c.Environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}
