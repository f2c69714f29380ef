// Package config loads the device agent configuration from an optional YAML
// file and PAYNOTIFY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "PAYNOTIFY"
	DefaultFile = "agent.yaml"
)

type Config struct {
	DBPath     string `mapstructure:"db_path"`
	BackendURL string `mapstructure:"backend_url"`
	DeviceUUID string `mapstructure:"device_uuid"`
	Token      string `mapstructure:"token"`
	Retention  int    `mapstructure:"retention"`
	MaxAmount  string `mapstructure:"max_amount"`

	Delivery DeliveryConfig `mapstructure:"delivery"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Log      LogConfig      `mapstructure:"log"`
}

type DeliveryConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
	// ProbeURL is polled before each run; empty means the backend ping route.
	ProbeURL string `mapstructure:"probe_url"`
}

type ScheduleConfig struct {
	DeliveryInterval    time.Duration `mapstructure:"delivery_interval"`
	ResetFailedInterval time.Duration `mapstructure:"reset_failed_interval"`
	SyncInterval        time.Duration `mapstructure:"sync_interval"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
}

type CaptureConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "paynotify-outbox.db")
	v.SetDefault("backend_url", "http://localhost:3000")
	v.SetDefault("device_uuid", "")
	v.SetDefault("token", "")
	v.SetDefault("retention", 5000)
	v.SetDefault("max_amount", "1000000")

	v.SetDefault("delivery.timeout", 15*time.Second)
	v.SetDefault("delivery.batch_size", 0)
	v.SetDefault("delivery.probe_url", "")

	v.SetDefault("schedule.delivery_interval", time.Minute)
	v.SetDefault("schedule.reset_failed_interval", time.Hour)
	v.SetDefault("schedule.sync_interval", 6*time.Hour)
	v.SetDefault("schedule.health_interval", 15*time.Minute)
	v.SetDefault("schedule.backoff_initial", 30*time.Second)
	v.SetDefault("schedule.backoff_max", 30*time.Minute)

	v.SetDefault("capture.listen", "127.0.0.1:8765")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// then overlays environment variables such as PAYNOTIFY_BACKEND_URL or
// PAYNOTIFY_SCHEDULE_DELIVERY_INTERVAL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	if c.BackendURL == "" {
		return errors.New("backend_url must not be empty")
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be > 0 (got %s)", c.Delivery.Timeout)
	}
	if c.Schedule.DeliveryInterval <= 0 {
		return fmt.Errorf("schedule.delivery_interval must be > 0 (got %s)", c.Schedule.DeliveryInterval)
	}
	if c.Schedule.BackoffInitial <= 0 || c.Schedule.BackoffMax < c.Schedule.BackoffInitial {
		return errors.New("schedule.backoff_initial must be > 0 and <= schedule.backoff_max")
	}
	if _, err := c.MaxAmountDecimal(); err != nil {
		return err
	}
	return nil
}

// MaxAmountDecimal parses the classifier amount ceiling.
func (c *Config) MaxAmountDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.MaxAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("max_amount: %w", err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("max_amount must be > 0 (got %s)", c.MaxAmount)
	}
	return d, nil
}

// ProbeURL is the connectivity check target.
func (c *Config) ProbeURL() string {
	if c.Delivery.ProbeURL != "" {
		return c.Delivery.ProbeURL
	}
	return strings.TrimRight(c.BackendURL, "/") + "/v1/health-check/ping"
}
