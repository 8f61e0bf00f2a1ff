package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Timezone string `yaml:"timezone"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"app"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`
		IntervalHours int    `yaml:"interval_hours"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Hours struct {
		Open         string `yaml:"open"`
		Close        string `yaml:"close"`
		StepMinutes  int    `yaml:"step_minutes"`
		SkipWeekends bool   `yaml:"skip_weekends"`
	} `yaml:"hours"`

	Reminders struct {
		Policy              string  `yaml:"policy"`
		OffsetHours         int     `yaml:"offset_hours"`
		WindowHours         int     `yaml:"window_hours"`
		SendTime            string  `yaml:"send_time"`
		Cutoff              string  `yaml:"cutoff"`
		TickIntervalMinutes int     `yaml:"tick_interval_minutes"`
		MaxConcurrent       int     `yaml:"max_concurrent"`
		RatePerSecond       float64 `yaml:"rate_per_second"`
		ReleaseZombieClaims bool    `yaml:"release_zombie_claims"`
		ZombieAgeMinutes    int     `yaml:"zombie_age_minutes"`
	} `yaml:"reminders"`

	SMS struct {
		Driver string `yaml:"driver"`
		Token  string `yaml:"token"`
		From   string `yaml:"from"`
	} `yaml:"sms"`

	Redis struct {
		Enabled         bool   `yaml:"enabled"`
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Calendar struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		CalendarID      string `yaml:"calendar_id"`
	} `yaml:"calendar"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Timezone == "" {
		c.App.Timezone = "Europe/Warsaw"
	}
	if c.App.BaseURL == "" {
		c.App.BaseURL = "http://localhost:8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/terminarz.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Hours.Open == "" {
		c.Hours.Open = "09:00"
	}
	if c.Hours.Close == "" {
		c.Hours.Close = "17:00"
	}
	if c.Hours.StepMinutes <= 0 {
		c.Hours.StepMinutes = 30
	}
	if c.Reminders.Policy == "" {
		c.Reminders.Policy = "relative"
	}
	if c.Reminders.OffsetHours <= 0 {
		c.Reminders.OffsetHours = 24
	}
	if c.Reminders.WindowHours <= 0 {
		c.Reminders.WindowHours = 1
	}
	if c.Reminders.TickIntervalMinutes <= 0 {
		c.Reminders.TickIntervalMinutes = 5
	}
	if c.Reminders.MaxConcurrent <= 0 {
		c.Reminders.MaxConcurrent = 10
	}
	if c.Reminders.RatePerSecond <= 0 {
		c.Reminders.RatePerSecond = 5
	}
	if c.Reminders.ZombieAgeMinutes <= 0 {
		c.Reminders.ZombieAgeMinutes = 60
	}
	if c.SMS.Driver == "" {
		c.SMS.Driver = "log"
	}
	if c.Redis.CacheTTLSeconds <= 0 {
		c.Redis.CacheTTLSeconds = 300
	}
}

// Location resolves the configured business timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

// TickInterval returns the scheduler wake-up period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Reminders.TickIntervalMinutes) * time.Minute
}

// ZombieAge returns how old a claim must be before the diagnostic releases it.
func (c *Config) ZombieAge() time.Duration {
	return time.Duration(c.Reminders.ZombieAgeMinutes) * time.Minute
}

// CacheTTL returns the availability cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}
