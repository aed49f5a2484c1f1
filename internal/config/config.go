package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the tracking server.
// Values come from an optional YAML file (CONFIG_FILE) and are then
// overridden by environment variables, with defaults that run locally
// without any setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	// RedisDriverGeoKey is the GEO set holding online driver positions.
	RedisDriverGeoKey string `yaml:"redis_driver_geo_key"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	PGDSN      string `yaml:"pg_dsn"`
	SQLitePath string `yaml:"sqlite_path"`

	// SeedFile is a YAML list of jobs loaded into the store at startup.
	SeedFile string `yaml:"seed_file"`

	StripeKey string `yaml:"stripe_key"`
	// StatusWebhookURL receives a POST for every job status change.
	StatusWebhookURL string `yaml:"status_webhook_url"`

	DefaultSpeedMps float64       `yaml:"default_speed_mps"`
	LocationTTL     time.Duration `yaml:"location_ttl"`
	RelaySendQueue  int           `yaml:"relay_send_queue"`

	// Drivers within DriverAlertRadiusKm of a new job's pickup get a job:new
	// offer; DriverAlertLimit caps how many (0 for all).
	DriverAlertRadiusKm float64 `yaml:"driver_alert_radius_km"`
	DriverAlertLimit    int     `yaml:"driver_alert_limit"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"run_migrations"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisKeyPrefix:      "job:location:",
		RedisDriverGeoKey:   "drivers:geo",
		KafkaTopic:          "job-tracking",
		DefaultSpeedMps:     8,
		LocationTTL:         2 * time.Minute,
		RelaySendQueue:      64,
		DriverAlertRadiusKm: 30,
		LogLevel:            "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")
	setStringFromEnv(&cfg.RedisDriverGeoKey, "REDIS_DRIVER_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setStringFromEnv(&cfg.SQLitePath, "SQLITE_PATH")
	setStringFromEnv(&cfg.SeedFile, "SEED_FILE")
	setStringFromEnv(&cfg.StripeKey, "STRIPE_SECRET_KEY")
	setStringFromEnv(&cfg.StatusWebhookURL, "STATUS_WEBHOOK_URL")

	setFloatFromEnv(&cfg.DefaultSpeedMps, "TRACKING_SPEED_MPS", &errs)
	setDurationFromEnv(&cfg.LocationTTL, "TRACKING_LOCATION_TTL", &errs)
	setIntFromEnv(&cfg.RelaySendQueue, "RELAY_SEND_QUEUE", &errs)
	setFloatFromEnv(&cfg.DriverAlertRadiusKm, "DRIVER_ALERT_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.DriverAlertLimit, "DRIVER_ALERT_LIMIT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	if cfg.DefaultSpeedMps <= 0 {
		errs = append(errs, fmt.Errorf("TRACKING_SPEED_MPS must be > 0"))
	}
	if cfg.LocationTTL < 0 {
		errs = append(errs, fmt.Errorf("TRACKING_LOCATION_TTL must not be negative"))
	}
	if cfg.RelaySendQueue <= 0 {
		errs = append(errs, fmt.Errorf("RELAY_SEND_QUEUE must be > 0"))
	}
	if cfg.DriverAlertRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DRIVER_ALERT_RADIUS_KM must be > 0"))
	}
	if cfg.DriverAlertLimit < 0 {
		errs = append(errs, fmt.Errorf("DRIVER_ALERT_LIMIT must not be negative"))
	}
	if cfg.PGDSN != "" && cfg.SQLitePath != "" {
		errs = append(errs, fmt.Errorf("PG_DSN and SQLITE_PATH are mutually exclusive"))
	}

	return cfg, errors.Join(errs...)
}

func loadFile(path string, cfg *ServerConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
