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

const (
	SequencerPostgres = "postgres"
	SequencerRedis    = "redis"
	SequencerCount    = "count"

	AuditSinkDB  = "db"
	AuditSinkLog = "log"
)

type Config struct {
	Port                     string
	DatabaseURL              string
	RedisURL                 string
	TicketSequencer          string
	DefaultTicketPrefix      string
	ClinicTimezone           string
	ClinicSettingsFile       string
	AuditSink                string
	JWTSecret                string
	NoShowGrace              time.Duration
	NoShowInterval           time.Duration
	NoShowBatchSize          int
	RateLimitPerMinute       int
	RateLimitBurst           int
	ClinicRateLimitPerMinute int
	ClinicRateLimitBurst     int
	StoreTimeout             time.Duration
	LogLevel                 string
	OTLPEndpoint             string
	OTLPInsecure             bool
}

// fileConfig mirrors Config for the optional YAML file. Durations are in
// seconds, matching the env vars.
type fileConfig struct {
	Port                     string `yaml:"port"`
	DatabaseURL              string `yaml:"db_dsn"`
	RedisURL                 string `yaml:"redis_url"`
	TicketSequencer          string `yaml:"ticket_sequencer"`
	DefaultTicketPrefix      string `yaml:"default_ticket_prefix"`
	ClinicTimezone           string `yaml:"clinic_timezone"`
	ClinicSettingsFile       string `yaml:"clinic_settings_file"`
	AuditSink                string `yaml:"audit_sink"`
	JWTSecret                string `yaml:"jwt_secret"`
	NoShowGraceSeconds       *int   `yaml:"no_show_grace_seconds"`
	NoShowIntervalSeconds    *int   `yaml:"no_show_scan_interval_seconds"`
	NoShowBatchSize          int    `yaml:"no_show_batch_size"`
	RateLimitPerMinute       int    `yaml:"rate_limit_per_min"`
	RateLimitBurst           int    `yaml:"rate_limit_burst"`
	ClinicRateLimitPerMinute int    `yaml:"clinic_rate_limit_per_min"`
	ClinicRateLimitBurst     int    `yaml:"clinic_rate_limit_burst"`
	StoreTimeoutSeconds      int    `yaml:"store_timeout_seconds"`
	LogLevel                 string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		Port:                     "8080",
		TicketSequencer:          SequencerPostgres,
		DefaultTicketPrefix:      "A",
		ClinicTimezone:           "UTC",
		AuditSink:                AuditSinkDB,
		NoShowGrace:              300 * time.Second,
		NoShowInterval:           30 * time.Second,
		NoShowBatchSize:          100,
		RateLimitPerMinute:       120,
		RateLimitBurst:           30,
		ClinicRateLimitPerMinute: 600,
		ClinicRateLimitBurst:     120,
		StoreTimeout:             5 * time.Second,
		LogLevel:                 "info",
	}
}

// Load builds the config from defaults, then the YAML file at path (if
// any), then environment variables.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		path = os.Getenv("QUEUE_CONFIG")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, file.Port)
	setString(&c.DatabaseURL, file.DatabaseURL)
	setString(&c.RedisURL, file.RedisURL)
	setString(&c.TicketSequencer, file.TicketSequencer)
	setString(&c.DefaultTicketPrefix, file.DefaultTicketPrefix)
	setString(&c.ClinicTimezone, file.ClinicTimezone)
	setString(&c.ClinicSettingsFile, file.ClinicSettingsFile)
	setString(&c.AuditSink, file.AuditSink)
	setString(&c.JWTSecret, file.JWTSecret)
	setString(&c.LogLevel, file.LogLevel)
	if file.NoShowGraceSeconds != nil {
		c.NoShowGrace = seconds(*file.NoShowGraceSeconds)
	}
	if file.NoShowIntervalSeconds != nil {
		c.NoShowInterval = seconds(*file.NoShowIntervalSeconds)
	}
	setInt(&c.NoShowBatchSize, file.NoShowBatchSize)
	setInt(&c.RateLimitPerMinute, file.RateLimitPerMinute)
	setInt(&c.RateLimitBurst, file.RateLimitBurst)
	setInt(&c.ClinicRateLimitPerMinute, file.ClinicRateLimitPerMinute)
	setInt(&c.ClinicRateLimitBurst, file.ClinicRateLimitBurst)
	if file.StoreTimeoutSeconds > 0 {
		c.StoreTimeout = seconds(file.StoreTimeoutSeconds)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = readString("PORT", c.Port)
	c.DatabaseURL = readString("DB_DSN", c.DatabaseURL)
	c.RedisURL = readString("REDIS_URL", c.RedisURL)
	c.TicketSequencer = strings.ToLower(readString("TICKET_SEQUENCER", c.TicketSequencer))
	c.DefaultTicketPrefix = readString("DEFAULT_TICKET_PREFIX", c.DefaultTicketPrefix)
	c.ClinicTimezone = readString("CLINIC_TIMEZONE", c.ClinicTimezone)
	c.ClinicSettingsFile = readString("CLINIC_SETTINGS_FILE", c.ClinicSettingsFile)
	c.AuditSink = strings.ToLower(readString("AUDIT_SINK", c.AuditSink))
	c.JWTSecret = readString("JWT_SECRET", c.JWTSecret)
	c.NoShowGrace = readDurationSeconds("NO_SHOW_GRACE_SECONDS", c.NoShowGrace)
	c.NoShowInterval = readDurationSeconds("NO_SHOW_SCAN_INTERVAL_SECONDS", c.NoShowInterval)
	c.NoShowBatchSize = readInt("NO_SHOW_BATCH_SIZE", c.NoShowBatchSize)
	c.RateLimitPerMinute = readInt("RATE_LIMIT_PER_MIN", c.RateLimitPerMinute)
	c.RateLimitBurst = readInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.ClinicRateLimitPerMinute = readInt("CLINIC_RATE_LIMIT_PER_MIN", c.ClinicRateLimitPerMinute)
	c.ClinicRateLimitBurst = readInt("CLINIC_RATE_LIMIT_BURST", c.ClinicRateLimitBurst)
	c.StoreTimeout = readDurationSeconds("STORE_TIMEOUT_SECONDS", c.StoreTimeout)
	c.LogLevel = readString("LOG_LEVEL", c.LogLevel)
	c.OTLPEndpoint = readString("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPInsecure = readBool("OTEL_EXPORTER_OTLP_INSECURE", c.OTLPInsecure)
}

func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.TicketSequencer {
	case SequencerPostgres, SequencerCount:
	case SequencerRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when TICKET_SEQUENCER=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TICKET_SEQUENCER %q", c.TicketSequencer))
	}
	switch c.AuditSink {
	case AuditSinkDB, AuditSinkLog:
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIT_SINK %q", c.AuditSink))
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		errs = append(errs, fmt.Errorf("CLINIC_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) Location() *time.Location {
	location, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return location
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readString(key, fallback string) string {
	if raw := os.Getenv(key); raw != "" {
		return raw
	}
	return fallback
}

func readDurationSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return seconds(value)
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
