// Package config loads the schedmail service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// an optional .env file, then the process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

// Notifier names accepted in Config.Notifier.
const (
	NotifierLog  = "log"
	NotifierSMTP = "smtp"
	NotifierAMQP = "amqp"
)

type Config struct {
	Notifier  string          `yaml:"notifier"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type EngineConfig struct {
	WorkerID        string `yaml:"worker_id"`
	Concurrency     int    `yaml:"concurrency"`
	BatchSize       int    `yaml:"batch_size"`
	PollInterval    string `yaml:"poll_interval"`
	TickSchedule    string `yaml:"tick_schedule"` // cron spec, overrides poll_interval
	DispatchTimeout string `yaml:"dispatch_timeout"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	UseTLS   bool   `yaml:"use_tls"`
	SSL      bool   `yaml:"ssl"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	Timeout  string `yaml:"timeout"`
}

type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// RedisConfig enables sent receipts when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig caps the send rate when PerSecond > 0.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig serves Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Notifier: NotifierLog,
		Database: DatabaseConfig{DSN: "emails.db"},
		Engine: EngineConfig{
			Concurrency:     10,
			BatchSize:       100,
			PollInterval:    "1s",
			DispatchTimeout: "30s",
			MaxAttempts:     5,
		},
		SMTP: SMTPConfig{
			Host:    "smtp.example.com",
			Port:    587,
			UseTLS:  true,
			Timeout: "30s",
		},
		AMQP: AMQPConfig{
			Exchange:   "schedmail",
			RoutingKey: "email",
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from path and envFile, either of which may
// be empty. A missing envFile is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.parseYAML(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseYAML overlays data onto cfg. Unknown keys are rejected.
func (c *Config) parseYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
				return
			}
			*dst = b
		}
	}

	str("SCHEDMAIL_NOTIFIER", &c.Notifier)
	str("SCHEDMAIL_DATABASE_DSN", &c.Database.DSN)
	num("SCHEDMAIL_DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	num("SCHEDMAIL_DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)

	str("SCHEDMAIL_WORKER_ID", &c.Engine.WorkerID)
	num("SCHEDMAIL_CONCURRENCY", &c.Engine.Concurrency)
	num("SCHEDMAIL_BATCH_SIZE", &c.Engine.BatchSize)
	str("SCHEDMAIL_POLL_INTERVAL", &c.Engine.PollInterval)
	str("SCHEDMAIL_TICK_SCHEDULE", &c.Engine.TickSchedule)
	str("SCHEDMAIL_DISPATCH_TIMEOUT", &c.Engine.DispatchTimeout)
	num("SCHEDMAIL_MAX_ATTEMPTS", &c.Engine.MaxAttempts)

	str("MAIL_SERVER", &c.SMTP.Host)
	num("MAIL_PORT", &c.SMTP.Port)
	flag("MAIL_USE_TLS", &c.SMTP.UseTLS)
	flag("MAIL_USE_SSL", &c.SMTP.SSL)
	str("MAIL_USERNAME", &c.SMTP.Username)
	str("MAIL_PASSWORD", &c.SMTP.Password)
	str("MAIL_DEFAULT_SENDER", &c.SMTP.From)
	str("SCHEDMAIL_SMTP_TIMEOUT", &c.SMTP.Timeout)

	str("SCHEDMAIL_AMQP_URL", &c.AMQP.URL)
	str("SCHEDMAIL_AMQP_EXCHANGE", &c.AMQP.Exchange)
	str("SCHEDMAIL_AMQP_ROUTING_KEY", &c.AMQP.RoutingKey)

	str("SCHEDMAIL_REDIS_ADDR", &c.Redis.Addr)
	str("SCHEDMAIL_REDIS_PASSWORD", &c.Redis.Password)
	num("SCHEDMAIL_REDIS_DB", &c.Redis.DB)

	if v, ok := lookup("SCHEDMAIL_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SCHEDMAIL_RATE_LIMIT: invalid number %q", v))
		} else {
			c.RateLimit.PerSecond = f
		}
	}
	num("SCHEDMAIL_RATE_BURST", &c.RateLimit.Burst)

	str("SCHEDMAIL_LOG_LEVEL", &c.Log.Level)
	str("SCHEDMAIL_LOG_FORMAT", &c.Log.Format)
	str("SCHEDMAIL_METRICS_ADDR", &c.Metrics.Addr)

	return errors.Join(errs...)
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	var errs []error

	switch c.Notifier {
	case NotifierLog, NotifierSMTP, NotifierAMQP:
	default:
		errs = append(errs, fmt.Errorf("notifier: unknown %q", c.Notifier))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required"))
	}
	if c.Notifier == NotifierAMQP && c.AMQP.URL == "" {
		errs = append(errs, errors.New("amqp.url: required for the amqp notifier"))
	}
	if c.RateLimit.PerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.per_second: must be >= 0"))
	}

	for path, raw := range map[string]string{
		"engine.poll_interval":    c.Engine.PollInterval,
		"engine.dispatch_timeout": c.Engine.DispatchTimeout,
		"smtp.timeout":            c.SMTP.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// PollEvery returns the parsed engine poll interval, or zero when unset.
func (e EngineConfig) PollEvery() time.Duration {
	d, _ := ParseDurationField("engine.poll_interval", e.PollInterval)
	return d
}

// Timeout returns the parsed per-send timeout, or zero when unset.
func (e EngineConfig) Timeout() time.Duration {
	d, _ := ParseDurationField("engine.dispatch_timeout", e.DispatchTimeout)
	return d
}

// DialTimeout returns the parsed SMTP timeout, or zero when unset.
func (s SMTPConfig) DialTimeout() time.Duration {
	d, _ := ParseDurationField("smtp.timeout", s.Timeout)
	return d
}
