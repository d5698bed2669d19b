package engine

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-scheduled-mail/pkg/security"
)

// Option configures an Engine.
type Option interface {
	ApplyEngine(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyEngine(c *Config) { f(c) }

// Config holds engine configuration.
type Config struct {
	WorkerID        string
	Concurrency     int
	BatchSize       int
	PollInterval    time.Duration
	TickSchedule    string // robfig/cron spec, replaces PollInterval when set
	DispatchTimeout time.Duration
	Lease           time.Duration
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	StorageRetry    *RetryConfig
	ClaimRetry      *RetryConfig
	Logger          *slog.Logger
	Clock           func() time.Time
}

// Defaults.
const (
	DefaultConcurrency     = 10
	DefaultBatchSize       = 100
	DefaultPollInterval    = time.Second
	DefaultDispatchTimeout = 30 * time.Second
	DefaultLeaseMargin     = 30 * time.Second
	DefaultBaseBackoff     = time.Second
	DefaultMaxBackoff      = 5 * time.Minute
)

// WorkerID sets the identity recorded on claimed items.
func WorkerID(id string) Option {
	return optionFunc(func(c *Config) {
		c.WorkerID = id
	})
}

// Concurrency sets how many items are sent in parallel.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// BatchSize sets the maximum number of items claimed per store round trip.
func BatchSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	})
}

// PollInterval sets how often the store is polled for due items.
func PollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// TickSchedule drives polling from a cron spec such as "@every 5s" or
// "*/1 * * * *" instead of a fixed interval.
func TickSchedule(spec string) Option {
	return optionFunc(func(c *Config) {
		c.TickSchedule = spec
	})
}

// DispatchTimeout bounds a single Notifier.Send. A send that exceeds it
// counts as a transient failure.
func DispatchTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.DispatchTimeout = d
		}
	})
}

// Lease sets how long a claim stays exclusive. It must outlast
// DispatchTimeout; shorter values are raised to DispatchTimeout plus a margin.
func Lease(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.Lease = d
	})
}

// Backoff sets the delay before the first retry of a failed send and the
// cap it doubles up to.
func Backoff(base, max time.Duration) Option {
	return optionFunc(func(c *Config) {
		if base > 0 {
			c.BaseBackoff = base
		}
		if max > 0 {
			c.MaxBackoff = max
		}
	})
}

// WithStorageRetry sets the retry policy for recording send outcomes.
func WithStorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = &cfg
	})
}

// WithClaimRetry sets the retry policy for claiming due items.
func WithClaimRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.ClaimRetry = &cfg
	})
}

// WithRetryAttempts sets the attempt count of the storage retry policy,
// keeping its other defaults.
func WithRetryAttempts(n int) Option {
	return optionFunc(func(c *Config) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = n
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes every store call a single attempt.
func DisableRetry() Option {
	return optionFunc(func(c *Config) {
		once := RetryConfig{MaxAttempts: 1}
		claim := once
		c.StorageRetry = &once
		c.ClaimRetry = &claim
	})
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

// WithClock replaces time.Now for the run loop. Tick takes its instant
// explicitly and does not use the clock.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		c.Clock = now
	})
}
