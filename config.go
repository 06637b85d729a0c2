package relayq

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig maps RELAYQ_* environment variables to client settings, for
// services that configure from the environment instead of code.
type EnvConfig struct {
	MaxRetries     int           `env:"RELAYQ_MAX_RETRIES" envDefault:"3"`
	BaseDelay      time.Duration `env:"RELAYQ_BASE_DELAY" envDefault:"1s"`
	MaxDelay       time.Duration `env:"RELAYQ_MAX_DELAY" envDefault:"30s"`
	Timeout        time.Duration `env:"RELAYQ_TIMEOUT" envDefault:"30s"`
	MaxConcurrent  int           `env:"RELAYQ_MAX_CONCURRENT" envDefault:"1"`
	MaxQueueSize   int           `env:"RELAYQ_MAX_QUEUE_SIZE" envDefault:"100"`
	HistorySize    int           `env:"RELAYQ_HISTORY_SIZE" envDefault:"100"`
	Freshness      time.Duration `env:"RELAYQ_SNAPSHOT_FRESHNESS" envDefault:"1h"`
	StorageKey     string        `env:"RELAYQ_STORAGE_KEY" envDefault:"relayq:queue"`
	BreakerTimeout time.Duration `env:"RELAYQ_BREAKER_TIMEOUT" envDefault:"60s"`
	BreakerMinimum int           `env:"RELAYQ_BREAKER_MINIMUM_REQUESTS" envDefault:"3"`
	BreakerRate    float64       `env:"RELAYQ_BREAKER_FAILURE_RATE" envDefault:"0.5"`
}

// ParseEnvConfig reads RELAYQ_* variables, applying defaults for unset ones.
func ParseEnvConfig() (EnvConfig, error) {
	var cfg EnvConfig
	err := env.Parse(&cfg)
	return cfg, err
}

// Options converts the parsed configuration into an option list. Passing a
// non-nil store also enables persistence under the configured storage key.
// Transport and logging are wired separately:
//
//	cfg, err := relayq.ParseEnvConfig()
//	client := relayq.New(append(cfg.Options(store), relayq.WithTransport(t))...)
func (c EnvConfig) Options(store Store) []Option {
	opts := []Option{
		WithMaxRetries(c.MaxRetries),
		WithBaseDelay(c.BaseDelay),
		WithMaxDelay(c.MaxDelay),
		WithTimeout(c.Timeout),
		WithMaxConcurrent(c.MaxConcurrent),
		WithMaxQueueSize(c.MaxQueueSize),
		WithHistorySize(c.HistorySize),
		WithFreshnessWindow(c.Freshness),
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: c.BreakerRate,
			MinimumRequests:  c.BreakerMinimum,
			Timeout:          c.BreakerTimeout,
		}),
	}
	if store != nil {
		opts = append(opts, WithPersistence(store, c.StorageKey))
	}
	return opts
}
