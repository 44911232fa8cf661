package dispatcher

import (
	"errors"
	"time"
)

// Config holds the settings for the dispatch worker pool and its retry policy.
type Config struct {
	// Workers is the number of units written in parallel.
	Workers int `env:"SINK_WORKERS" envDefault:"8"`
	// QueueSize bounds the number of submitted units waiting for a worker.
	QueueSize int `env:"SINK_QUEUE_SIZE" envDefault:"4096"`
	// MaxAttempts counts every write attempt, the first one included.
	MaxAttempts int           `env:"SINK_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay   time.Duration `env:"SINK_RETRY_BASE_DELAY" envDefault:"250ms"`
	// Namespace and Target name where documents are written; for Couchbase
	// these are the scope and the collection.
	Namespace string `env:"SINK_NAMESPACE" envDefault:"_default"`
	Target    string `env:"SINK_TARGET" envDefault:"_default"`
}

// DefaultConfig returns a Config with the same defaults as the env tags.
func DefaultConfig() Config {
	return Config{
		Workers:     8,
		QueueSize:   4096,
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		Namespace:   "_default",
		Target:      "_default",
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, errors.New("dispatcher: at least one worker is required"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("dispatcher: queue size must not be negative"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("dispatcher: max attempts must be at least 1"))
	}
	if c.BaseDelay <= 0 {
		errs = append(errs, errors.New("dispatcher: base delay must be positive"))
	}
	if c.Namespace == "" {
		errs = append(errs, errors.New("dispatcher: namespace must be set"))
	}
	if c.Target == "" {
		errs = append(errs, errors.New("dispatcher: target must be set"))
	}
	return errors.Join(errs...)
}

func (c Config) backoff() Backoff {
	return Backoff{Base: c.BaseDelay, MaxAttempts: c.MaxAttempts}
}
