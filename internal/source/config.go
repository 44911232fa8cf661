package source

import (
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds the Kafka consumer settings and the checkpoint cadence.
type Config struct {
	Brokers           []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topics            []string      `env:"KAFKA_TOPICS" envSeparator:","`
	GroupID           string        `env:"KAFKA_GROUP_ID" envDefault:"cbsink"`
	MinBytes          int           `env:"KAFKA_MIN_BYTES" envDefault:"1"`
	MaxBytes          int           `env:"KAFKA_MAX_BYTES" envDefault:"10485760"`
	MaxWait           time.Duration `env:"KAFKA_MAX_WAIT" envDefault:"500ms"`
	BatchSize         int           `env:"SOURCE_BATCH_SIZE" envDefault:"500"`
	BatchTimeout      time.Duration `env:"SOURCE_BATCH_TIMEOUT" envDefault:"1s"`
	CommitInterval    time.Duration `env:"SOURCE_COMMIT_INTERVAL" envDefault:"5s"`
	CheckpointTimeout time.Duration `env:"SOURCE_CHECKPOINT_TIMEOUT" envDefault:"30s"`
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("source: at least one broker is required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("source: at least one topic is required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("source: group id is required"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("source: batch size must be at least 1"))
	}
	if c.BatchTimeout <= 0 {
		errs = append(errs, errors.New("source: batch timeout must be positive"))
	}
	if c.CommitInterval < 0 {
		errs = append(errs, errors.New("source: commit interval must not be negative"))
	}
	if c.CheckpointTimeout <= 0 {
		errs = append(errs, errors.New("source: checkpoint timeout must be positive"))
	}
	return errors.Join(errs...)
}

// NewReader opens a consumer-group reader over the configured topics.
// Offsets are committed explicitly by the Source, never by the reader.
func NewReader(cfg Config) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
}
