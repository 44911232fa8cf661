package decoder

import (
	"fmt"

	"cbsink/internal/sink"
)

// FormatJSON is the only supported record format.
const FormatJSON = "json"

// Config selects how record values are parsed.
type Config struct {
	Format string `env:"SINK_FORMAT" envDefault:"json"`
}

// Validate rejects unknown formats.
func (c Config) Validate() error {
	switch c.Format {
	case FormatJSON:
		return nil
	default:
		return fmt.Errorf("decoder: invalid format %q, must be one of [%s]", c.Format, FormatJSON)
	}
}

// New returns the decoder for cfg.Format.
func New(cfg Config) (sink.RecordDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return JSON{}, nil
}
