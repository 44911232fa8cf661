package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	dec, err := New(Config{Format: FormatJSON})
	require.NoError(t, err)
	assert.IsType(t, JSON{}, dec)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	for _, format := range []string{"", "avro", "JSON", "xml"} {
		t.Run(format, func(t *testing.T) {
			_, err := New(Config{Format: format})
			assert.ErrorContains(t, err, "invalid format")
		})
	}
}
