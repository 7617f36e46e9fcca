package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLRoundTrip(t *testing.T) {
	cases := []Entity{
		Schematic("pipeline"),
		Component("native::echo"),
		Port("pipeline", "reverse", "output"),
	}
	for _, e := range cases {
		parsed, err := Parse(e.URL())
		require.NoError(t, err)
		assert.Equal(t, e, parsed)
	}
}

func TestParseInvalidScheme(t *testing.T) {
	_, err := Parse("bogus://whatever")
	assert.True(t, errors.Is(err, ErrInvalidEntity))
}

func TestParseMalformedPort(t *testing.T) {
	_, err := Parse("port://only-one-segment")
	assert.True(t, errors.Is(err, ErrInvalidEntity))
}
