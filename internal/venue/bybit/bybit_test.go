package bybit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/model"
)

func TestDecodeCandle_ParsesAllFields(t *testing.T) {
	row := []string{"1700000000000", "27000.50", "27100.00", "26950.25", "27050.10", "123.456"}

	c, err := decodeCandle(row)
	require.NoError(t, err)

	assert.Equal(t, model.MustDecimal("27000.50"), c.Open)
	assert.Equal(t, model.MustDecimal("27050.10"), c.Close)
}

func TestDecodeCandle_RejectsShortRow(t *testing.T) {
	_, err := decodeCandle([]string{"1700000000000", "1"})
	assert.Error(t, err)
}

func TestDecodeLevels_SkipsMalformedPairs(t *testing.T) {
	raw := [][2]string{{"100.0", "1.0"}, {"bad", "1.0"}}

	levels := decodeLevels(raw)

	require.Len(t, levels, 1)
	assert.Equal(t, model.VenueBybit, levels[0].Venue)
}
