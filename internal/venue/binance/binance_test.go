package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/model"
)

func TestDecodeKline_ParsesAllFields(t *testing.T) {
	row := restKline{float64(1700000000000), "27000.50", "27100.00", "26950.25", "27050.10", "123.456"}

	c, err := decodeKline(row)
	require.NoError(t, err)

	assert.Equal(t, model.MustDecimal("27000.50"), c.Open)
	assert.Equal(t, model.MustDecimal("27100.00"), c.High)
	assert.Equal(t, model.MustDecimal("26950.25"), c.Low)
	assert.Equal(t, model.MustDecimal("27050.10"), c.Close)
	assert.Equal(t, model.MustDecimal("123.456"), c.Volume)
}

func TestDecodeKline_RejectsShortRow(t *testing.T) {
	_, err := decodeKline(restKline{float64(1700000000000), "1", "2"})
	assert.Error(t, err)
}

func TestToLevels_SkipsMalformedPairsAndTagsVenue(t *testing.T) {
	raw := [][2]string{
		{"27000.00", "1.5"},
		{"not-a-number", "1.0"},
		{"27001.00", "2.25"},
	}

	levels := toLevels(raw, model.VenueBinance)

	require.Len(t, levels, 2)
	assert.Equal(t, model.VenueBinance, levels[0].Venue)
	assert.Equal(t, model.MustDecimal("27000.00"), levels[0].Price)
	assert.Equal(t, model.MustDecimal("27001.00"), levels[1].Price)
}
