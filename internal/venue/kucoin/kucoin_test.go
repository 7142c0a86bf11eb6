package kucoin

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/model"
)

func TestDecodeCandle_ParsesAllFields(t *testing.T) {
	row := []string{"1700000000", "27000.50", "27050.10", "27100.00", "26950.25", "123.456"}

	c, err := decodeCandle(row)
	require.NoError(t, err)

	assert.Equal(t, model.MustDecimal("27000.50"), c.Open)
	assert.Equal(t, model.MustDecimal("27050.10"), c.Close)
}

func TestDecodeLevels_SkipsMalformedPairs(t *testing.T) {
	levels := decodeLevels([][2]string{{"100.0", "1.0"}, {"bad", "1.0"}})
	require.Len(t, levels, 1)
	assert.Equal(t, model.VenueKucoin, levels[0].Venue)
}

func TestDecodeChange_RemovalLevelParsesAsZeroVolume(t *testing.T) {
	level, ok := decodeChange([]string{"100.0", "0"})
	require.True(t, ok)
	assert.True(t, level.IsRemoval())
}

func TestDecodeChange_RejectsShortRow(t *testing.T) {
	_, ok := decodeChange([]string{"100.0"})
	assert.False(t, ok)
}

func TestSign_SetsRequiredHeaders(t *testing.T) {
	a := New(Config{APIKey: "key", APISecret: "secret", Passphrase: "pass"}, zerolog.Nop())

	h, err := a.sign("POST", "/api/v1/bullet-private", "")
	require.NoError(t, err)

	assert.Equal(t, "key", h.Get("KC-API-KEY"))
	assert.Equal(t, "2", h.Get("KC-API-KEY-VERSION"))
	assert.NotEmpty(t, h.Get("KC-API-SIGN"))
	assert.NotEmpty(t, h.Get("KC-API-PASSPHRASE"))
	assert.NotEmpty(t, h.Get("KC-API-TIMESTAMP"))
}
