package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/model"
)

func level(t *testing.T, price, vol string, v model.Venue) model.PriceLevel {
	t.Helper()
	p, err := model.ParseDecimal(price)
	require.NoError(t, err)
	q, err := model.ParseDecimal(vol)
	require.NoError(t, err)
	return model.PriceLevel{Price: p, Volume: q, Venue: v}
}

func TestMergeSide_KeepsLargestVolume(t *testing.T) {
	binance := []model.PriceLevel{level(t, "100.0", "1.0", model.VenueBinance)}
	bybit := []model.PriceLevel{level(t, "100.0", "5.0", model.VenueBybit)}

	out := mergeSide([][]model.PriceLevel{binance, bybit}, true)

	require.Len(t, out, 1)
	assert.Equal(t, model.VenueBybit, out[0].Venue)
	assert.Equal(t, "5.0", out[0].Volume.String())
}

func TestMergeSide_TieBreaksByIterationOrder(t *testing.T) {
	binance := []model.PriceLevel{level(t, "100.0", "5.0", model.VenueBinance)}
	bybit := []model.PriceLevel{level(t, "100.0", "5.0", model.VenueBybit)}

	out := mergeSide([][]model.PriceLevel{binance, bybit}, true)

	require.Len(t, out, 1)
	assert.Equal(t, model.VenueBinance, out[0].Venue)
}

func TestMergeSide_SortsDescendingForBids(t *testing.T) {
	levels := []model.PriceLevel{
		level(t, "99.0", "1.0", model.VenueBinance),
		level(t, "101.0", "1.0", model.VenueBinance),
		level(t, "100.0", "1.0", model.VenueBinance),
	}

	out := mergeSide([][]model.PriceLevel{levels}, true)

	require.Len(t, out, 3)
	assert.Equal(t, "101.0", out[0].Price.String())
	assert.Equal(t, "100.0", out[1].Price.String())
	assert.Equal(t, "99.0", out[2].Price.String())
}

func TestMergeSide_SortsAscendingForAsksAndTruncatesTop10(t *testing.T) {
	var levels []model.PriceLevel
	for i := 0; i < 15; i++ {
		levels = append(levels, level(t, "1"+string(rune('0'+i%10))+".0", "1.0", model.VenueBinance))
	}

	out := mergeSide([][]model.PriceLevel{levels}, false)
	assert.LessOrEqual(t, len(out), 10)
	for i := 1; i < len(out); i++ {
		assert.True(t, out[i-1].Price.Cmp(out[i].Price) <= 0)
	}
}

func TestMerge_TaggsContributingVenues(t *testing.T) {
	snaps := []model.BookSnapshot{
		{Symbol: "BTCUSDT", Bids: []model.PriceLevel{level(t, "100.0", "1.0", model.VenueBinance)}, Venue: model.VenueBinance},
		{Symbol: "BTCUSDT", Bids: []model.PriceLevel{level(t, "100.5", "1.0", model.VenueBybit)}, Venue: model.VenueBybit},
	}

	result := merge("BTCUSDT", snaps, []model.Venue{model.VenueBinance, model.VenueBybit})

	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.ElementsMatch(t, []model.Venue{model.VenueBinance, model.VenueBybit}, result.Venues)
	require.Len(t, result.Bids, 2)
	assert.Equal(t, "100.5", result.Bids[0].Price.String())
}
