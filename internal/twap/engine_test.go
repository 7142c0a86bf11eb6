package twap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/twapbook/internal/model"
)

func mustDecimal(t *testing.T, s string) model.Decimal {
	t.Helper()
	d, err := model.ParseDecimal(s)
	require.NoError(t, err)
	return d
}

func TestWalkBook_FillsAcrossMultipleLevelsUpToQty(t *testing.T) {
	order := &model.ParentOrder{Side: model.SideBuy, Symbol: "BTCUSDT", LimitPrice: model.Zero}
	levels := []model.PriceLevel{
		{Price: mustDecimal(t, "100"), Volume: mustDecimal(t, "1"), Venue: model.VenueBinance},
		{Price: mustDecimal(t, "101"), Volume: mustDecimal(t, "1"), Venue: model.VenueBybit},
	}

	fills := walkBook(order, levels, mustDecimal(t, "1.5"))

	require.Len(t, fills, 2)
	assert.Equal(t, "1", fills[0].Quantity.String())
	assert.Equal(t, "0.5", fills[1].Quantity.String())
}

func TestWalkBook_StopsAtLimitPrice(t *testing.T) {
	order := &model.ParentOrder{Side: model.SideBuy, Symbol: "BTCUSDT", LimitPrice: mustDecimal(t, "100")}
	levels := []model.PriceLevel{
		{Price: mustDecimal(t, "100"), Volume: mustDecimal(t, "1"), Venue: model.VenueBinance},
		{Price: mustDecimal(t, "101"), Volume: mustDecimal(t, "5"), Venue: model.VenueBybit},
	}

	fills := walkBook(order, levels, mustDecimal(t, "10"))

	require.Len(t, fills, 1)
	assert.Equal(t, "100", fills[0].Price.String())
}

func TestWalkBook_SellSideStopsBelowLimit(t *testing.T) {
	order := &model.ParentOrder{Side: model.SideSell, Symbol: "BTCUSDT", LimitPrice: mustDecimal(t, "99")}
	levels := []model.PriceLevel{
		{Price: mustDecimal(t, "99"), Volume: mustDecimal(t, "1"), Venue: model.VenueBinance},
		{Price: mustDecimal(t, "98"), Volume: mustDecimal(t, "5"), Venue: model.VenueBybit},
	}

	fills := walkBook(order, levels, mustDecimal(t, "10"))

	require.Len(t, fills, 1)
	assert.Equal(t, "99", fills[0].Price.String())
}

func TestWalkBook_NoLevelsProducesNoFills(t *testing.T) {
	order := &model.ParentOrder{Side: model.SideBuy, Symbol: "BTCUSDT", LimitPrice: model.Zero}
	fills := walkBook(order, nil, mustDecimal(t, "1"))
	assert.Empty(t, fills)
}

func TestCrossesLimit_ZeroLimitMeansNoLimit(t *testing.T) {
	assert.False(t, crossesLimit(model.SideBuy, mustDecimal(t, "999999"), model.Zero))
}
