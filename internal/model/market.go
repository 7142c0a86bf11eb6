// Package model holds the data types shared across venue adapters, the
// aggregator, the subscription hub and the TWAP engine. None of these
// types know how to talk to a venue or a database; they are the common
// currency the rest of the system passes around.
package model

import "time"

// Venue is a short interned symbol identifying a spot trading venue.
type Venue string

const (
	VenueBinance  Venue = "Binance"
	VenueBybit    Venue = "Bybit"
	VenueCoinbase Venue = "Coinbase"
	VenueKucoin   Venue = "Kucoin"
)

// PriceLevel is a single (price, volume, venue) triple. A volume of zero
// means "remove this level" in delta-feed protocols; aggregated
// snapshots never carry a zero-volume level.
type PriceLevel struct {
	Price  Decimal
	Volume Decimal
	Venue  Venue
}

// IsRemoval reports whether this level represents a deletion in a delta
// feed (Bybit, Coinbase, Kucoin).
func (l PriceLevel) IsRemoval() bool {
	return l.Volume.IsZero()
}

// BookSnapshot is a single venue's top-of-book view: bids descending by
// price, asks ascending by price, each truncated to at most 10 levels.
type BookSnapshot struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Venue     Venue
	Timestamp time.Time
}

// ConsolidatedSnapshot is the Aggregator's fused top-of-book: the same
// shape as BookSnapshot, but every level is tagged with the venue that
// contributed it (the largest-volume venue at that price — see
// aggregator's merge).
type ConsolidatedSnapshot struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Venues    []Venue
	Timestamp time.Time
}

// TradingPair is an exchange-native symbol paired with its canonical
// form. Only the Adapter that owns a pair's venue deals in the native
// form; everything else in the system uses Canonical.
type TradingPair struct {
	Native    string
	Canonical string
}

// Interval is an enumerated candle timeframe.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval3h  Interval = "3h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     Decimal
	High     Decimal
	Low      Decimal
	Close    Decimal
	Volume   Decimal
}

// Side is the direction of a ParentOrder or Execution.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the lifecycle state of a ParentOrder.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusExecuting  OrderStatus = "executing"
	StatusCompleted  OrderStatus = "completed"
	StatusCanceled   OrderStatus = "canceled"
)
