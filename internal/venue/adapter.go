// Package venue defines the uniform contract every exchange adapter
// implements (spec §4.1) and the process-wide, read-only Registry that
// looks adapters up by name (spec §4.2).
package venue

import (
	"context"
	"time"

	"github.com/quantrail/twapbook/internal/model"
)

// Adapter is the capability contract every venue implements exactly
// once. It replaces the source's dynamic subclassing of a base adapter
// with a single interface, per spec §9.
type Adapter interface {
	// Name returns the venue's registry key, e.g. "Binance".
	Name() model.Venue

	// ListPairs returns native-symbol -> canonical-symbol. Synchronous,
	// cached for the process lifetime by the caller after the first
	// successful call (see Registry.ListPairs).
	ListPairs(ctx context.Context) (map[string]string, error)

	// FetchCandles returns a finite, ascending sequence of candles whose
	// open times run from start up to and including end. Returns
	// UnsupportedInterval as *apperr.Error for an interval the venue does
	// not support. An unknown symbol is not detected separately: it
	// surfaces as the venue's REST failure, UpstreamUnavailable.
	FetchCandles(ctx context.Context, symbol string, interval model.Interval, start, end time.Time) ([]model.Candle, error)

	// StreamBook opens a long-lived connection and sends a top-10
	// BookSnapshot at most once per second until ctx is canceled, at
	// which point the adapter releases its connection and closes the
	// returned channel. A send failure on the adapter's own transport
	// triggers an internal reconnect with 1s backoff; the channel never
	// closes on its own for that reason.
	StreamBook(ctx context.Context, symbol string) (<-chan model.BookSnapshot, error)

	// SupportedIntervals lists the intervals this venue accepts natively.
	SupportedIntervals() []model.Interval
}
