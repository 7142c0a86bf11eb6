package venue

import (
	"sort"
	"sync"

	"github.com/quantrail/twapbook/internal/model"
)

// LocalBook is the mutable per-connection book maintained by delta-feed
// adapters (Bybit, Coinbase, Kucoin): the first frame seeds it, later
// frames apply (price, new_volume) deltas in arrival order, and
// new_volume == 0 removes the level (spec §4.1 Venue B/C/D). It is
// owned exclusively by the single goroutine reading that connection —
// never shared across adapters (spec §3 Ownership).
type LocalBook struct {
	mu   sync.Mutex
	bids map[string]model.PriceLevel // keyed by price.String() for stable dedup
	asks map[string]model.PriceLevel
}

// NewLocalBook returns an empty local book.
func NewLocalBook() *LocalBook {
	return &LocalBook{
		bids: make(map[string]model.PriceLevel),
		asks: make(map[string]model.PriceLevel),
	}
}

// Reset replaces the book wholesale (used to seed from a snapshot frame
// or REST snapshot call).
func (b *LocalBook) Reset(bids, asks []model.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[string]model.PriceLevel, len(bids))
	b.asks = make(map[string]model.PriceLevel, len(asks))
	for _, l := range bids {
		b.bids[l.Price.String()] = l
	}
	for _, l := range asks {
		b.asks[l.Price.String()] = l
	}
}

// ApplyBidDelta applies one incremental bid level update.
func (b *LocalBook) ApplyBidDelta(level model.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	applyDelta(b.bids, level)
}

// ApplyAskDelta applies one incremental ask level update.
func (b *LocalBook) ApplyAskDelta(level model.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	applyDelta(b.asks, level)
}

func applyDelta(side map[string]model.PriceLevel, level model.PriceLevel) {
	key := level.Price.String()
	if level.IsRemoval() {
		delete(side, key)
		return
	}
	side[key] = level
}

// Snapshot returns the current top-10 view, bids descending, asks
// ascending, tagged with venue v. Timestamp is left zero for the caller
// to set.
func (b *LocalBook) Snapshot(symbol string, v model.Venue) model.BookSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids := make([]model.PriceLevel, 0, len(b.bids))
	for _, l := range b.bids {
		bids = append(bids, l)
	}
	asks := make([]model.PriceLevel, 0, len(b.asks))
	for _, l := range b.asks {
		asks = append(asks, l)
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.Cmp(bids[j].Price) > 0 })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.Cmp(asks[j].Price) < 0 })

	if len(bids) > 10 {
		bids = bids[:10]
	}
	if len(asks) > 10 {
		asks = asks[:10]
	}

	return model.BookSnapshot{
		Symbol: symbol,
		Venue:  v,
		Bids:   bids,
		Asks:   asks,
	}
}
