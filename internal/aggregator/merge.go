package aggregator

import (
	"sort"

	"github.com/quantrail/twapbook/internal/model"
)

// mergeSide folds one side (bids or asks) of several venues' books into
// a single consolidated side: at each price, the level with the
// largest volume wins; ties are broken by iteration order, i.e. the
// venue appearing earlier in order wins (spec §4.3 "keep the largest
// volume across venues, tie-break by venue iteration order").
func mergeSide(sides [][]model.PriceLevel, descending bool) []model.PriceLevel {
	best := make(map[string]model.PriceLevel)
	seenAt := make(map[string]int)

	for i, levels := range sides {
		for _, l := range levels {
			key := l.Price.String()
			cur, ok := best[key]
			if !ok || l.Volume.Cmp(cur.Volume) > 0 {
				best[key] = l
				seenAt[key] = i
				continue
			}
			// equal volume: keep whichever venue came first in
			// iteration order, matching the caller's venue order.
			if l.Volume.Cmp(cur.Volume) == 0 && i < seenAt[key] {
				best[key] = l
				seenAt[key] = i
			}
		}
	}

	out := make([]model.PriceLevel, 0, len(best))
	for _, l := range best {
		out = append(out, l)
	}

	if descending {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.Cmp(out[j].Price) > 0 })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price.Cmp(out[j].Price) < 0 })
	}
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// merge fuses one BookSnapshot per venue (in order) into a
// ConsolidatedSnapshot. venues lists only the venues that actually
// contributed a snapshot this round.
func merge(symbol string, snapshots []model.BookSnapshot, contributing []model.Venue) model.ConsolidatedSnapshot {
	bidSides := make([][]model.PriceLevel, len(snapshots))
	askSides := make([][]model.PriceLevel, len(snapshots))
	for i, s := range snapshots {
		bidSides[i] = s.Bids
		askSides[i] = s.Asks
	}

	return model.ConsolidatedSnapshot{
		Symbol: symbol,
		Bids:   mergeSide(bidSides, true),
		Asks:   mergeSide(askSides, false),
		Venues: contributing,
	}
}
