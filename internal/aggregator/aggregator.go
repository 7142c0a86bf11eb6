// Package aggregator fuses per-venue order book streams into a single
// consolidated top-of-book for a symbol (spec §4.3). It opens one
// StreamBook per requested venue and, each round, concurrently waits
// for a fresh snapshot from every venue still alive, merges them, and
// emits the result. A venue that errors or closes is dropped for the
// rest of the run rather than aborting the whole aggregation — the
// same tolerance the teacher's ws/hub.go shows for a single slow or
// dead subscriber.
package aggregator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantrail/twapbook/internal/metrics"
	"github.com/quantrail/twapbook/internal/model"
	"github.com/quantrail/twapbook/internal/venue"
)

// Aggregator drives the per-symbol consolidation loop.
type Aggregator struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log.With().Str("component", "aggregator").Logger()}
}

type venueFeed struct {
	venue model.Venue
	ch    <-chan model.BookSnapshot
	alive bool
}

// Run opens a stream per adapter and emits consolidated snapshots on
// the returned channel until ctx is canceled or every venue has
// dropped out. There is no internal ticker: each round blocks on the
// slowest still-alive venue's next frame, so the aggregate cadence
// naturally tracks the venues' own ≤1Hz emission rate.
func (a *Aggregator) Run(ctx context.Context, symbol string, adapters []venue.Adapter) <-chan model.ConsolidatedSnapshot {
	out := make(chan model.ConsolidatedSnapshot, 1)

	feeds := make([]*venueFeed, 0, len(adapters))
	for _, ad := range adapters {
		ch, err := ad.StreamBook(ctx, symbol)
		if err != nil {
			a.log.Warn().Err(err).Str("symbol", symbol).Str("venue", string(ad.Name())).Msg("failed to open stream")
			metrics.AggregatorVenuesDropped.WithLabelValues(symbol, string(ad.Name())).Inc()
			continue
		}
		feeds = append(feeds, &venueFeed{venue: ad.Name(), ch: ch, alive: true})
	}

	go func() {
		defer close(out)
		a.loop(ctx, symbol, feeds, out)
	}()

	return out
}

func (a *Aggregator) loop(ctx context.Context, symbol string, feeds []*venueFeed, out chan<- model.ConsolidatedSnapshot) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !anyAlive(feeds) {
			a.log.Warn().Str("symbol", symbol).Msg("all venues dropped, stopping aggregation")
			return
		}

		started := time.Now()
		snapshots := make([]model.BookSnapshot, len(feeds))
		ok := make([]bool, len(feeds))

		g, gctx := errgroup.WithContext(ctx)
		for i, f := range feeds {
			if !f.alive {
				continue
			}
			i, f := i, f
			g.Go(func() error {
				select {
				case snap, open := <-f.ch:
					if !open {
						f.alive = false
						a.log.Warn().Str("symbol", symbol).Str("venue", string(f.venue)).Msg("venue stream closed")
						metrics.AggregatorVenuesDropped.WithLabelValues(symbol, string(f.venue)).Inc()
						return nil
					}
					snapshots[i] = snap
					ok[i] = true
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		if err := g.Wait(); err != nil {
			return
		}

		var merged []model.BookSnapshot
		var contributing []model.Venue
		for i, f := range feeds {
			if ok[i] {
				merged = append(merged, snapshots[i])
				contributing = append(contributing, f.venue)
			}
		}
		if len(merged) == 0 {
			continue
		}

		result := merge(symbol, merged, contributing)
		result.Timestamp = time.Now().UTC()
		metrics.AggregatorRoundLatency.WithLabelValues(symbol).Observe(time.Since(started).Seconds())

		select {
		case out <- result:
		case <-ctx.Done():
			return
		}
	}
}

func anyAlive(feeds []*venueFeed) bool {
	for _, f := range feeds {
		if f.alive {
			return true
		}
	}
	return false
}
