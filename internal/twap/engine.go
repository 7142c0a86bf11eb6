// Package twap implements the TWAP engine: it slices a parent order
// into equal-sized lots, fires one per second, and fills each lot by
// walking the consolidated book up to the order's limit price (spec
// §4.5). A slice that can't fill, partially or at all, never aborts
// the order — it just contributes nothing and the schedule continues.
package twap

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantrail/twapbook/internal/aggregator"
	"github.com/quantrail/twapbook/internal/metrics"
	"github.com/quantrail/twapbook/internal/model"
	"github.com/quantrail/twapbook/internal/repository"
	"github.com/quantrail/twapbook/internal/venue"
)

// BookSource supplies the consolidated snapshot a slice fills against.
// In production this is backed by one cycle of aggregator.Aggregator,
// but the engine only needs a single synchronous call per slice.
type BookSource interface {
	Snapshot(ctx context.Context, symbol string, venues []model.Venue) (model.ConsolidatedSnapshot, error)
}

// ProgressFunc is invoked after every slice, filled or not, so a
// caller (e.g. the HTTP layer's order status cache) can observe
// running state without polling the repository.
type ProgressFunc func(order model.ParentOrder)

// Engine runs one parent order's slicing schedule to completion.
type Engine struct {
	repo   repository.Repository
	book   BookSource
	log    zerolog.Logger
}

func New(repo repository.Repository, book BookSource, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, book: book, log: log.With().Str("component", "twap.engine").Logger()}
}

// Run slices order.TotalQuantity into order.DurationSecs one-second
// lots (residual absorbed into the final slice), fires one slice per
// second against the consolidated book, and persists every fill and
// state transition. It returns once the order reaches Completed or
// Canceled, or ctx is canceled.
func (e *Engine) Run(ctx context.Context, order *model.ParentOrder, onProgress ProgressFunc) error {
	slices := order.DurationSecs
	if slices <= 0 {
		slices = 1
	}

	sliceQty, err := model.Quo(order.TotalQuantity, model.DecimalFromInt(slices))
	if err != nil {
		return err
	}

	order.Status = model.StatusExecuting
	if err := e.repo.UpdateParentState(ctx, order); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(*order)
	}

	var priceSum, qtySum model.Decimal

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < slices; i++ {
		select {
		case <-ctx.Done():
			order.Status = model.StatusCanceled
			_ = e.repo.UpdateParentState(context.Background(), order)
			return ctx.Err()
		case <-ticker.C:
		}

		qty := sliceQty
		if i == slices-1 {
			// residual absorption: the last slice takes whatever division
			// left over, independent of what earlier slices actually
			// filled. Within-slice shortfall is never carried forward.
			alreadyScheduled, err := model.Mul(sliceQty, model.DecimalFromInt(slices-1))
			if err != nil {
				return err
			}
			remaining, err := model.Add(order.TotalQuantity, negate(alreadyScheduled))
			if err != nil {
				return err
			}
			qty = remaining
		}

		if err := e.runSlice(ctx, order, qty, &priceSum, &qtySum); err != nil {
			e.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("slice failed, continuing schedule")
		}
		if onProgress != nil {
			onProgress(*order)
		}
	}

	order.Status = model.StatusCompleted
	return e.repo.UpdateParentState(ctx, order)
}

func negate(d model.Decimal) model.Decimal {
	neg, err := model.Mul(d, model.DecimalFromInt(-1))
	if err != nil {
		return model.Zero
	}
	return neg
}

// runSlice fetches one consolidated snapshot and walks it from the
// best price outward, consuming levels until qty is filled or the
// limit price is crossed (spec §4.5 "fill-walk").
func (e *Engine) runSlice(ctx context.Context, order *model.ParentOrder, qty model.Decimal, priceSum, qtySum *model.Decimal) error {
	snap, err := e.book.Snapshot(ctx, order.Symbol, order.Venues)
	if err != nil {
		metrics.TwapSlicesExecuted.WithLabelValues("false").Inc()
		return err
	}

	levels := snap.Asks
	if order.Side == model.SideSell {
		levels = snap.Bids
	}

	fills := walkBook(order, levels, qty)
	if len(fills) == 0 {
		metrics.TwapSlicesExecuted.WithLabelValues("false").Inc()
		return nil
	}

	for _, f := range fills {
		if _, err := e.repo.AppendExecution(ctx, f); err != nil {
			return err
		}
		metrics.TwapFillQuantity.WithLabelValues(f.Symbol, string(f.Side)).Add(decimalToFloat(f.Quantity))
	}

	if err := order.ApplyExecutions(fills, priceSum, qtySum); err != nil {
		return err
	}
	metrics.TwapSlicesExecuted.WithLabelValues("true").Inc()

	return e.repo.UpdateParentState(ctx, order)
}

// walkBook consumes levels in order until qty is exhausted or the next
// level would cross order.LimitPrice, producing one Execution per
// level consumed.
func walkBook(order *model.ParentOrder, levels []model.PriceLevel, qty model.Decimal) []model.Execution {
	var fills []model.Execution
	remaining := qty

	for _, level := range levels {
		if remaining.IsZero() || remaining.Sign() <= 0 {
			break
		}
		if crossesLimit(order.Side, level.Price, order.LimitPrice) {
			break
		}

		take := model.Min(remaining, level.Volume)
		if take.IsZero() {
			continue
		}

		fills = append(fills, model.Execution{
			OrderID:   order.OrderID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Quantity:  take,
			Price:     level.Price,
			Venue:     level.Venue,
			Timestamp: time.Now().UTC(),
		})

		newRemaining, err := model.Add(remaining, negate(take))
		if err != nil {
			break
		}
		remaining = newRemaining
	}

	return fills
}

func crossesLimit(side model.Side, levelPrice, limit model.Decimal) bool {
	if limit.IsZero() {
		return false // a zero limit means "no limit" (market order).
	}
	if side == model.SideBuy {
		return levelPrice.Cmp(limit) > 0
	}
	return levelPrice.Cmp(limit) < 0
}

func decimalToFloat(d model.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// aggregatorBookSource adapts a live aggregator.Aggregator run into a
// single-call BookSource by taking the first snapshot each cycle
// produces and tearing the cycle down immediately after. It trades a
// persistent per-symbol stream for simplicity: a TWAP engine only
// needs one fresh read per second, and the hub already keeps a shared
// stream alive for any symbol with HTTP/WS subscribers.
type aggregatorBookSource struct {
	agg      *aggregator.Aggregator
	registry *venue.Registry
}

func NewAggregatorBookSource(agg *aggregator.Aggregator, registry *venue.Registry) BookSource {
	return &aggregatorBookSource{agg: agg, registry: registry}
}

func (a *aggregatorBookSource) Snapshot(ctx context.Context, symbol string, venues []model.Venue) (model.ConsolidatedSnapshot, error) {
	adapters := a.registry.Resolve(venues)
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ch := a.agg.Run(cctx, symbol, adapters)
	select {
	case snap, ok := <-ch:
		if !ok {
			return model.ConsolidatedSnapshot{}, context.DeadlineExceeded
		}
		return snap, nil
	case <-cctx.Done():
		return model.ConsolidatedSnapshot{}, cctx.Err()
	}
}
