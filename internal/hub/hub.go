// Package hub implements the subscription hub: it keeps one
// reference-counted consolidated-book broadcaster running per
// subscribed symbol and fans its output out to every session
// subscribed to that symbol, dropping a message rather than blocking a
// slow subscriber (spec §4.4).
//
// Grounded on the teacher repository's backend/ws/hub.go: a
// register/unregister/broadcast control-channel hub built on
// gorilla/websocket, generalized here from one global broadcast
// channel to one broadcaster per symbol, attached and detached as
// subscribers come and go.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantrail/twapbook/internal/aggregator"
	"github.com/quantrail/twapbook/internal/metrics"
	"github.com/quantrail/twapbook/internal/model"
	"github.com/quantrail/twapbook/internal/venue"
)

// Hub owns the set of live per-symbol broadcasters.
type Hub struct {
	mu           sync.Mutex
	broadcasters map[string]*broadcaster

	registry *venue.Registry
	agg      *aggregator.Aggregator
	log      zerolog.Logger
}

type broadcaster struct {
	symbol   string
	cancel   context.CancelFunc
	mu       sync.Mutex
	sessions map[*Session]bool
}

func New(registry *venue.Registry, agg *aggregator.Aggregator, log zerolog.Logger) *Hub {
	return &Hub{
		broadcasters: make(map[string]*broadcaster),
		registry:     registry,
		agg:          agg,
		log:          log.With().Str("component", "hub").Logger(),
	}
}

// orderBookUpdateFrame is the JSON shape pushed to subscribers (spec §6):
// a price-keyed map per side, each entry the (volume, venue) pair that
// won that price level.
type orderBookUpdateFrame struct {
	Type      string           `json:"type"`
	Symbol    string           `json:"symbol"`
	Exchanges []model.Venue    `json:"exchanges"`
	OrderBook orderBookSides   `json:"order_book"`
	Timestamp string           `json:"timestamp"`
}

type orderBookSides struct {
	Bids map[string][2]interface{} `json:"bids"`
	Asks map[string][2]interface{} `json:"asks"`
}

func toWire(s model.ConsolidatedSnapshot) orderBookUpdateFrame {
	return orderBookUpdateFrame{
		Type:      "order_book_update",
		Symbol:    s.Symbol,
		Exchanges: s.Venues,
		OrderBook: orderBookSides{
			Bids: toPriceLevelMap(s.Bids),
			Asks: toPriceLevelMap(s.Asks),
		},
		Timestamp: s.Timestamp.UTC().Format(time.RFC3339),
	}
}

func toPriceLevelMap(levels []model.PriceLevel) map[string][2]interface{} {
	out := make(map[string][2]interface{}, len(levels))
	for _, l := range levels {
		volume, _ := l.Volume.Float64()
		out[l.Price.String()] = [2]interface{}{volume, string(l.Venue)}
	}
	return out
}

// Attach sends a freshly opened session its welcome frame (spec §4.4
// attach). The hub keeps no record of the session at this point; it
// becomes a broadcaster member with its first Subscribe, and the
// session itself tracks which symbols it holds for Detach.
func (h *Hub) Attach(s *Session) {
	s.sendWelcome()
}

// Subscribe attaches session to symbol's broadcaster, starting one
// against venues if none exists yet. It reports whether this call
// added a new subscription (false if the session was already
// subscribed to symbol, per spec §4.4 subscribe_success/failure).
func (h *Hub) Subscribe(s *Session, symbol string, venues []model.Venue) bool {
	h.mu.Lock()
	b, ok := h.broadcasters[symbol]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		adapters := h.registry.Resolve(venues)
		ch := h.agg.Run(ctx, symbol, adapters)
		b = &broadcaster{symbol: symbol, cancel: cancel, sessions: make(map[*Session]bool)}
		h.broadcasters[symbol] = b
		metrics.HubBroadcastersActive.Inc()
		go h.pump(b, ch)
	}
	h.mu.Unlock()

	b.mu.Lock()
	added := !b.sessions[s]
	if added {
		b.sessions[s] = true
		metrics.HubSubscribers.WithLabelValues(symbol).Inc()
	}
	b.mu.Unlock()

	if added {
		s.trackSubscription(symbol)
	}
	return added
}

// Unsubscribe detaches session from symbol, tearing down the
// broadcaster once its last subscriber leaves. It reports whether the
// session had been subscribed to symbol (per spec §4.4
// unsubscribe_success/failure).
func (h *Hub) Unsubscribe(s *Session, symbol string) bool {
	h.mu.Lock()
	b, ok := h.broadcasters[symbol]
	if !ok {
		h.mu.Unlock()
		return false
	}

	b.mu.Lock()
	removed := b.sessions[s]
	if removed {
		delete(b.sessions, s)
		metrics.HubSubscribers.WithLabelValues(symbol).Dec()
	}
	empty := len(b.sessions) == 0
	b.mu.Unlock()

	if empty {
		delete(h.broadcasters, symbol)
		metrics.HubBroadcastersActive.Dec()
	}
	h.mu.Unlock()

	if empty {
		b.cancel()
	}
	if removed {
		s.untrackSubscription(symbol)
	}
	return removed
}

// Detach removes a closing session from every symbol it subscribed to.
func (h *Hub) Detach(s *Session) {
	for _, symbol := range s.subscribedSymbols() {
		h.Unsubscribe(s, symbol)
	}
}

func (h *Hub) pump(b *broadcaster, ch <-chan model.ConsolidatedSnapshot) {
	for snap := range ch {
		data, err := json.Marshal(toWire(snap))
		if err != nil {
			h.log.Error().Err(err).Str("symbol", b.symbol).Msg("failed to marshal consolidated snapshot")
			continue
		}

		b.mu.Lock()
		for s := range b.sessions {
			select {
			case s.send <- data:
			default:
				// subscriber too slow; drop this frame rather than block the broadcaster.
			}
		}
		b.mu.Unlock()
	}

	// the aggregator stopped on its own (every venue dropped out); tear
	// the broadcaster down so a future Subscribe starts a fresh one.
	h.mu.Lock()
	if cur, ok := h.broadcasters[b.symbol]; ok && cur == b {
		delete(h.broadcasters, b.symbol)
		metrics.HubBroadcastersActive.Dec()
	}
	h.mu.Unlock()
}
