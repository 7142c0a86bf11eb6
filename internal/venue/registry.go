package venue

import (
	"context"
	"sort"
	"sync"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/model"
)

// Registry is an immutable name->Adapter table built once at startup.
// There is no hot-add/remove (spec §4.2); the zero value is unusable,
// use NewRegistry.
type Registry struct {
	adapters map[model.Venue]Adapter
	order    []model.Venue // registration order, exposed verbatim by /exchanges

	mu        sync.Mutex
	pairCache map[model.Venue]map[string]string // venue -> native -> canonical, first-call cache
}

// NewRegistry builds a Registry from adapters in registration order.
// Registration order is what GET /exchanges returns (spec §8 scenario B).
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters:  make(map[model.Venue]Adapter, len(adapters)),
		pairCache: make(map[model.Venue]map[string]string),
	}
	for _, a := range adapters {
		name := a.Name()
		if _, exists := r.adapters[name]; exists {
			continue
		}
		r.adapters[name] = a
		r.order = append(r.order, name)
	}
	return r
}

// Names returns venue names in registration order.
func (r *Registry) Names() []model.Venue {
	out := make([]model.Venue, len(r.order))
	copy(out, r.order)
	return out
}

// Get looks up an adapter by name.
func (r *Registry) Get(name model.Venue) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown venue "+string(name))
	}
	return a, nil
}

// Resolve looks up several adapters at once, in the order requested,
// skipping unknown names rather than failing the whole lookup — the
// Aggregator tolerates a missing venue the same way it tolerates one
// that errors mid-stream (spec §4.3 Failure semantics).
func (r *Registry) Resolve(names []model.Venue) []Adapter {
	out := make([]Adapter, 0, len(names))
	for _, n := range names {
		if a, ok := r.adapters[n]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ListPairs returns the venue's native->canonical symbol map, cached
// for the process lifetime after the first successful call (spec §4.1).
func (r *Registry) ListPairs(ctx context.Context, name model.Venue) (map[string]string, error) {
	r.mu.Lock()
	if cached, ok := r.pairCache[name]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	pairs, err := a.ListPairs(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.pairCache[name] = pairs
	r.mu.Unlock()
	return pairs, nil
}

// CanonicalSymbols returns the venue's canonical symbols, sorted, for
// deterministic HTTP responses.
func (r *Registry) CanonicalSymbols(ctx context.Context, name model.Venue) ([]string, error) {
	pairs, err := r.ListPairs(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, canon := range pairs {
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
	}
	sort.Strings(out)
	return out, nil
}
