package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/quantrail/twapbook/internal/apperr"
)

// NewBreaker builds a per-venue circuit breaker: after 5 consecutive
// failures it opens for 30s, then allows a single trial request. This
// turns the spec's per-call "retry once, then surface UpstreamUnavailable"
// rule (§4.1) into a rule that also holds across calls when a venue is
// down for longer than one request.
func NewBreaker(venue string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venue + "-rest",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// GetJSON performs a GET through the breaker, decoding a JSON body into
// out. On a malformed response it sleeps 5s and retries once before
// surfacing UpstreamUnavailable, per spec §4.1.
func GetJSON(ctx context.Context, client *http.Client, breaker *gobreaker.CircuitBreaker, url string, out interface{}) error {
	do := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	_, err := breaker.Execute(func() (interface{}, error) {
		if err := do(); err != nil {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return nil, do()
		}
		return nil, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "venue REST request failed: "+url, err)
	}
	return nil
}
