package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/model"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Twap-Trading-API"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExchanges returns venue names in registration order (spec §8
// scenario B: registration order, not alphabetical).
func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]model.Venue{"exchanges": s.registry.Names()})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	venueName := model.Venue(mux.Vars(r)["venue"])
	symbols, err := s.registry.CanonicalSymbols(r.Context(), venueName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"venue": venueName, "symbols": symbols})
}

// klinesTimeLayout matches the bare (timezone-less) ISO 8601 timestamps
// the klines endpoint accepts and echoes back as map keys.
const klinesTimeLayout = "2006-01-02T15:04:05"

type klineDTO struct {
	Open   float64 `json:"Open"`
	High   float64 `json:"High"`
	Low    float64 `json:"Low"`
	Close  float64 `json:"Close"`
	Volume float64 `json:"Volume"`
}

func toKlinesMap(candles []model.Candle) map[string]klineDTO {
	out := make(map[string]klineDTO, len(candles))
	for _, c := range candles {
		out[c.OpenTime.UTC().Format(klinesTimeLayout)] = klineDTO{
			Open:   decimalFloat(c.Open),
			High:   decimalFloat(c.High),
			Low:    decimalFloat(c.Low),
			Close:  decimalFloat(c.Close),
			Volume: decimalFloat(c.Volume),
		}
	}
	return out
}

func decimalFloat(d model.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// handleKlines serves candles for a venue/symbol/interval, caching the
// response in Redis for a minute to spare a venue's REST rate limit on
// repeated requests for the same recent window (spec §4.1 ambient
// caching note).
func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	venueName := model.Venue(vars["venue"])
	symbol := vars["symbol"]
	interval := model.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = model.Interval1m
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start_time"); v != "" {
		parsed, err := parseISOTime(v)
		if err != nil {
			writeError(w, err)
			return
		}
		start = parsed
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		parsed, err := parseISOTime(v)
		if err != nil {
			writeError(w, err)
			return
		}
		end = parsed
	}

	cacheKey := fmt.Sprintf("klines:%s:%s:%s:%d:%d", venueName, symbol, interval, start.Unix(), end.Unix())

	var klines map[string]klineDTO
	if s.cache != nil {
		if err := s.cache.Get(r.Context(), cacheKey, &klines); err == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"klines": klines})
			return
		}
	}

	adapter, err := s.registry.Get(venueName)
	if err != nil {
		writeError(w, err)
		return
	}

	candles, err := adapter.FetchCandles(r.Context(), symbol, interval, start, end)
	if err != nil {
		writeError(w, err)
		return
	}

	klines = toKlinesMap(candles)
	if s.cache != nil {
		_ = s.cache.Set(r.Context(), cacheKey, klines, time.Minute)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"klines": klines})
}

func parseISOTime(v string) (time.Time, error) {
	t, err := time.Parse(klinesTimeLayout, v)
	if err != nil {
		return time.Time{}, apperr.New(apperr.BadRequest, "invalid timestamp: "+v)
	}
	return t.UTC(), nil
}
