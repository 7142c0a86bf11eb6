// Package binance implements Venue A: a full-depth WebSocket push. Each
// frame carries the complete top-10 book, so the adapter simply
// replaces its view wholesale on every frame (spec §4.1 Venue A).
//
// Grounded on the teacher repository's backend/binance/client.go: a
// gorilla/websocket client with a read pump, a ping heartbeat and a
// reconnect-with-backoff goroutine.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/metrics"
	"github.com/quantrail/twapbook/internal/model"
	"github.com/quantrail/twapbook/internal/venue"
)

const (
	restBase = "https://api.binance.com/api/v3"
	wsBase   = "wss://stream.binance.com:9443/ws"
)

var supportedIntervals = []model.Interval{
	model.Interval1m, model.Interval3m, model.Interval5m, model.Interval15m, model.Interval30m,
	model.Interval1h, model.Interval2h, model.Interval3h, model.Interval4h, model.Interval6h,
	model.Interval8h, model.Interval12h, model.Interval1d, model.Interval3d, model.Interval1w, model.Interval1M,
}

var intervalMinutes = map[model.Interval]int{
	model.Interval1m: 1, model.Interval3m: 3, model.Interval5m: 5, model.Interval15m: 15, model.Interval30m: 30,
	model.Interval1h: 60, model.Interval2h: 120, model.Interval3h: 180, model.Interval4h: 240, model.Interval6h: 360,
	model.Interval8h: 480, model.Interval12h: 720, model.Interval1d: 1440, model.Interval3d: 4320,
	model.Interval1w: 10080, model.Interval1M: 43200,
}

// Adapter implements venue.Adapter for Binance.
type Adapter struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	pageLimit  *rate.Limiter
	log        zerolog.Logger
}

// New builds the Binance adapter.
func New(log zerolog.Logger) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    venue.NewBreaker("binance"),
		pageLimit:  rate.NewLimiter(rate.Every(time.Second), 1),
		log:        log.With().Str("component", "venue.binance").Logger(),
	}
}

func (a *Adapter) Name() model.Venue                     { return model.VenueBinance }
func (a *Adapter) SupportedIntervals() []model.Interval   { return supportedIntervals }

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
	} `json:"symbols"`
}

// ListPairs fetches the full exchangeInfo set in one call; Binance's
// symbol is already its own canonical form.
func (a *Adapter) ListPairs(ctx context.Context) (map[string]string, error) {
	var resp exchangeInfoResp
	if err := venue.GetJSON(ctx, a.httpClient, a.breaker, restBase+"/exchangeInfo", &resp); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Symbols))
	for _, s := range resp.Symbols {
		out[s.Symbol] = s.Symbol
	}
	return out, nil
}

type restKline []interface{}

// FetchCandles paginates /klines, advancing startTime one interval past
// the last returned candle and sleeping 1s between pages (spec §4.1).
func (a *Adapter) FetchCandles(ctx context.Context, symbol string, interval model.Interval, start, end time.Time) ([]model.Candle, error) {
	minutes, ok := intervalMinutes[interval]
	if !ok {
		return nil, apperr.New(apperr.UnsupportedInterval, fmt.Sprintf("binance does not support interval %s", interval))
	}

	var out []model.Candle
	cur := start
	for cur.Before(end) {
		if err := a.pageLimit.Wait(ctx); err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&startTime=%d&limit=1000",
			restBase, symbol, interval, cur.UnixMilli())

		var page []restKline
		if err := venue.GetJSON(ctx, a.httpClient, a.breaker, url, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for _, k := range page {
			c, err := decodeKline(k)
			if err != nil {
				continue
			}
			if c.OpenTime.After(end) {
				break
			}
			out = append(out, c)
		}

		last := page[len(page)-1]
		lastOpen, err := decodeOpenTime(last)
		if err != nil {
			return out, apperr.Wrap(apperr.Internal, "malformed binance kline", err)
		}
		cur = lastOpen.Add(time.Duration(minutes) * time.Minute)
	}

	return out, nil
}

func decodeOpenTime(k restKline) (time.Time, error) {
	ms, ok := k[0].(float64)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected openTime type")
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func decodeKline(k restKline) (model.Candle, error) {
	if len(k) < 6 {
		return model.Candle{}, fmt.Errorf("short kline")
	}
	openTime, err := decodeOpenTime(k)
	if err != nil {
		return model.Candle{}, err
	}
	open, err1 := model.ParseDecimal(fmt.Sprint(k[1]))
	high, err2 := model.ParseDecimal(fmt.Sprint(k[2]))
	low, err3 := model.ParseDecimal(fmt.Sprint(k[3]))
	closeP, err4 := model.ParseDecimal(fmt.Sprint(k[4]))
	vol, err5 := model.ParseDecimal(fmt.Sprint(k[5]))
	for _, e := range []error{err1, err2, err3, err4, err5} {
		if e != nil {
			return model.Candle{}, e
		}
	}
	return model.Candle{OpenTime: openTime, Open: open, High: high, Low: low, Close: closeP, Volume: vol}, nil
}

// depth10Frame mirrors Binance's @depth10 partial-book frame.
type depth10Frame struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// StreamBook opens a <symbol>@depth10 stream. Every frame is a complete
// top-10 snapshot, so the adapter just decodes and forwards it,
// rate-limited to 1/s (spec §4.1 Venue A).
func (a *Adapter) StreamBook(ctx context.Context, symbol string) (<-chan model.BookSnapshot, error) {
	out := make(chan model.BookSnapshot, 4)
	go a.runStream(ctx, symbol, out)
	return out, nil
}

func (a *Adapter) runStream(ctx context.Context, symbol string, out chan<- model.BookSnapshot) {
	defer close(out)

	backoff := time.Second
	url := fmt.Sprintf("%s/%s@depth10", wsBase, strings.ToLower(symbol))

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			a.log.Warn().Err(err).Str("symbol", symbol).Msg("dial failed, backing off")
			metrics.VenueReconnects.WithLabelValues(string(model.VenueBinance)).Inc()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		a.readLoop(ctx, conn, symbol, out)
		conn.Close()
		metrics.VenueReconnects.WithLabelValues(string(model.VenueBinance)).Inc()
		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, symbol string, out chan<- model.BookSnapshot) {
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame depth10Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}

		if !limiter.Allow() {
			continue
		}

		snap := model.BookSnapshot{
			Symbol:    symbol,
			Venue:     model.VenueBinance,
			Timestamp: time.Now().UTC(),
			Bids:      toLevels(frame.Bids, model.VenueBinance),
			Asks:      toLevels(frame.Asks, model.VenueBinance),
		}

		select {
		case out <- snap:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

func toLevels(raw [][2]string, v model.Venue) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err1 := model.ParseDecimal(pair[0])
		vol, err2 := model.ParseDecimal(pair[1])
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Volume: vol, Venue: v})
	}
	return levels
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
