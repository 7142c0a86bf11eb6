// Package bybit implements Venue B: a snapshot-prelude delta push. The
// first WS frame is a full snapshot; subsequent frames carry
// incremental (price, new_volume) changes, with new_volume == 0
// removing the level (spec §4.1 Venue B). The adapter maintains a
// local book via venue.LocalBook and applies deltas in arrival order.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	restBase = "https://api.bybit.com/v5"
	wsBase   = "wss://stream.bybit.com/v5/public/spot"
)

var supportedIntervals = []model.Interval{
	model.Interval1m, model.Interval3m, model.Interval5m, model.Interval15m, model.Interval30m,
	model.Interval1h, model.Interval2h, model.Interval4h, model.Interval6h, model.Interval12h,
	model.Interval1d, model.Interval1w, model.Interval1M,
}

var intervalCode = map[model.Interval]string{
	model.Interval1m: "1", model.Interval3m: "3", model.Interval5m: "5", model.Interval15m: "15",
	model.Interval30m: "30", model.Interval1h: "60", model.Interval2h: "120", model.Interval4h: "240",
	model.Interval6h: "360", model.Interval12h: "720", model.Interval1d: "D", model.Interval1w: "W", model.Interval1M: "M",
}

var intervalMinutes = map[model.Interval]int{
	model.Interval1m: 1, model.Interval3m: 3, model.Interval5m: 5, model.Interval15m: 15, model.Interval30m: 30,
	model.Interval1h: 60, model.Interval2h: 120, model.Interval4h: 240, model.Interval6h: 360,
	model.Interval12h: 720, model.Interval1d: 1440, model.Interval1w: 10080, model.Interval1M: 43200,
}

// Adapter implements venue.Adapter for Bybit.
type Adapter struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	pageLimit  *rate.Limiter
	log        zerolog.Logger
}

func New(log zerolog.Logger) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    venue.NewBreaker("bybit"),
		pageLimit:  rate.NewLimiter(rate.Every(time.Second), 1),
		log:        log.With().Str("component", "venue.bybit").Logger(),
	}
}

func (a *Adapter) Name() model.Venue                   { return model.VenueBybit }
func (a *Adapter) SupportedIntervals() []model.Interval { return supportedIntervals }

type instrumentsResp struct {
	Result struct {
		List []struct {
			Symbol string `json:"symbol"`
		} `json:"list"`
	} `json:"result"`
}

func (a *Adapter) ListPairs(ctx context.Context) (map[string]string, error) {
	var resp instrumentsResp
	url := restBase + "/market/instruments-info?category=spot"
	if err := venue.GetJSON(ctx, a.httpClient, a.breaker, url, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Result.List))
	for _, s := range resp.Result.List {
		out[s.Symbol] = s.Symbol
	}
	return out, nil
}

type klineResp struct {
	Result struct {
		List [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], descending
	} `json:"result"`
}

// FetchCandles paginates Bybit's kline endpoint. Bybit returns pages in
// descending time order; the adapter reverses them before appending so
// the overall result stays ascending (spec §4.1 "ascending openTime").
func (a *Adapter) FetchCandles(ctx context.Context, symbol string, interval model.Interval, start, end time.Time) ([]model.Candle, error) {
	code, ok := intervalCode[interval]
	if !ok {
		return nil, apperr.New(apperr.UnsupportedInterval, fmt.Sprintf("bybit does not support interval %s", interval))
	}
	minutes := intervalMinutes[interval]

	var out []model.Candle
	cur := start
	for cur.Before(end) {
		if err := a.pageLimit.Wait(ctx); err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/market/kline?category=spot&symbol=%s&interval=%s&start=%d&end=%d&limit=1000",
			restBase, symbol, code, cur.UnixMilli(), end.UnixMilli())

		var resp klineResp
		if err := venue.GetJSON(ctx, a.httpClient, a.breaker, url, &resp); err != nil {
			return nil, err
		}
		if len(resp.Result.List) == 0 {
			break
		}

		page := make([]model.Candle, 0, len(resp.Result.List))
		for i := len(resp.Result.List) - 1; i >= 0; i-- {
			c, err := decodeCandle(resp.Result.List[i])
			if err != nil {
				continue
			}
			page = append(page, c)
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)

		last := page[len(page)-1]
		cur = last.OpenTime.Add(time.Duration(minutes) * time.Minute)
	}

	return out, nil
}

func decodeCandle(row []string) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("short kline row")
	}
	var ms int64
	if _, err := fmt.Sscan(row[0], &ms); err != nil {
		return model.Candle{}, err
	}
	open, e1 := model.ParseDecimal(row[1])
	high, e2 := model.ParseDecimal(row[2])
	low, e3 := model.ParseDecimal(row[3])
	closeP, e4 := model.ParseDecimal(row[4])
	vol, e5 := model.ParseDecimal(row[5])
	for _, e := range []error{e1, e2, e3, e4, e5} {
		if e != nil {
			return model.Candle{}, e
		}
	}
	return model.Candle{
		OpenTime: time.UnixMilli(ms).UTC(),
		Open:     open, High: high, Low: low, Close: closeP, Volume: vol,
	}, nil
}

type wsFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "snapshot" | "delta"
	Data  depthData       `json:"data"`
	Op    string          `json:"op,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
}

type depthData struct {
	Bids [][2]string `json:"b"`
	Asks [][2]string `json:"a"`
}

func (a *Adapter) StreamBook(ctx context.Context, symbol string) (<-chan model.BookSnapshot, error) {
	out := make(chan model.BookSnapshot, 4)
	go a.runStream(ctx, symbol, out)
	return out, nil
}

func (a *Adapter) runStream(ctx context.Context, symbol string, out chan<- model.BookSnapshot) {
	defer close(out)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsBase, nil)
		if err != nil {
			a.log.Warn().Err(err).Msg("dial failed")
			metrics.VenueReconnects.WithLabelValues(string(model.VenueBybit)).Inc()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		sub := map[string]interface{}{"op": "subscribe", "args": []string{"orderbook.50." + symbol}}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		a.readLoop(ctx, conn, symbol, out)
		conn.Close()
		metrics.VenueReconnects.WithLabelValues(string(model.VenueBybit)).Inc()
		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, symbol string, out chan<- model.BookSnapshot) {
	book := venue.NewLocalBook()
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

		var frame wsFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Type == "" {
			continue // ack / heartbeat frame
		}

		bids := decodeLevels(frame.Data.Bids)
		asks := decodeLevels(frame.Data.Asks)

		if frame.Type == "snapshot" {
			book.Reset(bids, asks)
		} else {
			for _, l := range bids {
				book.ApplyBidDelta(l)
			}
			for _, l := range asks {
				book.ApplyAskDelta(l)
			}
		}

		if !limiter.Allow() {
			continue
		}

		snap := book.Snapshot(symbol, model.VenueBybit)
		snap.Timestamp = time.Now().UTC()

		select {
		case out <- snap:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

func decodeLevels(raw [][2]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err1 := model.ParseDecimal(pair[0])
		vol, err2 := model.ParseDecimal(pair[1])
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Volume: vol, Venue: model.VenueBybit})
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
