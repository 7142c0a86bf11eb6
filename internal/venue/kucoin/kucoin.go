// Package kucoin implements Venue D: a token-authenticated delta push.
// The adapter first fetches a bullet token from a signed REST bootstrap
// call, then seeds the local book from a REST snapshot, then dials the
// token-bearing WS endpoint and applies incremental (price, new_volume)
// deltas (spec §4.1 Venue D).
package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
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

const restBase = "https://api.kucoin.com"

var supportedIntervals = []model.Interval{
	model.Interval1m, model.Interval3m, model.Interval5m, model.Interval15m, model.Interval30m,
	model.Interval1h, model.Interval2h, model.Interval4h, model.Interval6h, model.Interval8h,
	model.Interval12h, model.Interval1d, model.Interval1w,
}

var intervalCode = map[model.Interval]string{
	model.Interval1m: "1min", model.Interval3m: "3min", model.Interval5m: "5min", model.Interval15m: "15min",
	model.Interval30m: "30min", model.Interval1h: "1hour", model.Interval2h: "2hour", model.Interval4h: "4hour",
	model.Interval6h: "6hour", model.Interval8h: "8hour", model.Interval12h: "12hour",
	model.Interval1d: "1day", model.Interval1w: "1week",
}

var intervalMinutes = map[model.Interval]int{
	model.Interval1m: 1, model.Interval3m: 3, model.Interval5m: 5, model.Interval15m: 15, model.Interval30m: 30,
	model.Interval1h: 60, model.Interval2h: 120, model.Interval4h: 240, model.Interval6h: 360, model.Interval8h: 480,
	model.Interval12h: 720, model.Interval1d: 1440, model.Interval1w: 10080,
}

// Config carries Kucoin's REST API credentials, used to sign the
// bullet-token bootstrap request.
type Config struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Adapter implements venue.Adapter for Kucoin.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	pageLimit  *rate.Limiter
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    venue.NewBreaker("kucoin"),
		pageLimit:  rate.NewLimiter(rate.Every(time.Second), 1),
		log:        log.With().Str("component", "venue.kucoin").Logger(),
	}
}

func (a *Adapter) Name() model.Venue                   { return model.VenueKucoin }
func (a *Adapter) SupportedIntervals() []model.Interval { return supportedIntervals }

// sign produces Kucoin's KC-API-* headers for a private REST call.
func (a *Adapter) sign(method, path, body string) (http.Header, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	prehash := ts + method + path + body

	mac := hmac.New(sha256.New, []byte(a.cfg.APISecret))
	mac.Write([]byte(prehash))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	passMac := hmac.New(sha256.New, []byte(a.cfg.APISecret))
	passMac.Write([]byte(a.cfg.Passphrase))
	signedPass := base64.StdEncoding.EncodeToString(passMac.Sum(nil))

	h := http.Header{}
	h.Set("KC-API-KEY", a.cfg.APIKey)
	h.Set("KC-API-SIGN", sig)
	h.Set("KC-API-TIMESTAMP", ts)
	h.Set("KC-API-PASSPHRASE", signedPass)
	h.Set("KC-API-KEY-VERSION", "2")
	return h, nil
}

type symbolsResp struct {
	Data []struct {
		Symbol string `json:"symbol"`
	} `json:"data"`
}

// ListPairs maps each Kucoin symbol (e.g. "BTC-USDT") to itself: the
// symbol is used unchanged as the canonical form, with its separator
// kept, and FetchCandles and StreamBook take the symbol in that form.
func (a *Adapter) ListPairs(ctx context.Context) (map[string]string, error) {
	var resp symbolsResp
	if err := venue.GetJSON(ctx, a.httpClient, a.breaker, restBase+"/api/v2/symbols", &resp); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Data))
	for _, s := range resp.Data {
		out[s.Symbol] = s.Symbol
	}
	return out, nil
}

type klineResp struct {
	Data [][]string `json:"data"` // [time, open, close, high, low, volume, turnover], descending
}

// FetchCandles paginates Kucoin's klines endpoint, which like Bybit
// returns pages newest-first; the adapter reverses each page before
// appending (spec §4.1 "ascending openTime").
func (a *Adapter) FetchCandles(ctx context.Context, symbol string, interval model.Interval, start, end time.Time) ([]model.Candle, error) {
	code, ok := intervalCode[interval]
	if !ok {
		return nil, apperr.New(apperr.UnsupportedInterval, fmt.Sprintf("kucoin does not support interval %s", interval))
	}
	minutes := intervalMinutes[interval]

	var out []model.Candle
	cur := start
	for cur.Before(end) {
		if err := a.pageLimit.Wait(ctx); err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/api/v1/market/candles?symbol=%s&type=%s&startAt=%d&endAt=%d",
			restBase, symbol, code, cur.Unix(), end.Unix())

		var resp klineResp
		if err := venue.GetJSON(ctx, a.httpClient, a.breaker, url, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			break
		}

		page := make([]model.Candle, 0, len(resp.Data))
		for i := len(resp.Data) - 1; i >= 0; i-- {
			c, err := decodeCandle(resp.Data[i])
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
	var secs int64
	if _, err := fmt.Sscan(row[0], &secs); err != nil {
		return model.Candle{}, err
	}
	open, e1 := model.ParseDecimal(row[1])
	closeP, e2 := model.ParseDecimal(row[2])
	high, e3 := model.ParseDecimal(row[3])
	low, e4 := model.ParseDecimal(row[4])
	vol, e5 := model.ParseDecimal(row[5])
	for _, e := range []error{e1, e2, e3, e4, e5} {
		if e != nil {
			return model.Candle{}, e
		}
	}
	return model.Candle{OpenTime: time.Unix(secs, 0).UTC(), Open: open, High: high, Low: low, Close: closeP, Volume: vol}, nil
}

type bulletResp struct {
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint      string `json:"endpoint"`
			PingInterval  int    `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// connectBullet fetches a WS connect token via the signed private
// bootstrap endpoint (spec §4.1 Venue D: "fetches a connect token from
// a bootstrap REST endpoint").
func (a *Adapter) connectBullet(ctx context.Context) (wsURL string, err error) {
	const path = "/api/v1/bullet-private"
	headers, err := a.sign(http.MethodPost, path, "")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, restBase+path, nil)
	if err != nil {
		return "", err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamUnavailable, "kucoin bullet token request failed", err)
	}
	defer resp.Body.Close()

	var out bulletResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(apperr.UpstreamUnavailable, "malformed kucoin bullet response", err)
	}
	if out.Data.Token == "" || len(out.Data.InstanceServers) == 0 {
		return "", apperr.New(apperr.UpstreamUnavailable, "kucoin bullet response missing token/endpoint")
	}

	server := out.Data.InstanceServers[0]
	return fmt.Sprintf("%s?token=%s", server.Endpoint, out.Data.Token), nil
}

type orderBookResp struct {
	Data struct {
		Sequence string      `json:"sequence"`
		Bids     [][2]string `json:"bids"`
		Asks     [][2]string `json:"asks"`
	} `json:"data"`
}

// seedSnapshot fetches a REST order-book snapshot to seed the local
// book before applying WS deltas (spec §4.1 Venue D).
func (a *Adapter) seedSnapshot(ctx context.Context, symbol string) ([]model.PriceLevel, []model.PriceLevel, error) {
	url := fmt.Sprintf("%s/api/v1/market/orderbook/level2_20?symbol=%s", restBase, symbol)
	var resp orderBookResp
	if err := venue.GetJSON(ctx, a.httpClient, a.breaker, url, &resp); err != nil {
		return nil, nil, err
	}
	return decodeLevels(resp.Data.Bids), decodeLevels(resp.Data.Asks), nil
}

func decodeLevels(raw [][2]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err1 := model.ParseDecimal(pair[0])
		vol, err2 := model.ParseDecimal(pair[1])
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Volume: vol, Venue: model.VenueKucoin})
	}
	return levels
}

type wsMessage struct {
	Type    string     `json:"type"`
	Topic   string     `json:"topic"`
	Subject string     `json:"subject"`
	Data    deltaFrame `json:"data"`
}

type deltaFrame struct {
	Changes struct {
		Bids [][]string `json:"bids"` // [price, size, sequence]
		Asks [][]string `json:"asks"`
	} `json:"changes"`
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

		wsURL, err := a.connectBullet(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("bullet token request failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		bids, asks, err := a.seedSnapshot(ctx, symbol)
		if err != nil {
			a.log.Warn().Err(err).Msg("snapshot seed failed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			a.log.Warn().Err(err).Msg("dial failed")
			metrics.VenueReconnects.WithLabelValues(string(model.VenueKucoin)).Inc()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		sub := map[string]interface{}{
			"id":             time.Now().UnixMilli(),
			"type":           "subscribe",
			"topic":          "/market/level2:" + symbol,
			"privateChannel": false,
			"response":       true,
		}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		book := venue.NewLocalBook()
		book.Reset(bids, asks)

		a.readLoop(ctx, conn, symbol, book, out)
		conn.Close()
		metrics.VenueReconnects.WithLabelValues(string(model.VenueKucoin)).Inc()
		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, symbol string, book *venue.LocalBook, out chan<- model.BookSnapshot) {
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

		var frame wsMessage
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Type != "message" || frame.Subject != "trade.l2update" {
			continue
		}

		for _, row := range frame.Data.Changes.Bids {
			if l, ok := decodeChange(row); ok {
				book.ApplyBidDelta(l)
			}
		}
		for _, row := range frame.Data.Changes.Asks {
			if l, ok := decodeChange(row); ok {
				book.ApplyAskDelta(l)
			}
		}

		if !limiter.Allow() {
			continue
		}

		snap := book.Snapshot(symbol, model.VenueKucoin)
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

func decodeChange(row []string) (model.PriceLevel, bool) {
	if len(row) < 2 {
		return model.PriceLevel{}, false
	}
	price, err1 := model.ParseDecimal(row[0])
	vol, err2 := model.ParseDecimal(row[1])
	if err1 != nil || err2 != nil {
		return model.PriceLevel{}, false
	}
	return model.PriceLevel{Price: price, Volume: vol, Venue: model.VenueKucoin}, true
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
