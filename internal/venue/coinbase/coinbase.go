// Package coinbase implements Venue C: a JWT-authenticated delta push.
// The adapter mints an ES256 JWT on connect (aud/iss/sub/iat/exp, 5
// minute validity) and otherwise behaves like Bybit: a snapshot
// prelude followed by incremental (price, new_volume) deltas (spec
// §4.1 Venue C).
//
// JWT minting reuses golang-jwt/jwt/v5, the same library the teacher
// repository's backend/auth/token.go uses for its own (HS256) bearer
// tokens — here with an ES256 signing method and an ECDSA key, since
// Coinbase's Advanced Trade WS auth requires it.
package coinbase

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
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
	restBase = "https://api.exchange.coinbase.com"
	wsURL    = "wss://advanced-trade-ws.coinbase.com"
)

var supportedIntervals = []model.Interval{
	model.Interval1m, model.Interval5m, model.Interval15m, model.Interval1h, model.Interval6h, model.Interval1d,
}

var granularitySeconds = map[model.Interval]int{
	model.Interval1m: 60, model.Interval5m: 300, model.Interval15m: 900,
	model.Interval1h: 3600, model.Interval6h: 21600, model.Interval1d: 86400,
}

// Config carries Coinbase's CDP API credentials: a key name and the
// EC private key (PEM) used to sign connect JWTs.
type Config struct {
	KeyName    string
	PrivateKey string // PEM-encoded EC private key
}

// Adapter implements venue.Adapter for Coinbase.
type Adapter struct {
	cfg        Config
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	pageLimit  *rate.Limiter
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Adapter, error) {
	a := &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    venue.NewBreaker("coinbase"),
		pageLimit:  rate.NewLimiter(rate.Every(time.Second), 1),
		log:        log.With().Str("component", "venue.coinbase").Logger(),
	}
	if cfg.PrivateKey != "" {
		key, err := parseECKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("coinbase: invalid private key: %w", err)
		}
		a.privateKey = key
	}
	return a, nil
}

func parseECKey(pemStr string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (a *Adapter) Name() model.Venue                   { return model.VenueCoinbase }
func (a *Adapter) SupportedIntervals() []model.Interval { return supportedIntervals }

// connectJWT mints a 5-minute ES256 JWT for the WS auth handshake,
// with aud/iss/sub/iat/exp per spec §4.1 Venue C.
func (a *Adapter) connectJWT() (string, error) {
	if a.privateKey == nil {
		return "", apperr.New(apperr.Internal, "coinbase: no private key configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": a.cfg.KeyName,
		"iss": "coinbase-cloud",
		"aud": []string{"retail_ws_customer"},
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = a.cfg.KeyName
	return token.SignedString(a.privateKey)
}

type productsResp struct {
	Products []struct {
		ProductID string `json:"product_id"`
	} `json:"products"`
}

// ListPairs maps each Coinbase product id (e.g. "BTC-USD") to itself:
// the id is used unchanged as the canonical symbol, with its separator
// kept, and FetchCandles and StreamBook take the symbol in that form.
func (a *Adapter) ListPairs(ctx context.Context) (map[string]string, error) {
	var resp productsResp
	if err := venue.GetJSON(ctx, a.httpClient, a.breaker, restBase+"/products", &resp); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Products))
	for _, p := range resp.Products {
		out[p.ProductID] = p.ProductID
	}
	return out, nil
}

type candleRow struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type candlesResp struct {
	Candles []candleRow `json:"candles"`
}

func (a *Adapter) FetchCandles(ctx context.Context, symbol string, interval model.Interval, start, end time.Time) ([]model.Candle, error) {
	secs, ok := granularitySeconds[interval]
	if !ok {
		return nil, apperr.New(apperr.UnsupportedInterval, fmt.Sprintf("coinbase does not support interval %s", interval))
	}

	var out []model.Candle
	cur := start
	for cur.Before(end) {
		if err := a.pageLimit.Wait(ctx); err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/products/%s/candles?start=%d&end=%d&granularity=%d",
			restBase, symbol, cur.Unix(), end.Unix(), secs)

		var resp candlesResp
		if err := venue.GetJSON(ctx, a.httpClient, a.breaker, url, &resp); err != nil {
			return nil, err
		}
		if len(resp.Candles) == 0 {
			break
		}

		for i := len(resp.Candles) - 1; i >= 0; i-- {
			c, err := decodeCandle(resp.Candles[i])
			if err != nil {
				continue
			}
			if c.OpenTime.After(end) || c.OpenTime.Before(cur) {
				continue
			}
			out = append(out, c)
		}

		last := resp.Candles[0]
		lastOpen, err := decodeOpenTime(last.Start)
		if err != nil {
			return out, apperr.Wrap(apperr.Internal, "malformed coinbase candle", err)
		}
		cur = lastOpen.Add(time.Duration(secs) * time.Second)
	}

	return out, nil
}

func decodeOpenTime(s string) (time.Time, error) {
	var secs int64
	if _, err := fmt.Sscan(s, &secs); err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

func decodeCandle(row candleRow) (model.Candle, error) {
	openTime, err := decodeOpenTime(row.Start)
	if err != nil {
		return model.Candle{}, err
	}
	open, e1 := model.ParseDecimal(row.Open)
	high, e2 := model.ParseDecimal(row.High)
	low, e3 := model.ParseDecimal(row.Low)
	closeP, e4 := model.ParseDecimal(row.Close)
	vol, e5 := model.ParseDecimal(row.Volume)
	for _, e := range []error{e1, e2, e3, e4, e5} {
		if e != nil {
			return model.Candle{}, e
		}
	}
	return model.Candle{OpenTime: openTime, Open: open, High: high, Low: low, Close: closeP, Volume: vol}, nil
}

type wsSubscribeMsg struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids"`
	JWT        string   `json:"jwt"`
}

type wsEvent struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type    string `json:"type"` // "snapshot" | "update"
		Updates []struct {
			Side      string `json:"side"` // "bid" | "offer"
			PriceLevel string `json:"price_level"`
			NewQuantity string `json:"new_quantity"`
		} `json:"updates"`
	} `json:"events"`
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

		jwtStr, err := a.connectJWT()
		if err != nil {
			a.log.Error().Err(err).Msg("failed to mint connect JWT")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			a.log.Warn().Err(err).Msg("dial failed")
			metrics.VenueReconnects.WithLabelValues(string(model.VenueCoinbase)).Inc()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		sub := wsSubscribeMsg{Type: "subscribe", Channel: "level2", ProductIDs: []string{symbol}, JWT: jwtStr}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			if !sleepOrDone(ctx, backoff) {
				return
			}
			continue
		}

		a.readLoop(ctx, conn, symbol, out)
		conn.Close()
		metrics.VenueReconnects.WithLabelValues(string(model.VenueCoinbase)).Inc()
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

		var ev wsEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		if ev.Channel != "l2_data" {
			continue
		}

		for _, event := range ev.Events {
			var bids, asks []model.PriceLevel
			for _, u := range event.Updates {
				price, err1 := model.ParseDecimal(u.PriceLevel)
				qty, err2 := model.ParseDecimal(u.NewQuantity)
				if err1 != nil || err2 != nil {
					continue
				}
				level := model.PriceLevel{Price: price, Volume: qty, Venue: model.VenueCoinbase}
				if u.Side == "bid" {
					bids = append(bids, level)
				} else {
					asks = append(asks, level)
				}
			}

			if event.Type == "snapshot" {
				book.Reset(bids, asks)
			} else {
				for _, l := range bids {
					book.ApplyBidDelta(l)
				}
				for _, l := range asks {
					book.ApplyAskDelta(l)
				}
			}
		}

		if !limiter.Allow() {
			continue
		}

		snap := book.Snapshot(symbol, model.VenueCoinbase)
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

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
