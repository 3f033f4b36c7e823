// Package exchange is a typed facade over the USDT-margined perpetual
// exchange's HTTP and WebSocket surfaces (spec §4.2, §6). Every outbound
// call declares its weight, reserves budget from the rate limiter first, and
// reconciles the limiter against the server's reported usage afterwards.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/metrics"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/ratelimit"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/xerrors"
)

const (
	defaultBaseURL   = "https://fapi.binance.com"
	totalTimeout     = 60 * time.Second
	retryBase        = time.Second
	retryFactor      = 2.0
	retryCap         = 30 * time.Second
	retryMaxAttempts = 5
)

// Client is a typed wrapper for the futures REST endpoints the engine needs.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

// Option configures Client construction.
type Option func(*Client)

// WithBaseURL overrides the default exchange host (used by tests against a
// local httptest.Server).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a Client bound to a rate limiter.
func New(limiter *ratelimit.Limiter, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: totalTimeout},
		limiter: limiter,
		log:     log.With().Str("component", "exchange").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KlinesWeight computes the request weight for a klines call, banded by the
// requested limit (spec §4.2, a testable contract).
func KlinesWeight(limit int) int {
	switch {
	case limit <= 0:
		return 1
	case limit < 100:
		return 1
	case limit < 500:
		return 2
	case limit <= 1000:
		return 5
	default:
		return 10
	}
}

// DepthWeight computes the request weight for an order-book depth call,
// banded by the requested limit (spec §4.2).
func DepthWeight(limit int) int {
	switch {
	case limit <= 100:
		return 2
	case limit <= 500:
		return 5
	case limit <= 1000:
		return 10
	default:
		return 50
	}
}

// Kline is one raw candle as returned by the exchange, before the loader
// converts it into a market.Candle.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Klines fetches up to `limit` candles for symbol/timeframe, bounded by
// startTime and endTime when those are non-zero (the exchange applies its own
// defaults for a zero bound). The exchange's currently-forming candle, if returned,
// is never included by loader logic downstream — Klines returns exactly
// what the exchange sent.
func (c *Client) Klines(ctx context.Context, symbol string, tf market.Timeframe, limit int, startTime, endTime time.Time) ([]Kline, error) {
	weight := KlinesWeight(limit)
	if _, err := c.limiter.Reserve(ctx, weight); err != nil {
		return nil, xerrors.New(xerrors.RateCapped, "exchange.Klines", err)
	}

	req := requestSpec{
		method: http.MethodGet,
		path:   "/fapi/v1/klines",
		query: map[string]string{
			"symbol":   symbol,
			"interval": string(tf),
			"limit":    strconv.Itoa(limit),
		},
	}
	if !startTime.IsZero() {
		req.query["startTime"] = strconv.FormatInt(startTime.UnixMilli(), 10)
	}
	if !endTime.IsZero() {
		req.query["endTime"] = strconv.FormatInt(endTime.UnixMilli(), 10)
	}

	var raw [][]any
	if err := c.doWithRetry(ctx, req, "klines", &raw); err != nil {
		return nil, err
	}

	out := make([]Kline, 0, len(raw))
	for _, row := range raw {
		k, err := parseKlineRow(row)
		if err != nil {
			return nil, xerrors.New(xerrors.Invariant, "exchange.Klines", err)
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKlineRow(row []any) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("kline row has %d fields, want >=7", len(row))
	}
	openMs, err := toInt64(row[0])
	if err != nil {
		return Kline{}, err
	}
	closeMs, err := toInt64(row[6])
	if err != nil {
		return Kline{}, err
	}
	open, err := toFloat(row[1])
	if err != nil {
		return Kline{}, err
	}
	high, err := toFloat(row[2])
	if err != nil {
		return Kline{}, err
	}
	low, err := toFloat(row[3])
	if err != nil {
		return Kline{}, err
	}
	closePx, err := toFloat(row[4])
	if err != nil {
		return Kline{}, err
	}
	volume, err := toFloat(row[5])
	if err != nil {
		return Kline{}, err
	}
	return Kline{
		OpenTime:  time.UnixMilli(openMs),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		CloseTime: time.UnixMilli(closeMs),
	}, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer type %T", v)
	}
}

// MarkPrice fetches the current mark price for symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if _, err := c.limiter.Reserve(ctx, 1); err != nil {
		return 0, xerrors.New(xerrors.RateCapped, "exchange.MarkPrice", err)
	}
	var payload struct {
		MarkPrice string `json:"markPrice"`
	}
	req := requestSpec{method: http.MethodGet, path: "/fapi/v1/premiumIndex", query: map[string]string{"symbol": symbol}}
	if err := c.doWithRetry(ctx, req, "mark_price", &payload); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(payload.MarkPrice, 64)
}

// DepthLevel is one price/quantity level of the order book.
type DepthLevel struct {
	Price float64
	Qty   float64
}

// Depth is a snapshot of the order book.
type Depth struct {
	Bids []DepthLevel
	Asks []DepthLevel
}

// ImbalanceRatio computes the ask/bid depth ratio (above 1 when the ask side
// holds more quantity), the shape of strategy.Exogenous.DepthImbalance.
func (d Depth) ImbalanceRatio() float64 {
	var bidQty, askQty float64
	for _, b := range d.Bids {
		bidQty += b.Qty
	}
	for _, a := range d.Asks {
		askQty += a.Qty
	}
	if bidQty+askQty == 0 {
		return 1
	}
	return askQty / bidQty
}

// Depth fetches an order book snapshot of the requested depth.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (Depth, error) {
	weight := DepthWeight(limit)
	if _, err := c.limiter.Reserve(ctx, weight); err != nil {
		return Depth{}, xerrors.New(xerrors.RateCapped, "exchange.Depth", err)
	}
	var payload struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	req := requestSpec{method: http.MethodGet, path: "/fapi/v1/depth", query: map[string]string{"symbol": symbol, "limit": strconv.Itoa(limit)}}
	if err := c.doWithRetry(ctx, req, "depth", &payload); err != nil {
		return Depth{}, err
	}
	depth := Depth{Bids: make([]DepthLevel, 0, len(payload.Bids)), Asks: make([]DepthLevel, 0, len(payload.Asks))}
	for _, lvl := range payload.Bids {
		px, _ := strconv.ParseFloat(lvl[0], 64)
		qty, _ := strconv.ParseFloat(lvl[1], 64)
		depth.Bids = append(depth.Bids, DepthLevel{Price: px, Qty: qty})
	}
	for _, lvl := range payload.Asks {
		px, _ := strconv.ParseFloat(lvl[0], 64)
		qty, _ := strconv.ParseFloat(lvl[1], 64)
		depth.Asks = append(depth.Asks, DepthLevel{Price: px, Qty: qty})
	}
	return depth, nil
}

// Ticker24h is a subset of the 24h rolling-window ticker.
type Ticker24h struct {
	Symbol             string
	PriceChangePercent float64
	QuoteVolume        float64
}

// Ticker24h fetches the 24h ticker for symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (Ticker24h, error) {
	if _, err := c.limiter.Reserve(ctx, 1); err != nil {
		return Ticker24h{}, xerrors.New(xerrors.RateCapped, "exchange.Ticker24h", err)
	}
	var payload struct {
		Symbol             string `json:"symbol"`
		PriceChangePercent string `json:"priceChangePercent"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	req := requestSpec{method: http.MethodGet, path: "/fapi/v1/ticker/24hr", query: map[string]string{"symbol": symbol}}
	if err := c.doWithRetry(ctx, req, "ticker_24h", &payload); err != nil {
		return Ticker24h{}, err
	}
	pct, _ := strconv.ParseFloat(payload.PriceChangePercent, 64)
	vol, _ := strconv.ParseFloat(payload.QuoteVolume, 64)
	return Ticker24h{Symbol: payload.Symbol, PriceChangePercent: pct, QuoteVolume: vol}, nil
}

// ExchangeInfoSymbol is the subset of exchange-info metadata strategies need.
type ExchangeInfoSymbol struct {
	Symbol            string
	PricePrecision    int
	QuantityPrecision int
}

// ExchangeInfo fetches trading-rule metadata for all symbols. It is weight-10
// and rarely called (once at startup, then periodically).
func (c *Client) ExchangeInfo(ctx context.Context) ([]ExchangeInfoSymbol, error) {
	if _, err := c.limiter.Reserve(ctx, 10); err != nil {
		return nil, xerrors.New(xerrors.RateCapped, "exchange.ExchangeInfo", err)
	}
	var payload struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
		} `json:"symbols"`
	}
	req := requestSpec{method: http.MethodGet, path: "/fapi/v1/exchangeInfo"}
	if err := c.doWithRetry(ctx, req, "exchange_info", &payload); err != nil {
		return nil, err
	}
	out := make([]ExchangeInfoSymbol, 0, len(payload.Symbols))
	for _, s := range payload.Symbols {
		out = append(out, ExchangeInfoSymbol{Symbol: s.Symbol, PricePrecision: s.PricePrecision, QuantityPrecision: s.QuantityPrecision})
	}
	return out, nil
}

type requestSpec struct {
	method string
	path   string
	query  map[string]string
}

// doWithRetry issues one HTTP call, classifying failures per spec §4.2/§7 and
// retrying transient/5xx classes with exponential backoff (base 1s, factor
// 2, cap 30s, max 5 attempts). 4xx non-ban errors surface without retry.
// 418/429 trip the rate limiter's ban and surface a Banned error.
func (c *Client) doWithRetry(ctx context.Context, spec requestSpec, endpoint string, out any) error {
	backoff := retryBase
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		usedWeight, err := c.doOnce(ctx, spec, endpoint, out)
		if err == nil {
			if usedWeight >= 0 {
				c.limiter.ObserveUsed(usedWeight)
			}
			metrics.APIWeightUsed.WithLabelValues(endpoint).Inc()
			return nil
		}
		lastErr = err
		if !xerrors.Is(err, xerrors.Transient) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}
		c.log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).Msg("retrying exchange call")
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return xerrors.New(xerrors.Transient, "exchange."+endpoint, ctx.Err())
		}
		backoff = time.Duration(math.Min(float64(retryCap), float64(backoff)*retryFactor))
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, spec requestSpec, endpoint string, out any) (int, error) {
	u := c.baseURL + spec.path
	if len(spec.query) > 0 {
		u += "?" + encodeQuery(spec.query)
	}
	httpReq, err := http.NewRequestWithContext(ctx, spec.method, u, nil)
	if err != nil {
		return 0, xerrors.New(xerrors.Invariant, "exchange."+endpoint, err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, xerrors.New(xerrors.Transient, "exchange."+endpoint, err)
	}
	defer resp.Body.Close()

	usedWeight := parseWeightHeader(resp.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return usedWeight, xerrors.New(xerrors.Transient, "exchange."+endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.limiter.TripBan(time.Now().Add(retryAfter))
		return usedWeight, xerrors.New(xerrors.Banned, "exchange."+endpoint, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return usedWeight, xerrors.New(xerrors.Transient, "exchange."+endpoint, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 400:
		return usedWeight, xerrors.New(xerrors.BadRequest, "exchange."+endpoint, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return usedWeight, xerrors.New(xerrors.Invariant, "exchange."+endpoint, err)
		}
	}
	return usedWeight, nil
}

func parseWeightHeader(v string) int {
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return time.Minute
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}

func encodeQuery(q map[string]string) string {
	first := true
	out := ""
	for k, v := range q {
		if !first {
			out += "&"
		}
		first = false
		out += k + "=" + v
	}
	return out
}
