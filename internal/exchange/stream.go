package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
)

const defaultStreamBaseURL = "wss://fstream.binance.com/stream"

// CloseHint is emitted whenever a subscribed kline stream reports its bar as
// closed. The loop uses this only as a scheduling nudge (spec §6) — the
// authoritative candle still comes from a REST Klines call, never from the
// stream payload itself.
type CloseHint struct {
	Symbol    string
	Timeframe market.Timeframe
	CloseTime time.Time
}

// KlineStream maintains a reconnecting websocket subscription to one or more
// symbol/timeframe kline streams and emits CloseHint on every closed bar.
type KlineStream struct {
	baseURL string
	dialer  websocket.Dialer
	log     zerolog.Logger
}

// StreamOption configures a KlineStream.
type StreamOption func(*KlineStream)

// WithStreamBaseURL overrides the default websocket host (tests only).
func WithStreamBaseURL(url string) StreamOption {
	return func(s *KlineStream) { s.baseURL = url }
}

// NewKlineStream builds a KlineStream.
func NewKlineStream(log zerolog.Logger, opts ...StreamOption) *KlineStream {
	s := &KlineStream{
		baseURL: defaultStreamBaseURL,
		dialer:  websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		log:     log.With().Str("component", "exchange.stream").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type klineEnvelope struct {
	Stream string       `json:"stream"`
	Data   klineWrapper `json:"data"`
}

type klineWrapper struct {
	Kline klinePayload `json:"k"`
}

type klinePayload struct {
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	IsClosed  bool   `json:"x"`
}

// Run subscribes to symbol/tf pairs and pushes a CloseHint to out each time a
// bar closes. It reconnects with exponential backoff (base 1s, cap 30s) on
// any disconnect and resubscribes to the same stream set, running until ctx
// is cancelled.
func (s *KlineStream) Run(ctx context.Context, symbols []string, tfs []market.Timeframe, out chan<- CloseHint) error {
	if len(symbols) == 0 || len(tfs) == 0 {
		return fmt.Errorf("kline stream requires at least one symbol and one timeframe")
	}

	streams := make([]string, 0, len(symbols)*len(tfs))
	for _, sym := range symbols {
		for _, tf := range tfs {
			streams = append(streams, strings.ToLower(sym)+"@kline_"+string(tf))
		}
	}
	url := fmt.Sprintf("%s?streams=%s", s.baseURL, strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.consume(ctx, url, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("kline stream disconnected, reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*2))
			continue
		}
		return nil
	}
}

func (s *KlineStream) consume(ctx context.Context, url string, out chan<- CloseHint) error {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info().Msg("connected kline stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("kline stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env klineEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode kline stream message")
			continue
		}
		if !env.Data.Kline.IsClosed {
			continue
		}
		hint := CloseHint{
			Symbol:    strings.ToUpper(env.Data.Kline.Symbol),
			Timeframe: market.Timeframe(env.Data.Kline.Interval),
			CloseTime: time.UnixMilli(env.Data.Kline.CloseTime),
		}
		select {
		case out <- hint:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
