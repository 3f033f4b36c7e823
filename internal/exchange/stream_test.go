package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
)

func TestKlineStreamEmitsCloseHintOnClosedBar(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{
			"stream": "btcusdt@kline_15m",
			"data": {"k": {"T": 1690000059999, "s": "BTCUSDT", "i": "15m", "x": false}}
		}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{
			"stream": "btcusdt@kline_15m",
			"data": {"k": {"T": 1690000899999, "s": "BTCUSDT", "i": "15m", "x": true}}
		}`))
		time.Sleep(time.Second)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	stream := NewKlineStream(zerolog.Nop(), WithStreamBaseURL(wsURL+"/stream"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hints := make(chan CloseHint, 4)
	go func() { _ = stream.Run(ctx, []string{"BTCUSDT"}, []market.Timeframe{market.TF15m}, hints) }()

	select {
	case h := <-hints:
		if h.Symbol != "BTCUSDT" || h.Timeframe != market.TF15m {
			t.Fatalf("unexpected hint: %+v", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close hint")
	}
}

func TestKlineStreamRequiresSymbolsAndTimeframes(t *testing.T) {
	stream := NewKlineStream(zerolog.Nop())
	if err := stream.Run(context.Background(), nil, []market.Timeframe{market.TF15m}, make(chan CloseHint)); err == nil {
		t.Fatal("expected error for empty symbol set")
	}
}
