package scorer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/strategy"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/zone"
)

func mkSeries(volumes ...float64) market.Series {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var s market.Series
	for i, v := range volumes {
		t := base.Add(time.Duration(i) * 15 * time.Minute)
		s = append(s, market.Candle{
			Symbol: "BTCUSDT", Timeframe: market.TF15m,
			OpenTime: t, CloseTime: t.Add(15 * time.Minute),
			Open: 100, High: 100.5, Low: 99.5, Close: 100.2, Volume: v,
		})
	}
	return s
}

func strongLongInput() strategy.Input {
	series := mkSeries(10, 10, 10, 10, 10, 30)
	bundle := indicator.Bundle{
		Closes:      series.Closes(),
		EMA50:       []float64{99},
		EMA200:      []float64{95},
		ATR14:       []float64{1, 1, 1, 1, 1, 1},
		RSI14:       []float64{55},
		ADX14:       []float64{35},
		VolumeStats: indicator.VolumeStats{Mean: []float64{10}},
	}
	return strategy.Input{
		Symbol:  "BTCUSDT",
		Series:  series,
		Bundle:  bundle,
		Regime:  regime.Trend,
		Bias:    regime.Bullish,
		Zones:   []zone.Zone{{Kind: zone.Support, Low: 99.0, High: 99.4}},
		Exogenous: strategy.Exogenous{
			CVD15m: 100, CVD1h: 50, OIDeltaPct: 1.5, BTCTrend1h: regime.Bullish,
		},
	}
}

func longProposal() strategy.Proposal {
	return strategy.Proposal{
		StrategyName: "Break & Retest",
		Category:     strategy.CategoryPullback,
		Timeframe:    market.TF15m,
		Direction:    signal.Long,
		Entry:        decimal.NewFromFloat(100.2),
		SL:           decimal.NewFromFloat(99.0),
		TP1:          decimal.NewFromFloat(101.4),
		TP2:          decimal.NewFromFloat(102.6),
		HasTP2:       true,
		BaseScore:    1.5,
		FactorFlags:  []string{"break_retest"},
	}
}

func TestScoreAcceptsWellConfirmedLongProposal(t *testing.T) {
	s := New(Config{}, strategy.DefaultRegimeWeights())
	in := strongLongInput()
	got := s.Score("BTCUSDT", in, longProposal())
	if !got.Accepted {
		t.Fatalf("expected acceptance, got reject reason %q, factors=%v, score=%v", got.RejectReason, got.Factors, got.FinalScore)
	}
	if got.FactorCount < 3 {
		t.Fatalf("expected at least 3 confirming factors, got %d (%v)", got.FactorCount, got.Factors)
	}
}

func TestScoreRejectsBelowMinFactors(t *testing.T) {
	s := New(Config{}, strategy.DefaultRegimeWeights())
	in := strategy.Input{
		Symbol: "BTCUSDT",
		Series: mkSeries(10),
		Bundle: indicator.Bundle{EMA50: []float64{100}, EMA200: []float64{100}, VolumeStats: indicator.VolumeStats{Mean: []float64{100}}},
		Regime: regime.Range,
	}
	p := strategy.Proposal{StrategyName: "Volume Profile", Direction: signal.Long, Entry: decimal.NewFromFloat(100)}
	got := s.Score("BTCUSDT", in, p)
	if got.Accepted {
		t.Fatalf("expected rejection on a bare proposal with no confirming context, got %+v", got)
	}
	if got.RejectReason != "multi_factor_gate" {
		t.Fatalf("expected multi_factor_gate rejection, got %q", got.RejectReason)
	}
}

func TestScoreAppliesBTCPenaltyAgainstDirection(t *testing.T) {
	s := New(Config{}, strategy.DefaultRegimeWeights())
	in := strongLongInput()
	in.Exogenous.BTCTrend1h = regime.Bearish

	withBTCAgainst := s.Score("BTCUSDT", in, longProposal())

	in.Exogenous.BTCTrend1h = regime.Bullish
	withBTCAligned := s.Score("BTCUSDT", in, longProposal())

	if withBTCAgainst.FinalScore >= withBTCAligned.FinalScore {
		t.Fatalf("expected BTC-against score (%v) to be lower than BTC-aligned score (%v)", withBTCAgainst.FinalScore, withBTCAligned.FinalScore)
	}
}

func TestEvaluateCycleKeepsHighestScorePerDirectionAndStrategy(t *testing.T) {
	s := New(Config{}, strategy.DefaultRegimeWeights())
	in := strongLongInput()

	weak := longProposal()
	weak.BaseScore = 0.5
	strong := longProposal()
	strong.BaseScore = 3.0

	got := EvaluateCycle(s, "BTCUSDT", in, []strategy.Proposal{weak, strong})
	if len(got) != 1 {
		t.Fatalf("expected exactly one survivor for the (LONG, Break & Retest) group, got %d", len(got))
	}
	if got[0].FinalScore != s.Score("BTCUSDT", in, strong).FinalScore {
		t.Fatalf("expected the higher-scored proposal to survive conflict resolution")
	}
}
