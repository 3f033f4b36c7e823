package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the Action Price sizing/target regime selected from the total score.
type Mode string

const (
	ModeStandard Mode = "STANDARD"
	ModeScalp    Mode = "SCALP"
	ModeSkip     Mode = "SKIP"
)

// ScoreComponents holds the eleven additive/subtractive Action Price factors
// (spec §4.5). Each is pre-clamped by the scorer that produces it; the
// struct exists so the journal can log every component individually.
type ScoreComponents struct {
	InitiatorSize     float64 // c1
	EMA200Proximity   float64 // c2
	PullbackDepth     float64 // c3
	EMA200Slope       float64 // c4
	FanCompactness    float64 // c5
	RetestTag         float64 // c6
	BreakAndBase      float64 // c7
	RejectionWick     float64 // c8
	VolumeConfirm     float64 // c9
	LipuchkaPenalty   float64 // c10
	Overextension     float64 // c11
}

// Total sums the eleven components into the raw Action Price score.
func (c ScoreComponents) Total() float64 {
	return c.InitiatorSize + c.EMA200Proximity + c.PullbackDepth + c.EMA200Slope +
		c.FanCompactness + c.RetestTag + c.BreakAndBase + c.RejectionWick +
		c.VolumeConfirm + c.LipuchkaPenalty + c.Overextension
}

// ActionPriceSignal carries the same lifecycle skeleton as Signal plus the
// extras specific to the EMA200-body-cross recognizer (spec §3, §4.5).
type ActionPriceSignal struct {
	Signal

	Mode              Mode
	Components        ScoreComponents
	InitiatorTS       time.Time
	ConfirmOpen       decimal.Decimal
	ConfirmHigh       decimal.Decimal
	ConfirmLow        decimal.Decimal
	ConfirmClose      decimal.Decimal
	EMA200AtEntry     decimal.Decimal

	// RunnerPnLPct is the signed return contributed by the trailing 30% tier
	// once it closes on TRAILING or TIME_STOP after TP2.
	RunnerPnLPct decimal.Decimal
}

// TP2Multiple returns the R-multiple used for TP2 given the selected mode
// (spec §4.5: 1.5R for SCALP, 2R for STANDARD).
func (m Mode) TP2Multiple() float64 {
	if m == ModeScalp {
		return 1.5
	}
	return 2.0
}
