// Package signal standardizes the domain types shared by strategies, the
// scorer and the performance tracker: directions, lifecycle states and the
// Signal/ActionPriceSignal records themselves (spec §3).
package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the bias of a signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the mirror direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Status is the lifecycle state of a signal.
type Status string

const (
	Pending Status = "PENDING"
	Active  Status = "ACTIVE"
	Closed  Status = "CLOSED"
)

// ExitReason names the terminal transition that closed a signal.
type ExitReason string

const (
	ExitTP1        ExitReason = "TP1"
	ExitTP2        ExitReason = "TP2"
	ExitTrailing   ExitReason = "TRAILING"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitBreakeven  ExitReason = "BREAKEVEN"
	ExitTimeStop   ExitReason = "TIME_STOP"
	ExitNone       ExitReason = ""
)

// Regime mirrors the tag produced by the regime detector (S1); duplicated
// here (rather than imported) so this package has no dependency on internal/regime.
type Regime string

const (
	RegimeTrend     Regime = "TREND"
	RegimeSqueeze   Regime = "SQUEEZE"
	RegimeRange     Regime = "RANGE"
	RegimeChop      Regime = "CHOP"
	RegimeUndecided Regime = "UNDECIDED"
)

// Meta is the tagged-variant + opaque side-channel described in spec §9:
// recognized fields get first-class treatment, everything else rides in
// Extra without needing a schema change.
type Meta struct {
	FactorFlags   []string           `json:"factor_flags,omitempty"`
	RegimeWeight  float64            `json:"regime_weight,omitempty"`
	FinalScore    float64            `json:"final_score,omitempty"`
	BaseScore     float64            `json:"base_score,omitempty"`
	Extra         map[string]float64 `json:"extra,omitempty"`
}

// Signal is a committed trading signal tracked to completion by internal/tracker.
type Signal struct {
	ID           string
	Symbol       string
	StrategyName string
	Direction    Direction

	Entry decimal.Decimal
	SL    decimal.Decimal
	TP1   decimal.Decimal
	TP2   decimal.Decimal // zero value if absent
	TP3   decimal.Decimal // zero value if absent
	HasTP2 bool
	HasTP3 bool

	TP1Hit       bool
	TP1ClosedAt  time.Time
	TP1PnLPct    decimal.Decimal
	TP2Hit       bool
	TP2ClosedAt  time.Time
	TP2PnLPct    decimal.Decimal
	TrailingActive     bool
	TrailingPeakPrice  decimal.Decimal

	Status     Status
	ExitReason ExitReason
	CreatedAt  time.Time
	ClosedAt   time.Time
	BarsToExit int
	MFE        decimal.Decimal // R-multiples
	MAE        decimal.Decimal // R-multiples
	FinalPnLPct decimal.Decimal

	MarketRegime     Regime
	ConfidenceScore  float64
	Meta             Meta
}

// InitialRisk returns |entry - initial stop loss|, the R unit used for MFE/MAE.
// The initial SL is reconstructed from context passed by the caller because
// SL moves to breakeven after TP1 — callers that need the ORIGINAL risk must
// track it separately (tracker.ActiveSignal does).
func (s Signal) InitialRisk(initialSL decimal.Decimal) decimal.Decimal {
	return s.Entry.Sub(initialSL).Abs()
}

// LockKey identifies the at-most-one-active-signal guard this signal occupies.
func (s Signal) LockKey() LockKey {
	return LockKey{Symbol: s.Symbol, Direction: s.Direction, StrategyName: s.StrategyName}
}

// LockKey is the composite key of a signal lock (spec §3, §4.7).
type LockKey struct {
	Symbol       string
	Direction    Direction
	StrategyName string
}

// Validate checks the ordering invariant of spec §8.1: for LONG,
// sl < entry < tp1 < tp2? < tp3?; mirrored for SHORT.
func (s Signal) Validate() error {
	return validateLevels(s.Direction, s.SL, s.Entry, s.TP1, optional(s.HasTP2, s.TP2), optional(s.HasTP3, s.TP3))
}

func optional(present bool, v decimal.Decimal) *decimal.Decimal {
	if !present {
		return nil
	}
	return &v
}

func validateLevels(dir Direction, sl, entry, tp1 decimal.Decimal, tp2, tp3 *decimal.Decimal) error {
	levels := []decimal.Decimal{sl, entry, tp1}
	if tp2 != nil {
		levels = append(levels, *tp2)
	}
	if tp3 != nil {
		levels = append(levels, *tp3)
	}
	for i := 1; i < len(levels); i++ {
		if dir == Long {
			if !levels[i].GreaterThan(levels[i-1]) {
				return errNotStrictlyIncreasing
			}
		} else {
			if !levels[i].LessThan(levels[i-1]) {
				return errNotStrictlyDecreasing
			}
		}
	}
	return nil
}
