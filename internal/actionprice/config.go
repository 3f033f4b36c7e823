// Package actionprice implements the EMA200 body-cross recognizer that runs
// alongside the six core strategies (spec §4.5): an initiator bar whose body
// crosses EMA200 confirmed by the following bar, scored across eleven
// additive/subtractive components into a STANDARD/SCALP/SKIP mode.
package actionprice

// Config tunes the body-cross detector, its scoring components and its
// SL/TP placement. Zero-value fields fall back to the documented defaults
// via withDefaults, the same pattern internal/zone and internal/regime use.
type Config struct {
	ATRLength      int
	ATRMultiplier  float64
	SwingLength    int

	MinTotalScore     float64 // hard floor below which no signal is produced
	StandardThreshold float64 // total >= this selects STANDARD over SCALP

	SLBufferATR  float64
	MaxSLPercent float64 // |entry-sl|/entry hard cap

	TP1RR float64 // R-multiple for TP1 (all modes)

	VolumeStrongMultiplier float64 // >= this * 20-bar mean volume -> +2
	VolumeWeakMultiplier   float64 // >= this * 20-bar mean volume -> +1
	VolumeMinMultiplier    float64 // <  this * 20-bar mean volume -> -1

	OverextensionATRMult float64 // |close-EMA200|/ATR beyond this -> -2

	LipuchkaTouches int // prior EMA200 touches at/above this -> -2
	TouchLookback   int // bars scanned before the initiator for lipuchka
	BreakBaseLookback int
	RetestLookback    int
	SlopeLookback     int // bars back EMA200 slope is measured over
}

func (c Config) withDefaults() Config {
	if c.ATRLength <= 0 {
		c.ATRLength = 14
	}
	if c.ATRMultiplier <= 0 {
		c.ATRMultiplier = 1.5
	}
	if c.SwingLength <= 0 {
		c.SwingLength = 20
	}
	if c.MinTotalScore <= 0 {
		c.MinTotalScore = 6.0
	}
	if c.StandardThreshold <= 0 {
		c.StandardThreshold = 8.0
	}
	if c.SLBufferATR <= 0 {
		c.SLBufferATR = 0.1
	}
	if c.MaxSLPercent <= 0 {
		c.MaxSLPercent = 15.0
	}
	if c.TP1RR <= 0 {
		c.TP1RR = 1.0
	}
	if c.VolumeStrongMultiplier <= 0 {
		c.VolumeStrongMultiplier = 1.5
	}
	if c.VolumeWeakMultiplier <= 0 {
		c.VolumeWeakMultiplier = 1.1
	}
	if c.VolumeMinMultiplier <= 0 {
		c.VolumeMinMultiplier = 0.7
	}
	if c.OverextensionATRMult <= 0 {
		c.OverextensionATRMult = 3.0
	}
	if c.LipuchkaTouches <= 0 {
		c.LipuchkaTouches = 3
	}
	if c.TouchLookback <= 0 {
		c.TouchLookback = 5
	}
	if c.BreakBaseLookback <= 0 {
		c.BreakBaseLookback = 3
	}
	if c.RetestLookback <= 0 {
		c.RetestLookback = 5
	}
	if c.SlopeLookback <= 0 {
		c.SlopeLookback = 10
	}
	return c
}
