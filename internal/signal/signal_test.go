package signal

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestValidateLongOrdering(t *testing.T) {
	s := Signal{
		Direction: Long,
		SL:        d(98), Entry: d(100), TP1: d(102), TP2: d(104), HasTP2: true,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid LONG ordering, got %v", err)
	}
}

func TestValidateLongRejectsBadOrdering(t *testing.T) {
	s := Signal{
		Direction: Long,
		SL:        d(101), Entry: d(100), TP1: d(102),
	}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error when sl > entry for LONG")
	}
}

func TestValidateShortOrdering(t *testing.T) {
	s := Signal{
		Direction: Short,
		SL:        d(51), Entry: d(50), TP1: d(49), TP2: d(48.5), HasTP2: true,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid SHORT ordering, got %v", err)
	}
}

func TestValidateShortRejectsBadOrdering(t *testing.T) {
	s := Signal{
		Direction: Short,
		SL:        d(49), Entry: d(50), TP1: d(49.5),
	}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error when sl < entry for SHORT")
	}
}

func TestScoreComponentsTotal(t *testing.T) {
	c := ScoreComponents{InitiatorSize: 2, EMA200Proximity: 1, VolumeConfirm: 2, LipuchkaPenalty: -2}
	if got := c.Total(); got != 3 {
		t.Fatalf("expected total 3, got %v", got)
	}
}

func TestModeTP2Multiple(t *testing.T) {
	if ModeScalp.TP2Multiple() != 1.5 {
		t.Fatalf("scalp should be 1.5R")
	}
	if ModeStandard.TP2Multiple() != 2.0 {
		t.Fatalf("standard should be 2R")
	}
}
