package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "signal-engine-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if len(cfg.Exchange.Symbols) != 2 || cfg.Exchange.Symbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected symbols: %+v", cfg.Exchange.Symbols)
	}
	if !cfg.Exchange.Testnet {
		t.Fatalf("expected testnet true")
	}
	if cfg.Rate.HardLimit != 2400 {
		t.Fatalf("unexpected rate hard limit: %d", cfg.Rate.HardLimit)
	}
	if cfg.Loader.ParallelMax != 4 {
		t.Fatalf("unexpected loader parallel max: %d", cfg.Loader.ParallelMax)
	}
	if cfg.Loader.SettleDelaySec != 31 {
		t.Fatalf("unexpected loader settle delay: %d", cfg.Loader.SettleDelaySec)
	}
	if cfg.Engine.EngineTimeframe() != 15*time.Minute {
		t.Fatalf("unexpected engine timeframe: %v", cfg.Engine.EngineTimeframe())
	}
	if cfg.Engine.LockTTL() != 6*time.Hour {
		t.Fatalf("unexpected lock ttl: %v", cfg.Engine.LockTTL())
	}
	if cfg.Tracker.Cadence() != 60*time.Second {
		t.Fatalf("unexpected tracker cadence: %v", cfg.Tracker.Cadence())
	}
	if cfg.Tracker.TimeStopBars != 12 {
		t.Fatalf("unexpected time stop bars: %d", cfg.Tracker.TimeStopBars)
	}
	if cfg.Tracker.TP1Fraction != 0.30 || cfg.Tracker.TP2Fraction != 0.40 || cfg.Tracker.RunnerFraction != 0.30 {
		t.Fatalf("unexpected partial-exit fractions: %+v", cfg.Tracker)
	}
	if cfg.Scorer.MinTotalScore != 4.0 {
		t.Fatalf("unexpected scorer threshold: %.2f", cfg.Scorer.MinTotalScore)
	}
	if cfg.ActionPrice.MaxSLPercent != 1.5 {
		t.Fatalf("unexpected action price max SL: %.2f", cfg.ActionPrice.MaxSLPercent)
	}
	if cfg.MarketDetector.ADXThreshold != 25 {
		t.Fatalf("unexpected ADX threshold: %.2f", cfg.MarketDetector.ADXThreshold)
	}
	if cfg.Zones.TopN != 5 {
		t.Fatalf("unexpected zones top N: %d", cfg.Zones.TopN)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("unexpected store driver: %s", cfg.Store.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	bad := []byte("app:\n  name: x\nbogus_top_level_key: true\n")
	if err := os.WriteFile(path, bad, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected KnownFields(true) to reject an unrecognized key")
	}
}
