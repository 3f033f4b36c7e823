// Command botctl runs the perpetual futures signal engine. It mirrors the
// teacher's cmd/paper/main.go wiring: load config, start metrics, build
// the collaborator graph, run until SIGINT/SIGTERM, shut down cleanly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/actionprice"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/config"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/engine"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/exchange"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/httpapi"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/indicator"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/journal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/loader"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/lock"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/metrics"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/ratelimit"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/regime"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/scorer"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/strategy"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/tracker"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/util"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/zone"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.App.LogLevel)

	switch os.Args[1] {
	case "start":
		runStart(cfg, log)
	case "refresh":
		runRefresh(cfg, log, os.Args[2:])
	case "health":
		runHealth(cfg, log)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: botctl <start|refresh [symbol [days]]|health>")
}

func configPath() string {
	if v := os.Getenv("BOTCTL_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

type app struct {
	loader  *loader.Loader
	engine  *engine.Engine
	limiter *ratelimit.Limiter
	signals store.SignalStore
	tracker *tracker.Tracker
	log     zerolog.Logger
}

func build(cfg *config.Config, log zerolog.Logger) (*app, error) {
	limiter := ratelimit.New(cfg.Rate.HardLimit, log.With().Str("component", "ratelimit").Logger(),
		ratelimit.WithThresholdFraction(cfg.Rate.ThresholdFraction))
	client := exchange.New(limiter, log.With().Str("component", "exchange").Logger())

	candleStore, signalStore, lockStore, err := openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}

	ld := loader.New(client, candleStore, log.With().Str("component", "loader").Logger(),
		loader.WithConcurrency(cfg.Loader.ParallelMax),
		loader.WithSettleDelay(time.Duration(cfg.Loader.SettleDelaySec)*time.Second))

	cache := indicator.NewCache()
	zones := zone.NewRegistry()
	locks := lock.New(lockStore)

	sc := scorer.New(scorer.Config{EnterThreshold: cfg.Scorer.MinTotalScore}, strategy.DefaultRegimeWeights())

	ap := actionprice.New(actionprice.Config{
		MaxSLPercent:  cfg.ActionPrice.MaxSLPercent,
		MinTotalScore: cfg.ActionPrice.MinTotalScore,
	})

	trk := tracker.New(tracker.Config{
		TimeStopBars:         cfg.Tracker.TimeStopBars,
		PostTP2TimeStopHours: cfg.Tracker.PostTP2TimeStopHours,
		TrailATRMult:         cfg.Tracker.TrailATRMult,
		TP1Fraction:          cfg.Tracker.TP1Fraction,
		TP2Fraction:          cfg.Tracker.TP2Fraction,
		RunnerFraction:       cfg.Tracker.RunnerFraction,
	}, signalStore, locks)

	jrn, err := journal.Open(cfg.App.JournalDir, log.With().Str("component", "journal").Logger())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	regimeCfg := regime.Config{
		ADXThreshold:        cfg.MarketDetector.ADXThreshold,
		BBPercentileThresh:  cfg.MarketDetector.BBPercentileThresh,
		SqueezeBBPercentile: cfg.MarketDetector.SqueezeBBPercentile,
		SqueezeMinBars:      cfg.MarketDetector.SqueezeMinBars,
		LateTrendATRMult:    cfg.MarketDetector.LateTrendATRMult,
		SlopeThresholdPct:   cfg.MarketDetector.SlopeThresholdPct,
	}

	eng := engine.New(engine.Config{
		Symbols:            cfg.Exchange.Symbols,
		Timeframe:          cfg.Engine.EngineTimeframe(),
		SettleDelay:        cfg.Engine.SettleDelay(),
		RefreshHorizonDays: cfg.Loader.RefreshHorizonDays,
		CPUPoolSize:        cfg.Engine.CPUPoolSize,
		LockTTL:            cfg.Engine.LockTTL(),
		TrackerCadence:     cfg.Tracker.Cadence(),
	}, engine.Deps{
		Loader:      ld,
		Exchange:    client,
		Cache:       cache,
		Zones:       zones,
		Strategies:  strategy.DefaultSet(),
		ActionPrice: ap,
		Scorer:      sc,
		Locks:       locks,
		Signals:     signalStore,
		Tracker:     trk,
		Journal:     jrn,
		Log:         log,
		RegimeCfg:   regimeCfg,
	})

	return &app{loader: ld, engine: eng, limiter: limiter, signals: signalStore, tracker: trk, log: log}, nil
}

func openStores(cfg *config.Config) (store.CandleStore, store.SignalStore, store.LockStore, error) {
	if cfg.Store.Driver != "postgres" {
		return store.NewMemoryCandleStore(), store.NewMemorySignalStore(), store.NewMemoryLockStore(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.Store.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	candles, err := store.NewGormCandleStore(db)
	if err != nil {
		return nil, nil, nil, err
	}
	signals, err := store.NewGormSignalStore(db)
	if err != nil {
		return nil, nil, nil, err
	}
	locks, err := store.NewGormLockStore(db)
	if err != nil {
		return nil, nil, nil, err
	}
	return candles, signals, locks, nil
}

func runStart(cfg *config.Config, log zerolog.Logger) {
	a, err := build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build application")
	}

	metricsSrv := metrics.Serve(cfg.App.MetricsAddr)
	defer metricsSrv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	api := httpapi.NewEngine(httpapi.Deps{Signals: a.signals, Limiter: a.limiter, Tracker: a.tracker})
	go func() {
		if err := api.Run(cfg.App.HTTPAddr); err != nil {
			log.Error().Err(err).Msg("http api stopped")
		}
	}()
	log.Info().Str("addr", cfg.App.HTTPAddr).Msg("http api up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.engine.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutdown complete")
}

func runRefresh(cfg *config.Config, log zerolog.Logger, args []string) {
	a, err := build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build application")
	}

	symbols := cfg.Exchange.Symbols
	days := cfg.Loader.RefreshHorizonDays
	if len(args) >= 1 {
		symbols = []string{args[0]}
	}
	if len(args) >= 2 {
		fmt.Sscanf(args[1], "%d", &days)
	}

	if err := a.loader.RefreshRecent(context.Background(), symbols, days); err != nil {
		log.Fatal().Err(err).Msg("refresh failed")
	}
	log.Info().Strs("symbols", symbols).Int("days", days).Msg("refresh complete")
}

// runHealth queries a running instance's /health endpoint rather than
// building its own limiter, which would always report zero usage.
func runHealth(cfg *config.Config, log zerolog.Logger) {
	url := "http://localhost" + cfg.App.HTTPAddr + "/health"
	resp, err := http.Get(url)
	if err != nil {
		log.Fatal().Err(err).Str("url", url).Msg("health request failed")
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatal().Err(err).Msg("decode health response")
	}
	fmt.Printf("status=%v rate_used=%v rate_limit=%v banned_until=%v\n",
		body["status"], body["rate_used"], body["rate_limit"], body["banned_until"])

	statsResp, err := http.Get("http://localhost" + cfg.App.HTTPAddr + "/stats")
	if err != nil {
		return
	}
	defer statsResp.Body.Close()
	var stats map[string]int
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		return
	}
	fmt.Printf("closed by reason: %v\n", stats)
}
