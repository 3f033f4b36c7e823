// Package config exposes strongly typed application configuration structs
// loaded from YAML, the same shape as the teacher's config.Load/Save.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	JournalDir  string `yaml:"journal_dir"`
}

// Exchange describes the centralized-exchange connectivity parameters.
type Exchange struct {
	Symbols   []string `yaml:"symbols"`
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	Testnet   bool     `yaml:"testnet"`
}

// Rate mirrors R1's tunables.
type Rate struct {
	HardLimit         int     `yaml:"hard_limit"`
	ThresholdFraction float64 `yaml:"threshold_fraction"`
	WindowSeconds     int     `yaml:"window_seconds"`
}

// Loader mirrors D1's tunables.
type Loader struct {
	ParallelMax        int `yaml:"parallel_max"`
	RefreshHorizonDays int `yaml:"refresh_horizon_days"`
	SettleDelaySec     int `yaml:"settle_delay_sec"`
}

// Engine mirrors M0's cadence knobs.
type Engine struct {
	TimeframeMinutes  int `yaml:"timeframe_minutes"`
	SettleDelaySeconds int `yaml:"settle_delay_seconds"`
	CPUPoolSize       int `yaml:"cpu_pool_size"`
	LockTTLHours      int `yaml:"lock_ttl_hours"`
}

// Tracker mirrors T1's exit-resolution tunables (spec §4.8).
type Tracker struct {
	CadenceSec           int     `yaml:"cadence_sec"`
	TimeStopBars         int     `yaml:"time_stop_bars"`
	PostTP2TimeStopHours float64 `yaml:"post_tp2_time_stop_hours"`
	TrailATRMult         float64 `yaml:"trail_atr_mult"`
	TP1Fraction          float64 `yaml:"tp1_fraction"`
	TP2Fraction          float64 `yaml:"tp2_fraction"`
	RunnerFraction       float64 `yaml:"runner_fraction"`
}

// Cadence returns the configured tracker check interval, defaulting to 60s.
func (t Tracker) Cadence() time.Duration {
	if t.CadenceSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(t.CadenceSec) * time.Second
}

// Scorer mirrors S3's threshold/weighting tunables (spec §4.6).
type Scorer struct {
	MinTotalScore float64 `yaml:"min_total_score"`
}

// ActionPrice mirrors the EMA200-body-cross recognizer's tunables (spec §4.5).
type ActionPrice struct {
	MaxSLPercent  float64 `yaml:"max_sl_percent"`
	MinTotalScore float64 `yaml:"min_total_score"`
}

// MarketDetector mirrors S1's regime-classification thresholds.
type MarketDetector struct {
	ADXThreshold        float64 `yaml:"adx_threshold"`
	BBPercentileThresh  float64 `yaml:"bb_percentile_threshold"`
	SqueezeBBPercentile float64 `yaml:"squeeze_bb_percentile"`
	SqueezeMinBars      int     `yaml:"squeeze_min_bars"`
	LateTrendATRMult    float64 `yaml:"late_trend_atr_mult"`
	SlopeThresholdPct   float64 `yaml:"slope_threshold_pct"`
}

// Zones mirrors D3's swing/impulse construction tunables.
type Zones struct {
	MergeDistancePct float64 `yaml:"merge_distance_pct"`
	TopN             int     `yaml:"top_n"`
	BrokenCloses     int     `yaml:"broken_closes"`
}

// Store selects and configures the persistence backend.
type Store struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	DSN    string `yaml:"dsn"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App            App            `yaml:"app"`
	Exchange       Exchange       `yaml:"exchange"`
	Rate           Rate           `yaml:"rate"`
	Loader         Loader         `yaml:"loader"`
	Engine         Engine         `yaml:"engine"`
	Tracker        Tracker        `yaml:"tracker"`
	Scorer         Scorer         `yaml:"scorer"`
	ActionPrice    ActionPrice    `yaml:"action_price"`
	MarketDetector MarketDetector `yaml:"market_detector"`
	Zones          Zones          `yaml:"zones"`
	Store          Store          `yaml:"store"`
}

// Load reads a YAML file from disk, best-effort overlays a .env file
// alongside it for secrets, and hydrates a Config struct. Unrecognized
// keys are rejected rather than silently ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; exchange keys usually come from the environment

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EngineTimeframe returns the configured cadence as a time.Duration,
// defaulting to 15 minutes when unset.
func (e Engine) EngineTimeframe() time.Duration {
	if e.TimeframeMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(e.TimeframeMinutes) * time.Minute
}

// SettleDelay returns the configured settle delay as a time.Duration.
func (e Engine) SettleDelay() time.Duration {
	return time.Duration(e.SettleDelaySeconds) * time.Second
}

// LockTTL returns the configured lock TTL as a time.Duration.
func (e Engine) LockTTL() time.Duration {
	if e.LockTTLHours <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(e.LockTTLHours) * time.Hour
}
