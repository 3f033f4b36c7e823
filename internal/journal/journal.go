// Package journal appends the two observability logs spec §6 requires: a
// signal lifecycle log (one line per create and per terminal transition)
// and a scoring decision log (one line per scored proposal). Both are
// append-only JSON-lines files.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/scorer"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
)

// SignalEventKind names the moment being journaled.
type SignalEventKind string

const (
	SignalCreated SignalEventKind = "CREATED"
	SignalClosed  SignalEventKind = "CLOSED"
)

// SignalEvent is one line of the signal lifecycle log.
type SignalEvent struct {
	Kind         SignalEventKind `json:"kind"`
	Timestamp    time.Time       `json:"ts"`
	Symbol       string          `json:"symbol"`
	StrategyName string          `json:"strategy_name"`
	Direction    signal.Direction `json:"direction"`
	Entry        string          `json:"entry"`
	SL           string          `json:"sl"`
	TP1          string          `json:"tp1"`
	TP2          string          `json:"tp2,omitempty"`
	Status       signal.Status   `json:"status"`
	ExitReason   signal.ExitReason `json:"exit_reason,omitempty"`
	MFE          string          `json:"mfe,omitempty"`
	MAE          string          `json:"mae,omitempty"`
	FinalPnLPct  string          `json:"final_pnl_pct,omitempty"`
}

// NewSignalEvent snapshots sig's pricing and lifecycle fields for the log.
func NewSignalEvent(kind SignalEventKind, sig *signal.Signal, now time.Time) SignalEvent {
	ev := SignalEvent{
		Kind: kind, Timestamp: now, Symbol: sig.Symbol, StrategyName: sig.StrategyName,
		Direction: sig.Direction, Entry: sig.Entry.String(), SL: sig.SL.String(), TP1: sig.TP1.String(),
		Status: sig.Status, ExitReason: sig.ExitReason,
	}
	if sig.HasTP2 {
		ev.TP2 = sig.TP2.String()
	}
	if kind == SignalClosed {
		ev.MFE = sig.MFE.String()
		ev.MAE = sig.MAE.String()
		ev.FinalPnLPct = sig.FinalPnLPct.String()
	}
	return ev
}

// ScoringEvent is one line of the scoring decision log.
type ScoringEvent struct {
	Timestamp    time.Time `json:"ts"`
	Symbol       string    `json:"symbol"`
	StrategyName string    `json:"strategy_name"`
	Direction    signal.Direction `json:"direction"`
	FactorCount  int       `json:"factor_count"`
	Factors      []string  `json:"factors"`
	RegimeWeight float64   `json:"regime_weight"`
	FinalScore   float64   `json:"final_score"`
	Accepted     bool      `json:"accepted"`
	RejectReason string    `json:"reject_reason,omitempty"`
}

// NewScoringEvent adapts a scorer.Scored result for the log.
func NewScoringEvent(s scorer.Scored, now time.Time) ScoringEvent {
	return ScoringEvent{
		Timestamp: now, Symbol: s.Symbol, StrategyName: s.Proposal.StrategyName,
		Direction: s.Proposal.Direction, FactorCount: s.FactorCount, Factors: s.Factors,
		RegimeWeight: s.RegimeWeight, FinalScore: s.FinalScore, Accepted: s.Accepted, RejectReason: s.RejectReason,
	}
}

type jsonlFile struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func openJSONL(path string) (*jsonlFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &jsonlFile{file: f, enc: json.NewEncoder(f)}, nil
}

func (j *jsonlFile) write(v any, log zerolog.Logger, what string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(v); err != nil {
		log.Error().Err(err).Str("journal", what).Msg("journal write failed")
	}
}

func (j *jsonlFile) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Journal owns both append-only logs.
type Journal struct {
	signals *jsonlFile
	scoring *jsonlFile
	log     zerolog.Logger
}

// Open creates/opens signals.jsonl and scoring.jsonl under dir.
func Open(dir string, log zerolog.Logger) (*Journal, error) {
	signals, err := openJSONL(filepath.Join(dir, "signals.jsonl"))
	if err != nil {
		return nil, err
	}
	scoring, err := openJSONL(filepath.Join(dir, "scoring.jsonl"))
	if err != nil {
		_ = signals.close()
		return nil, err
	}
	return &Journal{signals: signals, scoring: scoring, log: log}, nil
}

// LogSignal appends a signal lifecycle event. Write failures are logged,
// not returned: a journal outage must never abort the tracker or the
// signal-creation path (spec §7: no silent drops, but never fatal either).
func (j *Journal) LogSignal(ev SignalEvent) {
	j.signals.write(ev, j.log, "signals")
}

// LogScoring appends a scoring decision event.
func (j *Journal) LogScoring(ev ScoringEvent) {
	j.scoring.write(ev, j.log, "scoring")
}

// Close flushes and closes both underlying files.
func (j *Journal) Close() error {
	err1 := j.signals.close()
	err2 := j.scoring.close()
	if err1 != nil {
		return err1
	}
	return err2
}
