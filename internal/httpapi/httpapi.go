// Package httpapi exposes the read-only status/signals surface the
// "health" CLI verb talks to (spec §6): active signals and the rate
// limiter's ledger snapshot. Grounded on
// vannsoklay-smc-bot's api-gateway/internal/handler, the one repo in the
// retrieval pack that wires gin to a signal store.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/ratelimit"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/signal"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/store"
	"github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/tracker"
)

// Deps are the read-only sources routes are allowed to query. Nothing
// under this package ever mutates a signal, a lock or the rate ledger.
type Deps struct {
	Signals store.SignalStore
	Limiter *ratelimit.Limiter
	Tracker *tracker.Tracker // optional; /stats is omitted if nil
}

// RegisterRoutes wires /health, /signals and /signals/:symbol onto r.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	r.GET("/health", func(c *gin.Context) {
		snap := deps.Limiter.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"rate_used":    snap.Used,
			"rate_limit":   snap.HardLimit,
			"rate_bucket":  snap.BucketStart,
			"banned_until": snap.BanUntil,
		})
	})

	r.GET("/signals", func(c *gin.Context) {
		out, err := activeSignals(c, deps.Signals)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/signals/:symbol", func(c *gin.Context) {
		symbol := c.Param("symbol")
		out, err := activeSignals(c, deps.Signals)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		filtered := out[:0]
		for _, s := range out {
			if s.Symbol == symbol {
				filtered = append(filtered, s)
			}
		}
		c.JSON(http.StatusOK, filtered)
	})

	if deps.Tracker != nil {
		r.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Tracker.StatsByReason())
		})
	}
}

func activeSignals(c *gin.Context, s store.SignalStore) ([]*signal.Signal, error) {
	base, err := s.Active(c.Request.Context())
	if err != nil {
		return nil, err
	}
	ap, err := s.ActiveActionPrice(c.Request.Context())
	if err != nil {
		return nil, err
	}
	out := make([]*signal.Signal, 0, len(base)+len(ap))
	out = append(out, base...)
	for _, s := range ap {
		out = append(out, &s.Signal)
	}
	return out, nil
}

// NewEngine builds a gin.Engine in release mode with routes registered,
// ready for (*gin.Engine).Run.
func NewEngine(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, deps)
	return r
}
