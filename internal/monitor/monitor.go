// Package monitor implements the Position Monitor (C9): a periodic
// re-scoring pass over open holdings that emits proactive exit signals, and
// the supplemented daily digest (SPEC_FULL.md §C.3), grounded on
// original_source/Departments/Operations/daily_position_monitor.py.
package monitor

import (
	"context"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/formulas"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/aristath/sentinel-trader/internal/stages"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scoreDowngradeFloor is the fixed composite threshold below which a losing
// position exits (spec.md §4.9 step 3): new_composite < 55 AND the position
// currently shows a negative P&L.
const scoreDowngradeFloor = 55.0

// Config carries the thresholds the Position Monitor checks each holding
// against.
type Config struct {
	MaxHoldDays int // default 30, triggers ExitTimeBased
	Fanout      int
}

func (c Config) withDefaults() Config {
	if c.MaxHoldDays == 0 {
		c.MaxHoldDays = 30
	}
	if c.Fanout == 0 {
		c.Fanout = 5
	}
	return c
}

// Deps bundles the collaborators one monitor cycle needs.
type Deps struct {
	MarketData providers.MarketData
	Sentiment  providers.Sentiment
	EntryDates *store.EntryDateRepository
	Snapshots  *store.SnapshotRepository
	Log        zerolog.Logger
}

// CycleResult is the outcome of one monitor pass: the exit signals raised
// and the digest summary (SPEC_FULL.md §C.3).
type CycleResult struct {
	Exits        []domain.ExitSignal
	ScoredCount  int
	WorstTicker  domain.Ticker
	WorstScore   float64
}

// RunCycle re-scores every open holding and emits exit signals for stop
// hits, target hits, time-based exits, and score-downgrade exits, never
// removing a holding itself — actual order submission remains the
// Coordinator/Compliance's job downstream of this advisory pass.
func RunCycle(ctx context.Context, deps Deps, cfg Config, holdings []domain.Holding, now time.Time) CycleResult {
	cfg = cfg.withDefaults()

	type scored struct {
		holding domain.Holding
		score   float64
		atr     float64
	}

	results := stages.FanOut(holdings, cfg.Fanout, func(h domain.Holding) scored {
		end := now
		start := end.AddDate(0, 0, -60)
		bars, err := deps.MarketData.GetBars(ctx, h.Ticker, start, end)
		if err != nil || len(bars) < 15 {
			return scored{holding: h, score: 50, atr: 0}
		}
		closes := make([]float64, len(bars))
		highs := make([]float64, len(bars))
		lows := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
			highs[i] = b.High
			lows[i] = b.Low
		}
		rsi := 50.0
		if r := formulas.RSI(closes, 14); r != nil {
			rsi = *r
		}
		macd := formulas.MACD(closes)
		macdScore := 15.0
		switch macd {
		case formulas.MACDBullish:
			macdScore = 30
		case formulas.MACDBearish:
			macdScore = 0
		}
		rsiScore := formulas.Band(rsi, 40, 60, 40)
		atr := formulas.ATR(highs, lows, closes, 14)
		atrVal := 0.0
		if atr != nil {
			atrVal = *atr
		}
		return scored{holding: h, score: rsiScore + macdScore, atr: atrVal}
	})

	var exits []domain.ExitSignal
	var worstTicker domain.Ticker
	worstScore := 1e9

	for _, r := range results {
		h := r.holding
		if r.score < worstScore {
			worstScore = r.score
			worstTicker = h.Ticker
		}

		entry, _ := deps.EntryDates.Get(h.Ticker)

		// Stop/target checks run regardless of whether the entry date is
		// known; only the hold-duration check needs it (spec.md §4.9 step 3,
		// §9 Open Question resolution).
		switch {
		case r.atr > 0 && h.CurrentPrice <= h.AvgEntryPrice-2*r.atr:
			exits = append(exits, domain.ExitSignal{Ticker: h.Ticker, Reason: domain.ExitStopHit,
				Detail: "price fell through the 2xATR stop distance"})
		case r.atr > 0 && h.CurrentPrice >= h.AvgEntryPrice+4*r.atr:
			exits = append(exits, domain.ExitSignal{Ticker: h.Ticker, Reason: domain.ExitTargetHit,
				Detail: "price reached the 4xATR target distance"})
		case entry != nil && now.Sub(entry.EntryDate) > time.Duration(cfg.MaxHoldDays)*24*time.Hour:
			exits = append(exits, domain.ExitSignal{Ticker: h.Ticker, Reason: domain.ExitTimeBased,
				Detail: "position held beyond the maximum swing-hold window"})
		case r.score < scoreDowngradeFloor && h.CurrentPrice < h.AvgEntryPrice:
			exits = append(exits, domain.ExitSignal{Ticker: h.Ticker, Reason: domain.ExitScoreDowngrade,
				Detail: "re-scored composite fell below 55 while the position shows a loss"})
		}
	}

	if len(results) == 0 {
		worstScore = 0
	}

	snapshot := domain.PortfolioSnapshot{
		SnapshotID:     uuid.NewString(),
		Timestamp:      now,
		PositionsCount: len(holdings),
		Source:         "position_monitor",
		Notes:          "periodic re-score cycle",
	}
	if err := deps.Snapshots.Insert(snapshot); err != nil {
		deps.Log.Warn().Err(err).Msg("failed to persist position monitor snapshot")
	}

	deps.Log.Info().Int("scored", len(results)).Int("exits", len(exits)).
		Str("worst_ticker", string(worstTicker)).Float64("worst_score", worstScore).
		Msg("position monitor cycle digest")

	return CycleResult{
		Exits:       exits,
		ScoredCount: len(results),
		WorstTicker: worstTicker,
		WorstScore:  worstScore,
	}
}
