// Package realism implements the Realism Simulator (C10): pattern-day-trade
// tracking, a slippage model, margin interest accrual, entry-date
// bookkeeping, and the supplemented paper/live mode-flip detector
// (SPEC_FULL.md §C.4), grounded on
// original_source/Departments/Operations/realism_simulator.py and
// Departments/Operations/mode_manager.py.
package realism

import (
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/rs/zerolog"
)

// EffectivePDTAccountValue clamps the account value used for PDT
// calculations to $24,999 regardless of real equity — spec.md §4.10's
// strictest-rule, fail-safe behavior. The real equity is never consulted to
// exempt an account from the PDT window check.
const EffectivePDTAccountValue = 24999.0

// PDTTracker is a ring-buffer of day trades (same ticker, BUY+SELL on the
// same date) over the trailing ~7 calendar days (spec.md §4.10).
type PDTTracker struct {
	window []time.Time
}

// RecordDayTrade appends a day-trade timestamp and prunes entries older than
// the trailing window.
func (t *PDTTracker) RecordDayTrade(at time.Time) {
	t.window = append(t.window, at)
	cutoff := at.AddDate(0, 0, -7)
	pruned := t.window[:0]
	for _, ts := range t.window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	t.window = pruned
}

// DayTradeCount reports the current trailing count.
func (t *PDTTracker) DayTradeCount() int { return len(t.window) }

// IsPatternDayTrader reports whether new trades must be blocked with
// PDT_VIOLATION: count >= 4 over the window (P10). The effective account
// value is always treated as below the $25k exemption threshold, so no
// equity argument is accepted — spec.md's "regardless of real value"
// fail-safe.
func (t *PDTTracker) IsPatternDayTrader() bool {
	return len(t.window) >= 4
}

// IsPDTWarning reports whether the account should emit PDT_WARNING: exactly
// 3 day trades over the window, one below the blocking threshold.
func (t *PDTTracker) IsPDTWarning() bool {
	return len(t.window) == 3
}

// SlippageModel estimates realistic fill cost for simulated orders: slippage
// widens as an order consumes more of the day's volume (spec.md §4.10).
type SlippageModel struct{}

// BasisPoints is clamp(2 + (shares/daily_volume)*(10-2), 2, 10). An unknown
// or zero daily volume is treated as the illiquid extreme (10bps).
func (SlippageModel) BasisPoints(shares, dailyVolume float64) float64 {
	if dailyVolume <= 0 {
		return 10
	}
	bps := 2 + (shares/dailyVolume)*8
	if bps < 2 {
		bps = 2
	}
	if bps > 10 {
		bps = 10
	}
	return bps
}

// EstimateCost returns the slippage cost in dollars for filling shares at
// quote against dailyVolume. Always non-negative: slippage is a cost on both
// sides of the book, not a price adjustment.
func (m SlippageModel) EstimateCost(quote, shares, dailyVolume float64) float64 {
	bps := m.BasisPoints(shares, dailyVolume)
	cost := quote * shares * (bps / 10000)
	if cost < 0 {
		cost = -cost
	}
	return cost
}

// MarginInterest computes interest accrued on margin used while a position
// was held, at spec.md §4.10's fixed annual rate of 12%.
func MarginInterest(marginUsed float64, daysHeld int) float64 {
	return marginUsed * 0.12 / 365 * float64(daysHeld)
}

// EntryDateTracker wraps the entry_dates table so the Position Monitor and
// Realism Simulator share one source of truth for how long a position has
// been held.
type EntryDateTracker struct {
	repo *store.EntryDateRepository
}

func NewEntryDateTracker(repo *store.EntryDateRepository) *EntryDateTracker {
	return &EntryDateTracker{repo: repo}
}

// RecordEntry upserts the entry date for a newly opened or added-to position.
func (e *EntryDateTracker) RecordEntry(ticker domain.Ticker, shares, price float64, at time.Time) error {
	return e.repo.Upsert(domain.EntryDate{
		Ticker: ticker, EntryDate: at, Shares: shares, EntryPrice: price, UpdatedAt: at,
	})
}

// RecordExit clears the entry date for a fully closed position.
func (e *EntryDateTracker) RecordExit(ticker domain.Ticker) error {
	return e.repo.Delete(ticker)
}

// Get looks up the recorded entry date for a ticker, nil if none is tracked.
func (e *EntryDateTracker) Get(ticker domain.Ticker) (*domain.EntryDate, error) {
	return e.repo.Get(ticker)
}

// ModeDetector implements the supplemented paper/live toggle audit
// (SPEC_FULL.md §C.4): it remembers the last observed broker mode and flags
// an unexpected flip.
type ModeDetector struct {
	lastPaper *bool
	log       zerolog.Logger
}

func NewModeDetector(log zerolog.Logger) *ModeDetector {
	return &ModeDetector{log: log.With().Str("component", "mode_detector").Logger()}
}

// Observe records the broker's current paper/live flag and returns a warning
// string if the mode flipped since the previous Observe call without an
// explicit operator confirmation. The last mode is held in memory only, so
// the first call on a new detector never reports a flip.
func (m *ModeDetector) Observe(isPaper bool, operatorConfirmed bool) (warning string, flipped bool) {
	if m.lastPaper == nil {
		v := isPaper
		m.lastPaper = &v
		return "", false
	}
	if *m.lastPaper != isPaper {
		flipped = true
		if !operatorConfirmed {
			warning = "broker mode flipped between paper and live without operator confirmation"
			m.log.Error().Bool("previous_paper", *m.lastPaper).Bool("current_paper", isPaper).
				Msg("unconfirmed paper/live mode flip detected")
		}
	}
	v := isPaper
	m.lastPaper = &v
	return warning, flipped
}
