package realism

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPDTTrackerWarnsAtExactlyThreeDayTrades(t *testing.T) {
	tr := &PDTTracker{}
	now := time.Now()
	tr.RecordDayTrade(now)
	tr.RecordDayTrade(now.Add(time.Hour))
	assert.False(t, tr.IsPDTWarning())
	assert.False(t, tr.IsPatternDayTrader())
	tr.RecordDayTrade(now.Add(2 * time.Hour))
	assert.True(t, tr.IsPDTWarning())
	assert.False(t, tr.IsPatternDayTrader())
}

func TestPDTTrackerBlocksAtExactlyFourDayTrades(t *testing.T) {
	// P10: PDT blocks fire at exactly 4 same-day round-trips in any rolling window.
	tr := &PDTTracker{}
	now := time.Now()
	for i := 0; i < 4; i++ {
		tr.RecordDayTrade(now.Add(time.Duration(i) * time.Hour))
	}
	assert.False(t, tr.IsPDTWarning())
	assert.True(t, tr.IsPatternDayTrader())
}

func TestPDTTrackerIgnoresRealEquityThreshold(t *testing.T) {
	// Effective account value is always capped below the $25k exemption
	// (spec.md §4.10), so IsPatternDayTrader takes no equity argument and
	// a high real-equity account still blocks once the count reaches 4.
	tr := &PDTTracker{}
	now := time.Now()
	for i := 0; i < 5; i++ {
		tr.RecordDayTrade(now.Add(time.Duration(i) * time.Hour))
	}
	assert.True(t, tr.IsPatternDayTrader())
	assert.Less(t, EffectivePDTAccountValue, 25000.0)
}

func TestPDTTrackerPrunesOldTrades(t *testing.T) {
	tr := &PDTTracker{}
	old := time.Now().AddDate(0, 0, -30)
	tr.RecordDayTrade(old)
	tr.RecordDayTrade(time.Now())
	assert.Equal(t, 1, tr.DayTradeCount())
}

func TestSlippageBasisPointsClampsBetween2And10(t *testing.T) {
	m := SlippageModel{}
	assert.Equal(t, 2.0, m.BasisPoints(1, 1_000_000))
	assert.Equal(t, 10.0, m.BasisPoints(1_000_000, 1_000_000))
	assert.Equal(t, 10.0, m.BasisPoints(100, 0))
}

func TestSlippageEstimateCostIsAlwaysNonNegative(t *testing.T) {
	m := SlippageModel{}
	cost := m.EstimateCost(100, 50, 10000)
	assert.Greater(t, cost, 0.0)
}

func TestMarginInterestScalesWithBalanceAndDaysHeld(t *testing.T) {
	low := MarginInterest(1000, 30)
	high := MarginInterest(2000, 30)
	assert.InDelta(t, low*2, high, 1e-9)
	assert.InDelta(t, 1000*0.12/365*30, MarginInterest(1000, 30), 1e-9)
	assert.InDelta(t, 0, MarginInterest(1000, 0), 1e-9)
}

func TestModeDetectorFlagsUnconfirmedFlip(t *testing.T) {
	d := NewModeDetector(zerolog.Nop())
	warning, flipped := d.Observe(true, false)
	assert.Empty(t, warning)
	assert.False(t, flipped)

	warning, flipped = d.Observe(false, false)
	assert.True(t, flipped)
	assert.NotEmpty(t, warning)
}

func TestModeDetectorSilentOnConfirmedFlip(t *testing.T) {
	d := NewModeDetector(zerolog.Nop())
	d.Observe(true, false)
	warning, flipped := d.Observe(false, true)
	assert.True(t, flipped)
	assert.Empty(t, warning)
}
