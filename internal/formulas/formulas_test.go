package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestRSIInsufficientHistoryReturnsNil(t *testing.T) {
	assert.Nil(t, RSI([]float64{1, 2, 3}, 14))
}

func TestRSIBullishTrendIsHigh(t *testing.T) {
	closes := risingCloses(30, 100, 1)
	rsi := RSI(closes, 14)
	require.NotNil(t, rsi)
	assert.Greater(t, *rsi, 60.0)
}

func TestMACDNeutralOnShortSeries(t *testing.T) {
	assert.Equal(t, MACDNeutral, MACD([]float64{1, 2, 3}))
}

func TestSMAAveragesCorrectly(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	sma := SMA(closes, 5)
	require.NotNil(t, sma)
	assert.InDelta(t, 3.0, *sma, 1e-9)
}

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)
}

func TestAnnualizedVolatilityZeroOnEmpty(t *testing.T) {
	assert.Equal(t, 0.0, AnnualizedVolatility(nil))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-5, 0, 10))
	assert.Equal(t, 10.0, Clamp(15, 0, 10))
	assert.Equal(t, 5.0, Clamp(5, 0, 10))
}

func TestBandOutsideRangeIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Band(5, 10, 20, 25))
	assert.Equal(t, 25.0, Band(15, 10, 20, 25))
}
