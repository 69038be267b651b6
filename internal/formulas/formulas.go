// Package formulas wraps the technical-indicator and statistics libraries
// used by the Research and Risk stages. Ported in the sentinel repo's idiom
// (pkg/formulas): talib for indicator series, gonum/stat for descriptive
// statistics.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// RSI returns the final RSI value over `length` periods, or nil if there is
// insufficient history.
func RSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}
	series := talib.Rsi(closes, length)
	if len(series) == 0 || math.IsNaN(series[len(series)-1]) {
		return nil
	}
	v := series[len(series)-1]
	return &v
}

// MACDSignal is the qualitative read of the MACD histogram used by Research's
// technical score (spec.md §4.6.1): bullish/neutral/bearish.
type MACDSignal string

const (
	MACDBullish MACDSignal = "bullish"
	MACDNeutral MACDSignal = "neutral"
	MACDBearish MACDSignal = "bearish"
)

// MACD classifies the latest MACD-vs-signal relationship.
func MACD(closes []float64) MACDSignal {
	if len(closes) < 35 {
		return MACDNeutral
	}
	macd, signal, _ := talib.Macd(closes, 12, 26, 9)
	n := len(macd)
	if n == 0 || math.IsNaN(macd[n-1]) || math.IsNaN(signal[n-1]) {
		return MACDNeutral
	}
	diff := macd[n-1] - signal[n-1]
	switch {
	case diff > 0:
		return MACDBullish
	case diff < 0:
		return MACDBearish
	default:
		return MACDNeutral
	}
}

// SMA returns the final simple-moving-average value over `length` periods,
// or nil if there is insufficient history.
func SMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}
	series := talib.Sma(closes, length)
	if len(series) == 0 || math.IsNaN(series[len(series)-1]) {
		return nil
	}
	v := series[len(series)-1]
	return &v
}

// ATR returns the final Average True Range over `length` periods (default
// 14), or nil if there is insufficient history.
func ATR(highs, lows, closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}
	series := talib.Atr(highs, lows, closes, length)
	if len(series) == 0 || math.IsNaN(series[len(series)-1]) {
		return nil
	}
	v := series[len(series)-1]
	return &v
}

// CalculateReturns converts a price series to simple daily returns.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

// AnnualizedVolatility is stddev(daily returns) * sqrt(252).
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return stat.StdDev(dailyReturns, nil) * math.Sqrt(252)
}

// Mean is the arithmetic mean, 0 for an empty slice.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Band awards the full `max` points when value lies within [lo, hi], and 0
// outside (or when hi <= lo).
// Used throughout the scoring bands in spec.md §4.6 (25-point bands etc).
func Band(value, lo, hi, max float64) float64 {
	if hi <= lo {
		return 0
	}
	if value < lo || value > hi {
		return 0
	}
	return max
}
