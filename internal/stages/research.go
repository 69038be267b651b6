package stages

import (
	"context"
	"sort"
	"time"

	"github.com/aristath/sentinel-trader/internal/cache"
	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/formulas"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/rs/zerolog"
)

// filterPreset is one rung of the adaptive technical-setup ladder, strict to
// relaxed (spec.md §4.6.1, tactical pass).
type filterPreset struct {
	Name       string
	RSIMin     float64
	RSIMax     float64
	VolumeFloor float64
	PriceFloor  float64
}

var adaptivePresets = []filterPreset{
	{Name: "strict", RSIMin: 45, RSIMax: 65, VolumeFloor: 1_000_000, PriceFloor: 10},
	{Name: "moderate", RSIMin: 40, RSIMax: 70, VolumeFloor: 500_000, PriceFloor: 7},
	{Name: "relaxed", RSIMin: 35, RSIMax: 75, VolumeFloor: 250_000, PriceFloor: 5},
	{Name: "loosest", RSIMin: 30, RSIMax: 80, VolumeFloor: 100_000, PriceFloor: 5},
}

// ResearchDeps bundles the collaborators Research needs.
type ResearchDeps struct {
	MarketData     providers.MarketData
	Sentiment      providers.Sentiment
	PriceCache     *cache.PriceCache
	SentimentCache *cache.SentimentCache
	Fanout         int
	Log            zerolog.Logger
}

// ResearchInput is the universe plus sizing targets for one cycle.
type ResearchInput struct {
	Universe          []domain.Ticker
	Holdings          []domain.Holding
	MinRequired       int // default 3
	TacticalTarget    int // "T" in spec.md §4.6.1, default 80
	VolatilitySweetLo float64
	VolatilitySweetHi float64
}

func (in ResearchInput) withDefaults() ResearchInput {
	if in.MinRequired == 0 {
		in.MinRequired = 3
	}
	if in.TacticalTarget == 0 {
		in.TacticalTarget = 80
	}
	if in.VolatilitySweetLo == 0 && in.VolatilitySweetHi == 0 {
		in.VolatilitySweetLo, in.VolatilitySweetHi = 0.25, 0.35
	}
	return in
}

type tickerMetrics struct {
	ticker       domain.Ticker
	bars         []domain.PriceBar
	swingScore   float64
	avgVolume    float64
	price        float64
	atrPctPrice  float64
	rsi          float64
	macd         formulas.MACDSignal
	sma20        float64
	sma50        float64
}

// RunResearch executes the two-stage filter and scoring pass described in
// spec.md §4.6.1.
func RunResearch(ctx context.Context, deps ResearchDeps, in ResearchInput) domain.StageResult {
	in = in.withDefaults()
	var issues []string

	heldSet := make(map[domain.Ticker]bool, len(in.Holdings))
	for _, h := range in.Holdings {
		heldSet[h.Ticker] = true
	}

	fanout := deps.Fanout
	if fanout < 1 {
		fanout = 5
	}

	metricsList := FanOut(in.Universe, fanout, func(t domain.Ticker) *tickerMetrics {
		bars, _, err := deps.PriceCache.Get(t, func(ticker domain.Ticker) ([]domain.PriceBar, error) {
			end := time.Now().UTC()
			start := end.AddDate(0, 0, -120)
			return deps.MarketData.GetBars(ctx, ticker, start, end)
		})
		if err != nil || len(bars) < 20 {
			return nil
		}
		return buildTickerMetrics(t, bars, in.VolatilitySweetLo, in.VolatilitySweetHi)
	})

	var metrics []*tickerMetrics
	for _, m := range metricsList {
		if m != nil {
			metrics = append(metrics, m)
		}
	}
	if len(metrics) == 0 {
		issues = append(issues, "no tickers survived price-history filtering")
	}

	// Strategic pass: rank by swing suitability, keep top 15% or the
	// downstream tactical target, whichever is larger.
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].swingScore > metrics[j].swingScore })
	keep := len(metrics) * 15 / 100
	if keep < in.TacticalTarget {
		keep = in.TacticalTarget
	}
	if keep > len(metrics) {
		keep = len(metrics)
	}
	strategic := metrics[:keep]

	// Tactical pass: try presets strict -> relaxed, accept the first that
	// yields a count within [0.8T, 1.2T].
	lo := float64(in.TacticalTarget) * 0.8
	hi := float64(in.TacticalTarget) * 1.2
	var tactical []*tickerMetrics
	for _, preset := range adaptivePresets {
		var candidates []*tickerMetrics
		for _, m := range strategic {
			if m.rsi >= preset.RSIMin && m.rsi <= preset.RSIMax &&
				m.avgVolume >= preset.VolumeFloor && m.price >= preset.PriceFloor {
				candidates = append(candidates, m)
			}
		}
		tactical = candidates
		if float64(len(candidates)) >= lo && float64(len(candidates)) <= hi {
			break
		}
	}
	if len(tactical) == 0 && len(strategic) > 0 {
		// loosest preset still under-produced: return what was found.
		tactical = tacticalFallback(strategic, adaptivePresets[len(adaptivePresets)-1])
	}

	candidates := make([]domain.Candidate, 0, len(tactical))
	var compositeSum float64
	for _, m := range tactical {
		sentimentScore := 50.0
		sentResult, err := deps.SentimentCache.Get(m.ticker, func(t domain.Ticker) (domain.SentimentEntry, error) {
			return deps.Sentiment.Fetch(ctx, t)
		})
		if err == nil {
			sentimentScore = sentResult.Entry.Score
		}

		fundamentals, ferr := deps.MarketData.GetFundamentals(ctx, m.ticker)
		techScore := technicalScore(m)
		fundScore := 50.0
		if ferr == nil {
			fundScore = fundamentalScore(fundamentals)
		}
		composite := 0.4*techScore + 0.4*fundScore + 0.2*sentimentScore
		compositeSum += composite

		ctxLabel := domain.ContextBuyCandidate
		if heldSet[m.ticker] {
			ctxLabel = domain.ContextHolding
		}

		candidates = append(candidates, domain.Candidate{
			Ticker:           m.ticker,
			CompositeScore:   composite,
			TechnicalScore:   techScore,
			FundamentalScore: fundScore,
			SentimentScore:   sentimentScore,
			Sector:           fundamentals.Sector,
			CurrentPrice:     m.price,
			Context:          ctxLabel,
		})
	}

	// Deterministic emission order (spec.md §5): descending composite,
	// ticker ascending tie-break.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CompositeScore != candidates[j].CompositeScore {
			return candidates[i].CompositeScore > candidates[j].CompositeScore
		}
		return candidates[i].Ticker < candidates[j].Ticker
	})

	avgComposite := 0.0
	if len(candidates) > 0 {
		avgComposite = compositeSum / float64(len(candidates))
	}
	minReq := in.MinRequired
	if minReq < 5 {
		minReq = 5
	}
	quality := int(float64(len(candidates))/float64(minReq)*50 + avgComposite/100*50)
	if quality > 100 {
		quality = 100
	}
	if quality < 0 {
		quality = 0
	}

	success := len(candidates) >= in.MinRequired
	if !success {
		issues = append(issues, "candidate count below minimum required")
	}

	return domain.StageResult{
		Stage:        domain.StageResearch,
		Success:      success,
		Data:         map[string]any{"candidates": candidates},
		Message:      researchMessage(len(candidates), quality),
		QualityScore: quality,
		Issues:       issues,
	}
}

func tacticalFallback(strategic []*tickerMetrics, preset filterPreset) []*tickerMetrics {
	var out []*tickerMetrics
	for _, m := range strategic {
		if m.rsi >= preset.RSIMin && m.rsi <= preset.RSIMax &&
			m.avgVolume >= preset.VolumeFloor && m.price >= preset.PriceFloor {
			out = append(out, m)
		}
	}
	return out
}

func buildTickerMetrics(t domain.Ticker, bars []domain.PriceBar, sweetLo, sweetHi float64) *tickerMetrics {
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}
	price := closes[len(closes)-1]
	if price <= 0 {
		return nil
	}

	returns := formulas.CalculateReturns(closes)
	annualVol := formulas.AnnualizedVolatility(returns)
	avgVolume := formulas.Mean(volumes)

	atr := formulas.ATR(highs, lows, closes, 14)
	atrPctPrice := 0.0
	if atr != nil {
		atrPctPrice = *atr / price * 100
	}

	rsiVal := 50.0
	if r := formulas.RSI(closes, 14); r != nil {
		rsiVal = *r
	}
	sma20, sma50 := 0.0, 0.0
	if v := formulas.SMA(closes, 20); v != nil {
		sma20 = *v
	}
	if v := formulas.SMA(closes, 50); v != nil {
		sma50 = *v
	}

	swingScore := formulas.Band(annualVol, sweetLo, sweetHi, 25)
	swingScore += formulas.Band(avgVolume, 200_000, 1e12, 25)
	swingScore += formulas.Band(price, 5, 500, 25)
	swingScore += formulas.Band(atrPctPrice, 6, 9, 25)

	return &tickerMetrics{
		ticker: t, bars: bars, swingScore: swingScore, avgVolume: avgVolume,
		price: price, atrPctPrice: atrPctPrice, rsi: rsiVal,
		macd: formulas.MACD(closes), sma20: sma20, sma50: sma50,
	}
}

func technicalScore(m *tickerMetrics) float64 {
	// RSI position: full marks inside 40-60, linear falloff to the edges.
	rsiScore := formulas.Band(m.rsi, 40, 60, 40)
	if rsiScore == 0 {
		dist := m.rsi - 50
		if dist < 0 {
			dist = -dist
		}
		rsiScore = 40 - dist
		if rsiScore < 0 {
			rsiScore = 0
		}
	}

	macdScore := 0.0
	switch m.macd {
	case formulas.MACDBullish:
		macdScore = 30
	case formulas.MACDNeutral:
		macdScore = 15
	case formulas.MACDBearish:
		macdScore = 0
	}

	trendScore := 0.0
	switch {
	case m.price > m.sma20 && m.sma20 > m.sma50:
		trendScore = 30
	case m.price > m.sma20 || m.price > m.sma50:
		trendScore = 15
	}

	total := rsiScore + macdScore + trendScore
	return formulas.Clamp(total, 0, 100)
}

func fundamentalScore(f providers.Fundamentals) float64 {
	profitability := 0.0
	switch {
	case f.ReturnOnEquity > 0.15 || f.ProfitMargins > 0.15:
		profitability = 25
	case f.ReturnOnEquity > 0.08 || f.ProfitMargins > 0.05:
		profitability = 12.5
	}

	valuation := 0.0
	if f.TrailingPE > 0 && f.TrailingPE < 25 && f.PriceToBook > 0 && f.PriceToBook < 5 {
		valuation = 25
	} else if f.TrailingPE > 0 && f.TrailingPE < 40 {
		valuation = 12.5
	}

	growth := 0.0
	if f.RevenueGrowth > 0.10 && f.EarningsGrowth > 0.10 {
		growth = 25
	} else if f.RevenueGrowth > 0 || f.EarningsGrowth > 0 {
		growth = 12.5
	}

	health := 0.0
	if f.DebtToEquity < 1.0 && f.CurrentRatio > 1.5 {
		health = 25
	} else if f.DebtToEquity < 2.0 && f.CurrentRatio > 1.0 {
		health = 12.5
	}

	return formulas.Clamp(profitability+valuation+growth+health, 0, 100)
}

func researchMessage(count, quality int) string {
	if count == 0 {
		return "Research found no qualifying candidates"
	}
	return "Research surfaced candidates for downstream review"
}
