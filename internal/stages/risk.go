package stages

import (
	"context"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/formulas"
	"github.com/aristath/sentinel-trader/internal/providers"
)

// RiskDeps bundles the collaborators Risk needs to build per-candidate
// ATR-based stops/targets.
type RiskDeps struct {
	MarketData providers.MarketData
}

// RiskInput carries the Research output and the capital base for position
// sizing (spec.md §4.6.2).
type RiskInput struct {
	Candidates       []domain.Candidate
	AvailableCapital float64
}

// RunRisk enriches every candidate with RiskMetrics and a suitability
// RiskScore. Risk is advisory: it never removes candidates (spec.md §4.6.2).
func RunRisk(ctx context.Context, deps RiskDeps, in RiskInput) domain.StageResult {
	var issues []string
	enriched := make([]domain.Candidate, len(in.Candidates))

	var rrSum float64
	var acceptableCount int

	for i, c := range in.Candidates {
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -60)
		bars, err := deps.MarketData.GetBars(ctx, c.Ticker, start, end)
		if err != nil || len(bars) < 15 {
			issues = append(issues, "insufficient price history for "+c.Ticker.String())
			enriched[i] = c
			continue
		}

		highs := make([]float64, len(bars))
		lows := make([]float64, len(bars))
		closes := make([]float64, len(bars))
		for j, b := range bars {
			highs[j] = b.High
			lows[j] = b.Low
			closes[j] = b.Close
		}
		atrPtr := formulas.ATR(highs, lows, closes, 14)
		atr := 0.0
		if atrPtr != nil {
			atr = *atrPtr
		}

		entry := c.CurrentPrice
		stopLoss := entry - 2*atr
		riskPerShare := entry - stopLoss
		rewardPerShare := 2 * riskPerShare
		target := entry + rewardPerShare

		positionSizeValue := 0.10 * in.AvailableCapital
		positionSizeShares := 0.0
		if entry > 0 {
			positionSizeShares = positionSizeValue / entry
		}
		totalRiskDollars := positionSizeShares * riskPerShare
		totalRiskPct := 0.0
		if in.AvailableCapital > 0 {
			totalRiskPct = totalRiskDollars / in.AvailableCapital * 100
		}

		returns := formulas.CalculateReturns(closes)
		volatilityPct := formulas.AnnualizedVolatility(returns) * 100

		riskRewardRatio := 0.0
		if riskPerShare > 0 {
			riskRewardRatio = rewardPerShare / riskPerShare
		}
		stopDistancePct := 0.0
		if entry > 0 {
			stopDistancePct = riskPerShare / entry * 100
		}

		riskScore := formulas.Band(volatilityPct, 25, 35, 25)
		if riskRewardRatio >= 2 {
			riskScore += 25
		}
		riskScore += formulas.Band(stopDistancePct, 5, 10, 25)
		if totalRiskPct <= 1.5 {
			riskScore += 25
		}

		var warnings []string
		if riskRewardRatio < 1.5 {
			warnings = append(warnings, "risk/reward below 1.5")
		}
		if totalRiskPct > 2 {
			warnings = append(warnings, "per-position risk exceeds 2%")
		}

		c.RiskMetrics = &domain.RiskMetrics{
			EntryPrice:         entry,
			StopLoss:           stopLoss,
			TargetPrice:        target,
			ATR:                atr,
			VolatilityPct:      volatilityPct,
			RiskRewardRatio:    riskRewardRatio,
			PositionSizeShares: positionSizeShares,
			PositionSizeValue:  positionSizeValue,
			TotalRiskDollars:   totalRiskDollars,
			TotalRiskPct:       totalRiskPct,
			RiskScore:          riskScore,
			Warnings:           warnings,
		}
		c.RiskScore = riskScore
		c.RiskWarnings = warnings
		enriched[i] = c

		rrSum += riskRewardRatio
		if riskScore >= 50 {
			acceptableCount++
		}
	}

	avgRR := 0.0
	if len(enriched) > 0 {
		avgRR = rrSum / float64(len(enriched))
	}
	acceptanceRate := 0.0
	if len(enriched) > 0 {
		acceptanceRate = float64(acceptableCount) / float64(len(enriched))
	}
	quality := int(acceptanceRate*50 + formulas.Clamp(avgRR/3, 0, 1)*50)
	quality = int(formulas.Clamp(float64(quality), 0, 100))

	return domain.StageResult{
		Stage:        domain.StageRisk,
		Success:      true,
		Data:         map[string]any{"candidates": enriched},
		Message:      "Risk enriched every candidate with stop/target/sizing metrics",
		QualityScore: quality,
		Issues:       issues,
	}
}
