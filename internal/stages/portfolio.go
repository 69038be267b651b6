package stages

import (
	"context"
	"sort"

	"github.com/aristath/sentinel-trader/internal/domain"
)

// PortfolioConfig carries the hard constraints Portfolio enforces (spec.md
// §4.6.3): these are gates, never advisories.
type PortfolioConfig struct {
	MinCompositeScore   float64 // default 55
	MaxOpenPositions    int     // default 15
	MaxNewPositionsOnce int     // default 5
	MaxSectorExposurePct float64 // default 30
	// MaxCapitalDeployedPct caps the running sum of position_size_value at
	// this fraction of portfolio value (spec.md §4.6.3 rule 3, P3), separate
	// from the liquidity check against AvailableCapital below.
	MaxCapitalDeployedPct float64 // default 0.90
}

func (c PortfolioConfig) withDefaults() PortfolioConfig {
	if c.MinCompositeScore == 0 {
		c.MinCompositeScore = 55
	}
	if c.MaxOpenPositions == 0 {
		c.MaxOpenPositions = 15
	}
	if c.MaxNewPositionsOnce == 0 {
		c.MaxNewPositionsOnce = 5
	}
	if c.MaxSectorExposurePct == 0 {
		c.MaxSectorExposurePct = 30
	}
	if c.MaxCapitalDeployedPct == 0 {
		c.MaxCapitalDeployedPct = 0.90
	}
	return c
}

// PortfolioInput is the Risk output plus the account state needed to enforce
// capacity and capital constraints.
type PortfolioInput struct {
	Candidates       []domain.Candidate
	OpenHoldings     []domain.Holding
	AvailableCapital float64
	PortfolioValue   float64
	Config           PortfolioConfig
}

// RunPortfolio applies the hard constraint filters from spec.md §4.6.3: a
// minimum composite score, a cap on total open positions, a per-cycle cap on
// new positions, and a per-sector exposure cap. Every rejection is recorded
// with a structured reason for audit (spec.md §3 PortfolioRejection).
func RunPortfolio(ctx context.Context, in PortfolioInput) domain.StageResult {
	cfg := in.Config.withDefaults()

	// Sector exposure is tracked against candidates only: domain.Holding
	// carries no sector field, so existing positions contribute to the
	// open-position count but not to the sector cap below.
	sectorExposure := make(map[string]float64)

	openCount := len(in.OpenHoldings)
	remainingCapacity := cfg.MaxOpenPositions - openCount
	if remainingCapacity < 0 {
		remainingCapacity = 0
	}
	newPositionBudget := remainingCapacity
	if newPositionBudget > cfg.MaxNewPositionsOnce {
		newPositionBudget = cfg.MaxNewPositionsOnce
	}

	candidates := make([]domain.Candidate, len(in.Candidates))
	copy(candidates, in.Candidates)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CompositeScore != candidates[j].CompositeScore {
			return candidates[i].CompositeScore > candidates[j].CompositeScore
		}
		return candidates[i].Ticker < candidates[j].Ticker
	})

	var selections []domain.PortfolioSelection
	var rejections []domain.PortfolioRejection
	remainingCapital := in.AvailableCapital
	deployedCapital := 0.0
	maxDeployed := cfg.MaxCapitalDeployedPct * in.PortfolioValue
	selectedCount := 0

	for _, c := range candidates {
		if c.Context == domain.ContextHolding {
			continue // open holdings pass through the Optimizer's sell logic, not Portfolio's buy gate
		}
		if c.CompositeScore < cfg.MinCompositeScore {
			rejections = append(rejections, domain.PortfolioRejection{
				Ticker: c.Ticker, Reason: domain.RejectLowScore,
				Detail: "composite score below minimum threshold",
			})
			continue
		}
		if selectedCount >= newPositionBudget {
			rejections = append(rejections, domain.PortfolioRejection{
				Ticker: c.Ticker, Reason: domain.RejectInsufficientCapacity,
				Detail: "open-position and new-position-per-cycle caps reached",
			})
			continue
		}
		if sectorExposure[c.Sector] >= cfg.MaxSectorExposurePct {
			rejections = append(rejections, domain.PortfolioRejection{
				Ticker: c.Ticker, Reason: domain.RejectInsufficientCapacity,
				Detail: "sector exposure cap reached for " + c.Sector,
			})
			continue
		}
		if c.RiskMetrics == nil || c.RiskMetrics.PositionSizeValue <= 0 {
			rejections = append(rejections, domain.PortfolioRejection{
				Ticker: c.Ticker, Reason: domain.RejectInsufficientCapital,
				Detail: "no sizable risk metrics available",
			})
			continue
		}
		if c.RiskMetrics.PositionSizeValue > remainingCapital {
			rejections = append(rejections, domain.PortfolioRejection{
				Ticker: c.Ticker, Reason: domain.RejectInsufficientCapital,
				Detail: "position size exceeds remaining available capital",
			})
			continue
		}
		if in.PortfolioValue > 0 && deployedCapital+c.RiskMetrics.PositionSizeValue > maxDeployed {
			rejections = append(rejections, domain.PortfolioRejection{
				Ticker: c.Ticker, Reason: domain.RejectInsufficientCapital,
				Detail: "position size would exceed the max capital deployed cap",
			})
			continue
		}

		selections = append(selections, domain.PortfolioSelection{
			Ticker:             c.Ticker,
			IntendedShares:     c.RiskMetrics.PositionSizeShares,
			IntendedEntryPrice: c.RiskMetrics.EntryPrice,
			IntendedStop:       c.RiskMetrics.StopLoss,
			IntendedTarget:     c.RiskMetrics.TargetPrice,
			Sector:             c.Sector,
			CompositeScore:     c.CompositeScore,
		})
		remainingCapital -= c.RiskMetrics.PositionSizeValue
		deployedCapital += c.RiskMetrics.PositionSizeValue
		if in.PortfolioValue > 0 {
			sectorExposure[c.Sector] += c.RiskMetrics.PositionSizeValue / in.PortfolioValue * 100
		}
		selectedCount++
	}

	quality := 100
	if len(candidates) > 0 {
		quality = int(float64(len(selections)) / float64(len(candidates)) * 100)
	}
	if quality < 20 && len(selections) > 0 {
		quality = 20
	}

	var issues []string
	if len(selections) == 0 {
		issues = append(issues, "no candidate survived the hard constraint filters")
	}

	return domain.StageResult{
		Stage:   domain.StagePortfolio,
		Success: true,
		Data: map[string]any{
			"selections": selections,
			"rejections": rejections,
		},
		Message:      "Portfolio applied hard constraint filters to the Risk-enriched candidate set",
		QualityScore: quality,
		Issues:       issues,
	}
}
