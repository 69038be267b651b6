package stages

import (
	"context"
	"fmt"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/errs"
)

// ComplianceConfig carries the fixed rule thresholds Compliance checks
// against (spec.md §4.6.5). Unlike Portfolio's capacity gates, these rules
// never change shape across a cycle.
type ComplianceConfig struct {
	MaxPositionSizePct  float64 // default 10, pct of portfolio value
	MaxSectorExposurePct float64 // default 30
	MaxPerTradeRiskPct  float64 // default 2
	RestrictedSymbols   map[domain.Ticker]bool
}

func (c ComplianceConfig) withDefaults() ComplianceConfig {
	if c.MaxPositionSizePct == 0 {
		c.MaxPositionSizePct = 10
	}
	if c.MaxSectorExposurePct == 0 {
		c.MaxSectorExposurePct = 30
	}
	if c.MaxPerTradeRiskPct == 0 {
		c.MaxPerTradeRiskPct = 2
	}
	return c
}

// ComplianceInput is the Optimizer output plus the account state needed to
// express each trade as a percentage of the portfolio.
type ComplianceInput struct {
	Buys           []domain.AIBuyAllocation
	Sells          []domain.AISellDecision
	PortfolioValue float64
	SectorByTicker map[domain.Ticker]string
	Config         ComplianceConfig
	// SubmittedToday carries tickers already ordered this session, used for
	// the duplicate-intent safeguard.
	SubmittedToday map[domain.Ticker]bool
	// RiskByTicker carries the Risk stage's per-candidate risk enrichment, so
	// the per-trade risk cap can be checked against total_risk_pct.
	RiskByTicker map[domain.Ticker]domain.RiskMetrics
}

// complianceDecision pairs one trade order with its check outcome.
type complianceDecision struct {
	Order domain.TradeOrder
	Check domain.ComplianceCheck
}

// RunCompliance validates every proposed trade against fixed rules and the
// duplicate-intent/same-symbol safeguard (spec.md §4.6.5). Compliance never
// mutates sizing; it only approves or rejects.
func RunCompliance(ctx context.Context, in ComplianceInput) domain.StageResult {
	cfg := in.Config.withDefaults()

	sectorExposure := make(map[string]float64)
	// seenBuys/seenSells only dedupe within their own side: a ticker approved
	// as a BUY must still be free to also appear as a SELL so the end-of-plan
	// same-symbol safeguard below is the one that catches that conflict,
	// rather than the per-side duplicate-intent check silently eating it
	// (spec.md §4.6.5).
	seenBuys := make(map[domain.Ticker]bool)
	seenSells := make(map[domain.Ticker]bool)
	var decisions []complianceDecision
	var approved, rejected int

	for _, b := range in.Buys {
		sector := in.SectorByTicker[b.Ticker]
		checks := map[string]bool{}

		positionPct := 0.0
		if in.PortfolioValue > 0 {
			positionPct = b.AllocatedCapital / in.PortfolioValue * 100
		}
		checks["position_size"] = positionPct <= cfg.MaxPositionSizePct

		projectedSectorPct := sectorExposure[sector] + positionPct
		checks["sector_exposure"] = projectedSectorPct <= cfg.MaxSectorExposurePct

		riskPct := 0.0
		if rm, ok := in.RiskByTicker[b.Ticker]; ok {
			riskPct = rm.TotalRiskPct
		}
		checks["per_trade_risk"] = riskPct <= cfg.MaxPerTradeRiskPct

		checks["not_restricted"] = !cfg.RestrictedSymbols[b.Ticker]
		checks["not_duplicate"] = !seenBuys[b.Ticker] && !in.SubmittedToday[b.Ticker]

		approvedOrder := checks["position_size"] && checks["sector_exposure"] &&
			checks["per_trade_risk"] && checks["not_restricted"] && checks["not_duplicate"]

		check := domain.ComplianceCheck{Approved: approvedOrder, Checks: checks}
		switch {
		case !checks["not_restricted"]:
			check.RejectionCategory = domain.CategoryRestricted
			check.RejectionReason = "symbol is on the restricted list"
		case !checks["not_duplicate"]:
			check.RejectionCategory = domain.CategoryDuplicateIntent
			check.RejectionReason = "duplicate buy intent for this ticker this cycle"
		case !checks["position_size"]:
			check.RejectionCategory = domain.CategoryPositionSize
			check.RejectionReason = "allocation exceeds the per-position size cap"
		case !checks["sector_exposure"]:
			check.RejectionCategory = domain.CategorySectorExposure
			check.RejectionReason = "allocation would exceed the sector exposure cap"
		case !checks["per_trade_risk"]:
			check.RejectionCategory = domain.CategoryPerTradeRisk
			check.RejectionReason = "trade risk exceeds the per-trade risk cap"
		}

		notional := b.AllocatedCapital
		order := domain.TradeOrder{
			Ticker:    b.Ticker,
			Side:      domain.SideBuy,
			OrderType: domain.OrderNotional,
			Notional:  &notional,
			Note:      b.Reasoning,
		}
		decisions = append(decisions, complianceDecision{Order: order, Check: check})

		if approvedOrder {
			approved++
			seenBuys[b.Ticker] = true
			sectorExposure[sector] = projectedSectorPct
		} else {
			rejected++
		}
	}

	for _, s := range in.Sells {
		checks := map[string]bool{"not_duplicate": !seenSells[s.Ticker]}
		check := domain.ComplianceCheck{Approved: checks["not_duplicate"], Checks: checks}
		if !checks["not_duplicate"] {
			check.RejectionCategory = domain.CategoryDuplicateIntent
			check.RejectionReason = "duplicate sell intent for this ticker this cycle"
		}
		order := domain.TradeOrder{
			Ticker:    s.Ticker,
			Side:      domain.SideSell,
			OrderType: domain.OrderMarket,
			Note:      s.Reasoning,
		}
		decisions = append(decisions, complianceDecision{Order: order, Check: check})
		if check.Approved {
			approved++
			seenSells[s.Ticker] = true
		} else {
			rejected++
		}
	}

	var orders []domain.TradeOrder
	var checks []domain.ComplianceCheck
	for _, d := range decisions {
		if d.Check.Approved {
			orders = append(orders, d.Order)
		}
		checks = append(checks, d.Check)
	}

	// Hard safeguard: if the approved set still has the same ticker on both
	// sides, the entire plan is rejected rather than silently rebalanced
	// (spec.md §4.6.5, P2, scenario S3).
	if conflict, ok := sameSymbolConflict(orders); ok {
		return domain.StageResult{
			Stage:   domain.StageCompliance,
			Success: false,
			Data:    map[string]any{"checks": checks},
			Message: fmt.Sprintf("%v: %s appears as both a BUY and a SELL in the approved set", errs.ErrSafeguard, conflict),
			Issues: []string{
				string(domain.CategorySameSymbolConflict),
				fmt.Sprintf("safeguard triggered for %s: plan rejected, not repaired", conflict),
			},
			QualityScore: 0,
		}
	}

	total := approved + rejected
	quality := 100
	if total > 0 {
		quality = int(float64(approved) / float64(total) * 100)
	}

	var issues []string
	if rejected > 0 {
		issues = append(issues, "one or more proposed trades were rejected by fixed compliance rules")
	}

	return domain.StageResult{
		Stage:   domain.StageCompliance,
		Success: true,
		Data: map[string]any{
			"orders": orders,
			"checks": checks,
		},
		Message:      "Compliance validated every proposed trade against fixed rules",
		QualityScore: quality,
		Issues:       issues,
	}
}

// sameSymbolConflict reports the first ticker that appears as both a BUY and
// a SELL in the final approved order set.
func sameSymbolConflict(orders []domain.TradeOrder) (domain.Ticker, bool) {
	buys := make(map[domain.Ticker]bool)
	for _, o := range orders {
		if o.Side == domain.SideBuy {
			buys[o.Ticker] = true
		}
	}
	for _, o := range orders {
		if o.Side == domain.SideSell && buys[o.Ticker] {
			return o.Ticker, true
		}
	}
	return "", false
}
