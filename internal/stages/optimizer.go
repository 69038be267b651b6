package stages

import (
	"context"
	"sort"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/providers"
)

// OptimizerDeps bundles the LLM collaborator. Optimizer is the only stage
// that calls out to an LLM, and it does so exactly once per cycle (spec.md
// §4.6.4).
type OptimizerDeps struct {
	LLM providers.LLMOptimizer
}

// OptimizerInput is the Portfolio output plus the account state the
// allocator needs to size buys against remaining capital.
type OptimizerInput struct {
	Selections       []domain.PortfolioSelection
	Holdings         []domain.Holding
	AvailableCapital float64
	PortfolioValue   float64
	MaxCandidates    int // truncation cap after Risk, default 40
	// HeldComposite carries each held ticker's freshly re-scored composite
	// (Risk's output for ContextHolding candidates never reaches
	// Portfolio's selections, since Portfolio's buy gate skips holdings
	// entirely), so the fallback allocation can decide which held positions
	// to sell.
	HeldComposite map[domain.Ticker]float64
}

// RunOptimizer truncates the selection set to MaxCandidates (default 40,
// spec.md §4.6.4), calls the LLM collaborator once, and falls back to a
// deterministic equal-weight allocation if the call fails or returns an
// empty response.
func RunOptimizer(ctx context.Context, deps OptimizerDeps, in OptimizerInput) domain.StageResult {
	maxCandidates := in.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 40
	}
	truncated := make([]domain.PortfolioSelection, len(in.Selections))
	copy(truncated, in.Selections)
	sort.Slice(truncated, func(i, j int) bool {
		return truncated[i].CompositeScore > truncated[j].CompositeScore
	})
	var dropped int
	if len(truncated) > maxCandidates {
		dropped = len(truncated) - maxCandidates
		truncated = truncated[:maxCandidates]
	}

	candidates := make([]domain.Candidate, len(truncated))
	for i, s := range truncated {
		candidates[i] = domain.Candidate{
			Ticker:         s.Ticker,
			CompositeScore: s.CompositeScore,
			Sector:         s.Sector,
			CurrentPrice:   s.IntendedEntryPrice,
		}
	}

	var issues []string
	if dropped > 0 {
		issues = append(issues, "truncated selection set before the optimizer call")
	}

	resp, err := deps.LLM.Optimize(ctx, providers.LLMOptimizerRequest{
		Candidates:       candidates,
		Holdings:         in.Holdings,
		AvailableCapital: in.AvailableCapital,
		PortfolioValue:   in.PortfolioValue,
	})
	if err != nil || (len(resp.Buys) == 0 && len(resp.Sells) == 0) {
		issues = append(issues, "optimizer call failed or returned no decisions; falling back to equal-weight allocation")
		resp = fallbackAllocation(truncated, in.Holdings, in.HeldComposite, in.AvailableCapital)
	}

	quality := 70
	if err == nil {
		quality = 90
	}
	if len(resp.Buys) == 0 {
		quality = 30
		issues = append(issues, "no buy allocations produced")
	}

	return domain.StageResult{
		Stage:   domain.StageOptimizer,
		Success: true,
		Data: map[string]any{
			"buys":  resp.Buys,
			"sells": resp.Sells,
		},
		Message:      "Optimizer allocated capital across the truncated selection set",
		QualityScore: quality,
		Issues:       issues,
	}
}

// fallbackAllocation is the deterministic allocation spec.md §4.6.4 requires
// when the LLM collaborator is unavailable or returns a malformed response:
// equal-weight 90% of available capital across the top 10 non-held
// candidates by composite score, and sell any currently-held ticker whose
// composite has fallen below 55.
func fallbackAllocation(selections []domain.PortfolioSelection, holdings []domain.Holding, heldComposite map[domain.Ticker]float64, availableCapital float64) providers.LLMOptimizerResponse {
	held := make(map[domain.Ticker]bool, len(holdings))
	for _, h := range holdings {
		held[h.Ticker] = true
	}

	var available []domain.PortfolioSelection
	for _, s := range selections {
		if !held[s.Ticker] {
			available = append(available, s)
		}
	}
	const topN = 10
	if len(available) > topN {
		available = available[:topN]
	}

	var sells []domain.AISellDecision
	for _, h := range holdings {
		if composite, ok := heldComposite[h.Ticker]; ok && composite < 55 {
			sells = append(sells, domain.AISellDecision{
				Ticker:    h.Ticker,
				SellPct:   100,
				Reasoning: "composite score below 55, fallback allocation exits the position",
			})
		}
	}

	if len(available) == 0 {
		return providers.LLMOptimizerResponse{
			Sells:              sells,
			PortfolioReasoning: "deterministic fallback: optimizer call failed or returned no decisions",
		}
	}

	deployable := availableCapital * 0.90
	perTicker := deployable / float64(len(available))
	buys := make([]domain.AIBuyAllocation, 0, len(available))
	var total float64
	for _, s := range available {
		pct := 0.0
		if availableCapital > 0 {
			pct = perTicker / availableCapital * 100
		}
		buys = append(buys, domain.AIBuyAllocation{
			Ticker:           s.Ticker,
			AllocatedCapital: perTicker,
			AllocationPct:    pct,
			ConvictionLevel:  domain.ConvictionMedium,
			Reasoning:        "equal-weight fallback allocation, optimizer unavailable",
		})
		total += perTicker
	}
	return providers.LLMOptimizerResponse{
		Buys:               buys,
		Sells:              sells,
		TotalAllocated:     total,
		DeploymentPct:      90,
		PortfolioReasoning: "deterministic fallback: optimizer call failed or returned no decisions",
	}
}
