package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	resp providers.LLMOptimizerResponse
	err  error
}

func (f fakeLLM) Optimize(ctx context.Context, req providers.LLMOptimizerRequest) (providers.LLMOptimizerResponse, error) {
	return f.resp, f.err
}

func selections(n int) []domain.PortfolioSelection {
	out := make([]domain.PortfolioSelection, n)
	for i := range out {
		out[i] = domain.PortfolioSelection{Ticker: domain.Ticker(string(rune('A'+i))), CompositeScore: float64(100 - i), IntendedShares: 10, IntendedEntryPrice: 50}
	}
	return out
}

func TestOptimizerUsesLLMResponseWhenAvailable(t *testing.T) {
	llm := fakeLLM{resp: providers.LLMOptimizerResponse{
		Buys: []domain.AIBuyAllocation{{Ticker: "A", AllocatedCapital: 1000}},
	}}
	result := RunOptimizer(context.Background(), OptimizerDeps{LLM: llm}, OptimizerInput{
		Selections: selections(2), AvailableCapital: 5000,
	})
	buys := result.Data["buys"].([]domain.AIBuyAllocation)
	require.Len(t, buys, 1)
	assert.True(t, result.Success)
}

func TestOptimizerFallsBackOnError(t *testing.T) {
	llm := fakeLLM{err: errors.New("provider down")}
	result := RunOptimizer(context.Background(), OptimizerDeps{LLM: llm}, OptimizerInput{
		Selections: selections(3), AvailableCapital: 3000,
	})
	buys := result.Data["buys"].([]domain.AIBuyAllocation)
	require.Len(t, buys, 3)
	assert.Contains(t, result.Issues, "optimizer call failed or returned no decisions; falling back to equal-weight allocation")
}

func TestOptimizerTruncatesToMaxCandidates(t *testing.T) {
	llm := fakeLLM{resp: providers.LLMOptimizerResponse{Sells: []domain.AISellDecision{{Ticker: "Z"}}}}
	result := RunOptimizer(context.Background(), OptimizerDeps{LLM: llm}, OptimizerInput{
		Selections: selections(5), AvailableCapital: 10000, MaxCandidates: 2,
	})
	assert.Contains(t, result.Issues, "truncated selection set before the optimizer call")
}

func TestOptimizerFallbackCaps90PctAcrossTop10NonHeld(t *testing.T) {
	llm := fakeLLM{err: errors.New("provider down")}
	result := RunOptimizer(context.Background(), OptimizerDeps{LLM: llm}, OptimizerInput{
		Selections:       selections(15),
		AvailableCapital: 10000,
	})
	buys := result.Data["buys"].([]domain.AIBuyAllocation)
	require.Len(t, buys, 10)
	var total float64
	for _, b := range buys {
		total += b.AllocatedCapital
	}
	assert.InDelta(t, 9000, total, 1e-6)
}

func TestOptimizerFallbackSellsHeldBelowScoreFloor(t *testing.T) {
	sel := selections(2) // neither is held; Portfolio never selects holdings
	held := domain.Ticker("HHH")
	llm := fakeLLM{err: errors.New("provider down")}
	result := RunOptimizer(context.Background(), OptimizerDeps{LLM: llm}, OptimizerInput{
		Selections:       sel,
		Holdings:         []domain.Holding{{Ticker: held}},
		HeldComposite:    map[domain.Ticker]float64{held: 40}, // below 55: fallback exits it
		AvailableCapital: 5000,
	})
	sells := result.Data["sells"].([]domain.AISellDecision)
	require.Len(t, sells, 1)
	assert.Equal(t, held, sells[0].Ticker)
	buys := result.Data["buys"].([]domain.AIBuyAllocation)
	require.Len(t, buys, 2)
	assert.Equal(t, sel[0].Ticker, buys[0].Ticker)
}
