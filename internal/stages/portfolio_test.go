package stages

import (
	"context"
	"testing"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateWithRisk(ticker string, composite, positionValue float64, sector string) domain.Candidate {
	return domain.Candidate{
		Ticker:         domain.Ticker(ticker),
		CompositeScore: composite,
		Sector:         sector,
		Context:        domain.ContextBuyCandidate,
		RiskMetrics: &domain.RiskMetrics{
			EntryPrice: 50, PositionSizeShares: positionValue / 50, PositionSizeValue: positionValue,
		},
	}
}

func TestPortfolioRejectsBelowMinimumScore(t *testing.T) {
	result := RunPortfolio(context.Background(), PortfolioInput{
		Candidates:       []domain.Candidate{candidateWithRisk("AAA", 40, 1000, "Tech")},
		AvailableCapital: 100000,
		PortfolioValue:   100000,
	})
	rejections := result.Data["rejections"].([]domain.PortfolioRejection)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectLowScore, rejections[0].Reason)
}

func TestPortfolioCapsNewPositionsPerCycle(t *testing.T) {
	var candidates []domain.Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, candidateWithRisk(string(rune('A'+i))+"XX", 80, 1000, "Tech"))
	}
	result := RunPortfolio(context.Background(), PortfolioInput{
		Candidates:       candidates,
		AvailableCapital: 1_000_000,
		PortfolioValue:   1_000_000,
		Config:           PortfolioConfig{MaxNewPositionsOnce: 3, MaxOpenPositions: 15},
	})
	selections := result.Data["selections"].([]domain.PortfolioSelection)
	assert.Len(t, selections, 3)

	// S2: candidates truncated by the position-count cap are rejected with
	// INSUFFICIENT_CAPACITY, not MAX_POSITIONS_REACHED.
	rejections := result.Data["rejections"].([]domain.PortfolioRejection)
	require.NotEmpty(t, rejections)
	for _, r := range rejections {
		assert.Equal(t, domain.RejectInsufficientCapacity, r.Reason)
	}
}

func TestPortfolioCapsDeployedCapitalAtPortfolioValueRatio(t *testing.T) {
	// P3: the running sum of position_size_value is capped at
	// MaxCapitalDeployedPct * PortfolioValue, independent of AvailableCapital.
	var candidates []domain.Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, candidateWithRisk(string(rune('A'+i))+"XX", 80, 10000, "Tech"))
	}
	result := RunPortfolio(context.Background(), PortfolioInput{
		Candidates:       candidates,
		AvailableCapital: 1_000_000, // liquidity is not the binding constraint
		PortfolioValue:   30000,     // 90% of this is 27000, so only 2 of 5 fit
		// All five share one sector; lifting the sector cap keeps it from binding.
		Config: PortfolioConfig{MaxOpenPositions: 15, MaxNewPositionsOnce: 15, MaxSectorExposurePct: 100},
	})
	selections := result.Data["selections"].([]domain.PortfolioSelection)
	assert.Len(t, selections, 2)
}

func TestPortfolioRejectsWhenCapitalExhausted(t *testing.T) {
	candidates := []domain.Candidate{
		candidateWithRisk("AAA", 90, 6000, "Tech"),
		candidateWithRisk("BBB", 85, 6000, "Health"),
	}
	result := RunPortfolio(context.Background(), PortfolioInput{
		Candidates:       candidates,
		AvailableCapital: 10000,
		PortfolioValue:   100000,
	})
	selections := result.Data["selections"].([]domain.PortfolioSelection)
	rejections := result.Data["rejections"].([]domain.PortfolioRejection)
	assert.Len(t, selections, 1)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectInsufficientCapital, rejections[0].Reason)
}

func TestPortfolioPassesThroughExistingHoldings(t *testing.T) {
	c := candidateWithRisk("AAA", 10, 1000, "Tech")
	c.Context = domain.ContextHolding
	result := RunPortfolio(context.Background(), PortfolioInput{
		Candidates:       []domain.Candidate{c},
		AvailableCapital: 100000,
		PortfolioValue:   100000,
	})
	selections := result.Data["selections"].([]domain.PortfolioSelection)
	rejections := result.Data["rejections"].([]domain.PortfolioRejection)
	assert.Empty(t, selections)
	assert.Empty(t, rejections)
}
