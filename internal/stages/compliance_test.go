package stages

import (
	"context"
	"testing"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplianceApprovesWithinLimits(t *testing.T) {
	result := RunCompliance(context.Background(), ComplianceInput{
		Buys: []domain.AIBuyAllocation{{Ticker: "AAA", AllocatedCapital: 5000}},
		SectorByTicker: map[domain.Ticker]string{"AAA": "Tech"},
		PortfolioValue: 100000,
	})
	orders := result.Data["orders"].([]domain.TradeOrder)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.SideBuy, orders[0].Side)
}

func TestComplianceRejectsOversizedPosition(t *testing.T) {
	result := RunCompliance(context.Background(), ComplianceInput{
		Buys:           []domain.AIBuyAllocation{{Ticker: "AAA", AllocatedCapital: 20000}},
		SectorByTicker: map[domain.Ticker]string{"AAA": "Tech"},
		PortfolioValue: 100000,
		Config:         ComplianceConfig{MaxPositionSizePct: 10},
	})
	orders := result.Data["orders"].([]domain.TradeOrder)
	checks := result.Data["checks"].([]domain.ComplianceCheck)
	assert.Empty(t, orders)
	require.Len(t, checks, 1)
	assert.Equal(t, domain.CategoryPositionSize, checks[0].RejectionCategory)
}

func TestComplianceRejectsRestrictedSymbol(t *testing.T) {
	result := RunCompliance(context.Background(), ComplianceInput{
		Buys:           []domain.AIBuyAllocation{{Ticker: "XXX", AllocatedCapital: 1000}},
		SectorByTicker: map[domain.Ticker]string{"XXX": "Tech"},
		PortfolioValue: 100000,
		Config:         ComplianceConfig{RestrictedSymbols: map[domain.Ticker]bool{"XXX": true}},
	})
	checks := result.Data["checks"].([]domain.ComplianceCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, domain.CategoryRestricted, checks[0].RejectionCategory)
}

func TestComplianceRejectsDuplicateIntentSameCycle(t *testing.T) {
	result := RunCompliance(context.Background(), ComplianceInput{
		Buys: []domain.AIBuyAllocation{
			{Ticker: "AAA", AllocatedCapital: 1000},
			{Ticker: "AAA", AllocatedCapital: 1000},
		},
		SectorByTicker: map[domain.Ticker]string{"AAA": "Tech"},
		PortfolioValue: 100000,
	})
	checks := result.Data["checks"].([]domain.ComplianceCheck)
	require.Len(t, checks, 2)
	assert.True(t, checks[0].Approved)
	assert.False(t, checks[1].Approved)
	assert.Equal(t, domain.CategoryDuplicateIntent, checks[1].RejectionCategory)
}

func TestComplianceRejectsWholePlanOnSameSymbolConflict(t *testing.T) {
	// S3: AAA approved as both a BUY and a SELL must reject the entire plan,
	// never silently drop one side.
	result := RunCompliance(context.Background(), ComplianceInput{
		Buys:           []domain.AIBuyAllocation{{Ticker: "AAA", AllocatedCapital: 1000}},
		Sells:          []domain.AISellDecision{{Ticker: "AAA", SellPct: 100}},
		SectorByTicker: map[domain.Ticker]string{"AAA": "Tech"},
		PortfolioValue: 100000,
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Issues, string(domain.CategorySameSymbolConflict))
	_, hasOrders := result.Data["orders"]
	assert.False(t, hasOrders)
}

func TestComplianceRejectsPerTradeRiskOverCap(t *testing.T) {
	result := RunCompliance(context.Background(), ComplianceInput{
		Buys:           []domain.AIBuyAllocation{{Ticker: "AAA", AllocatedCapital: 1000}},
		SectorByTicker: map[domain.Ticker]string{"AAA": "Tech"},
		PortfolioValue: 100000,
		Config:         ComplianceConfig{MaxPerTradeRiskPct: 2},
		RiskByTicker:   map[domain.Ticker]domain.RiskMetrics{"AAA": {TotalRiskPct: 5}},
	})
	checks := result.Data["checks"].([]domain.ComplianceCheck)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].Approved)
	assert.Equal(t, domain.CategoryPerTradeRisk, checks[0].RejectionCategory)
}
