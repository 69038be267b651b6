package stages

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarketData struct {
	bars         []domain.PriceBar
	err          error
	fundamentals providers.Fundamentals
}

func (f fakeMarketData) GetBars(ctx context.Context, ticker domain.Ticker, start, end time.Time) ([]domain.PriceBar, error) {
	return f.bars, f.err
}

func (f fakeMarketData) GetFundamentals(ctx context.Context, ticker domain.Ticker) (providers.Fundamentals, error) {
	return f.fundamentals, nil
}

func flatBars(n int, price float64) []domain.PriceBar {
	out := make([]domain.PriceBar, n)
	for i := range out {
		out[i] = domain.PriceBar{High: price + 1, Low: price - 1, Close: price, Volume: 1_000_000}
	}
	return out
}

func TestRiskEnrichesCandidatesWithStopAndTarget(t *testing.T) {
	md := fakeMarketData{bars: flatBars(30, 100)}
	result := RunRisk(context.Background(), RiskDeps{MarketData: md}, RiskInput{
		Candidates:       []domain.Candidate{{Ticker: "AAA", CurrentPrice: 100}},
		AvailableCapital: 10000,
	})
	enriched := result.Data["candidates"].([]domain.Candidate)
	require.Len(t, enriched, 1)
	require.NotNil(t, enriched[0].RiskMetrics)
	assert.Less(t, enriched[0].RiskMetrics.StopLoss, enriched[0].RiskMetrics.EntryPrice)
	assert.Greater(t, enriched[0].RiskMetrics.TargetPrice, enriched[0].RiskMetrics.EntryPrice)
}

func TestRiskNeverRemovesCandidatesOnInsufficientHistory(t *testing.T) {
	md := fakeMarketData{bars: nil, err: nil}
	result := RunRisk(context.Background(), RiskDeps{MarketData: md}, RiskInput{
		Candidates:       []domain.Candidate{{Ticker: "AAA", CurrentPrice: 100}},
		AvailableCapital: 10000,
	})
	enriched := result.Data["candidates"].([]domain.Candidate)
	require.Len(t, enriched, 1)
	assert.Nil(t, enriched[0].RiskMetrics)
	assert.NotEmpty(t, result.Issues)
}
