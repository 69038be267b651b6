package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/sentinel-trader/internal/cache"
	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/aristath/sentinel-trader/internal/stages"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarketData struct{ bars []domain.PriceBar }

func (f fakeMarketData) GetBars(ctx context.Context, ticker domain.Ticker, start, end time.Time) ([]domain.PriceBar, error) {
	return f.bars, nil
}

func (f fakeMarketData) GetFundamentals(ctx context.Context, ticker domain.Ticker) (providers.Fundamentals, error) {
	return providers.Fundamentals{
		ReturnOnEquity: 0.2, ProfitMargins: 0.2, TrailingPE: 15, PriceToBook: 2,
		RevenueGrowth: 0.15, EarningsGrowth: 0.1, DebtToEquity: 0.4, CurrentRatio: 2,
	}, nil
}

type fakeSentiment struct{}

func (fakeSentiment) Fetch(ctx context.Context, ticker domain.Ticker) (domain.SentimentEntry, error) {
	return domain.SentimentEntry{Ticker: ticker, Score: 65}, nil
}
func (fakeSentiment) FetchBatch(ctx context.Context, tickers []domain.Ticker) (map[domain.Ticker]domain.SentimentEntry, error) {
	return nil, nil
}

type fakeLLM struct{}

func (fakeLLM) Optimize(ctx context.Context, req providers.LLMOptimizerRequest) (providers.LLMOptimizerResponse, error) {
	var buys []domain.AIBuyAllocation
	for _, c := range req.Candidates {
		buys = append(buys, domain.AIBuyAllocation{Ticker: c.Ticker, AllocatedCapital: 5000, ConvictionLevel: domain.ConvictionMedium})
	}
	return providers.LLMOptimizerResponse{Buys: buys}, nil
}

func oscillatingBars(n int) []domain.PriceBar {
	out := make([]domain.PriceBar, n)
	price := 60.0
	for i := range out {
		if i%3 == 2 {
			price -= 0.4
		} else {
			price += 0.5
		}
		out[i] = domain.PriceBar{Close: price, High: price + 1, Low: price - 1, Volume: 2_000_000}
	}
	return out
}

func TestCoordinatorRunProducesADraftPlan(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "coordinator_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	priceCache := cache.NewPriceCache(db, cache.TTL{Hours: 16})
	sentimentCache := cache.NewSentimentCache(db, cache.TTL{Hours: 16})
	md := fakeMarketData{bars: oscillatingBars(120)}

	universe := make([]domain.Ticker, 0, 20)
	for i := 0; i < 20; i++ {
		universe = append(universe, domain.Ticker(string(rune('A'+i))+"AA"))
	}

	co := New(Deps{
		Research: stages.ResearchDeps{
			MarketData: md, Sentiment: fakeSentiment{}, PriceCache: priceCache, SentimentCache: sentimentCache,
			Fanout: 4, Log: zerolog.Nop(),
		},
		Risk:      stages.RiskDeps{MarketData: md},
		Optimizer: stages.OptimizerDeps{LLM: fakeLLM{}},
	}, Config{MaxStageRetries: 0, MinQualityScore: 0}, zerolog.Nop())

	plan, esc := co.Run(context.Background(), CycleInput{
		Universe:            universe,
		AvailableCapital:    100000,
		PortfolioValue:      500000,
		MinRequiredResearch: 1,
		TacticalTarget:      5,
		SectorByTicker:      map[domain.Ticker]string{},
		SubmittedToday:      map[domain.Ticker]bool{},
	})

	require.Nil(t, esc)
	require.NotNil(t, plan)
	assert.Equal(t, domain.PlanDraft, plan.Status)
	assert.NotEmpty(t, plan.WorkflowSummary)
	assert.Len(t, plan.StageQuality, 5)
}

func TestStageRunRetriesBelowQualityFloorThenEscalates(t *testing.T) {
	co := New(Deps{}, Config{MaxStageRetries: 1, BaseBackoff: time.Millisecond, MinQualityScore: 90}, zerolog.Nop())
	attempts := 0
	_, summaries, esc := co.stageRun(context.Background(), domain.StageResearch, func() domain.StageResult {
		attempts++
		return domain.StageResult{Success: true, QualityScore: 10}
	})
	require.NotNil(t, esc)
	assert.Equal(t, 2, attempts)
	assert.Len(t, summaries, 2)
}
