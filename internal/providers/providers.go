// Package providers declares the external-provider contracts (C11). These
// are collaborators per spec.md §1 ("out of scope"); the core depends only
// on these interfaces, never on a concrete broker/market-data/sentiment/LLM
// implementation. Test doubles implementing these interfaces are used
// throughout the stage and coordinator tests.
package providers

import (
	"context"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
)

// Broker is the adapter contract from spec.md §6.1. All operations are
// cancellable via ctx and may fail with a transient or permanent error
// (internal/errs.ProviderError).
type Broker interface {
	GetAccount(ctx context.Context) (domain.Account, error)
	GetPositions(ctx context.Context) ([]domain.Holding, error)
	GetCalendar(ctx context.Context, start, end time.Time) ([]CalendarDay, error)
	GetOrdersSince(ctx context.Context, since time.Time) ([]Order, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	GetBars(ctx context.Context, ticker domain.Ticker, timeframe string, start, end time.Time) ([]domain.PriceBar, error)
	GetNews(ctx context.Context, ticker domain.Ticker, start, end time.Time, limit int) ([]NewsItem, error)
	IsPaper(ctx context.Context) (bool, error)
}

// CalendarDay is one broker-reported trading session.
type CalendarDay struct {
	Date  time.Time
	Open  time.Time
	Close time.Time
}

// Order is a broker-reported historical order.
type Order struct {
	ID       string
	Ticker   domain.Ticker
	Side     domain.TradeSide
	Quantity float64
	Status   string
	SubmittedAt time.Time
}

// OrderRequest is what SubmitOrder sends to the broker.
type OrderRequest struct {
	Ticker      domain.Ticker
	Side        domain.TradeSide
	OrderType   domain.OrderType
	Quantity    *float64
	Notional    *float64
	TimeInForce string
}

// OrderAck is the broker's acknowledgement of a submitted order.
type OrderAck struct {
	ID string
}

// NewsItem is a single headline/summary pair from the news collaborator.
type NewsItem struct {
	Headline string
	Summary  string
}

// Fundamentals is the minimal fundamentals shape spec.md §6.2 requires.
type Fundamentals struct {
	Sector          string
	Industry        string
	MarketCap       float64
	TrailingPE      float64
	ForwardPE       float64
	PriceToBook     float64
	ReturnOnEquity  float64
	ProfitMargins   float64
	RevenueGrowth   float64
	EarningsGrowth  float64
	DebtToEquity    float64
	CurrentRatio    float64
	FiftyTwoWkHigh  float64
	FiftyTwoWkLow   float64
}

// MarketData is the price-series/fundamentals collaborator (spec.md §6.2).
type MarketData interface {
	GetBars(ctx context.Context, ticker domain.Ticker, start, end time.Time) ([]domain.PriceBar, error)
	GetFundamentals(ctx context.Context, ticker domain.Ticker) (Fundamentals, error)
}

// Sentiment is the sentiment collaborator, batchable per spec.md §5.
type Sentiment interface {
	Fetch(ctx context.Context, ticker domain.Ticker) (domain.SentimentEntry, error)
	FetchBatch(ctx context.Context, tickers []domain.Ticker) (map[domain.Ticker]domain.SentimentEntry, error)
}

// LLMOptimizerRequest is the structured prompt input to the AI Optimizer's
// single request-response call (spec.md §4.6.4).
type LLMOptimizerRequest struct {
	Candidates []domain.Candidate
	Holdings   []domain.Holding
	AvailableCapital float64
	PortfolioValue   float64
}

// LLMOptimizerResponse is the parsed JSON contract spec.md §4.6.4 requires.
type LLMOptimizerResponse struct {
	Sells             []domain.AISellDecision
	Buys              []domain.AIBuyAllocation
	TotalAllocated    float64
	DeploymentPct     float64
	PortfolioReasoning string
}

// LLMOptimizer is the single request-response LLM collaborator.
type LLMOptimizer interface {
	Optimize(ctx context.Context, req LLMOptimizerRequest) (LLMOptimizerResponse, error)
}

// NewsSummarizer summarizes an arbitrary payload into prose (spec.md §6.2).
type NewsSummarizer interface {
	Summarize(ctx context.Context, payload string) (string, error)
}
