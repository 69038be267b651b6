package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/sentinel-trader/internal/bus"
	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/planlifecycle"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/aristath/sentinel-trader/internal/realism"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	isPaper bool
	fail    map[domain.Ticker]bool
}

func (f *fakeBroker) GetAccount(ctx context.Context) (domain.Account, error) { return domain.Account{}, nil }
func (f *fakeBroker) GetPositions(ctx context.Context) ([]domain.Holding, error) { return nil, nil }
func (f *fakeBroker) GetCalendar(ctx context.Context, start, end time.Time) ([]providers.CalendarDay, error) {
	return nil, nil
}
func (f *fakeBroker) GetOrdersSince(ctx context.Context, since time.Time) ([]providers.Order, error) {
	return nil, nil
}
func (f *fakeBroker) SubmitOrder(ctx context.Context, req providers.OrderRequest) (providers.OrderAck, error) {
	if f.fail != nil && f.fail[req.Ticker] {
		return providers.OrderAck{}, assert.AnError
	}
	return providers.OrderAck{ID: "ord-" + string(req.Ticker)}, nil
}
func (f *fakeBroker) GetBars(ctx context.Context, ticker domain.Ticker, timeframe string, start, end time.Time) ([]domain.PriceBar, error) {
	return nil, nil
}
func (f *fakeBroker) GetNews(ctx context.Context, ticker domain.Ticker, start, end time.Time, limit int) ([]providers.NewsItem, error) {
	return nil, nil
}
func (f *fakeBroker) IsPaper(ctx context.Context) (bool, error) { return f.isPaper, nil }

func qty(v float64) *float64 { return &v }

func setupDeps(t *testing.T, broker *fakeBroker) (Deps, *domain.TradingPlan) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "exec_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b := bus.New(dir, "Coordinator", zerolog.Nop())
	trades := store.NewTradeRepository(db)
	sessions := store.NewSessionRepository(db)

	plan := &domain.TradingPlan{
		PlanID: "plan-1", Status: domain.PlanApproved, GeneratedAt: time.Now().UTC(),
		Trades: []domain.TradeOrder{
			{Ticker: "AAPL", Side: domain.SideBuy, OrderType: domain.OrderQuantity, Quantity: qty(10)},
			{Ticker: "MSFT", Side: domain.SideSell, OrderType: domain.OrderQuantity, Quantity: qty(5)},
		},
	}

	deps := Deps{
		Broker: broker, Bus: b, Trades: trades, Sessions: sessions,
		Persister: planlifecycle.FilePersister{Dir: dir, DateKey: func() string { return "2026-07-31" }},
		Realism: Realism{
			PDT:          &realism.PDTTracker{},
			Slippage:     realism.SlippageModel{},
			EntryDates:   realism.NewEntryDateTracker(store.NewEntryDateRepository(db)),
			ModeDetector: realism.NewModeDetector(zerolog.Nop()),
		},
		Log: zerolog.Nop(),
	}
	return deps, plan
}

func TestExecuteSubmitsAllTradesAndCompletesPlan(t *testing.T) {
	deps, plan := setupDeps(t, &fakeBroker{isPaper: true})
	result, err := Execute(context.Background(), plan, "sess-1", "2026-07-31", true, deps, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, result.Submitted, 2)
	assert.Empty(t, result.Blocked)
	assert.Empty(t, result.Failed)
	assert.Equal(t, domain.PlanExecuted, plan.Status)
}

func TestExecuteBlocksBuysWhenCircuitBreakerDisallows(t *testing.T) {
	deps, plan := setupDeps(t, &fakeBroker{isPaper: true})
	result, err := Execute(context.Background(), plan, "sess-1", "2026-07-31", false, deps, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, result.Blocked, 1)
	assert.Equal(t, domain.Ticker("AAPL"), result.Blocked[0].Order.Ticker)
	assert.Equal(t, "circuit breaker blocks new BUYs", result.Blocked[0].Reason)
	require.Len(t, result.Submitted, 1)
	assert.Equal(t, domain.Ticker("MSFT"), result.Submitted[0].Ticker)
}

func TestExecuteBlocksBuysOnPDTViolation(t *testing.T) {
	deps, plan := setupDeps(t, &fakeBroker{isPaper: true})
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		deps.Realism.PDT.RecordDayTrade(now.Add(time.Duration(i) * time.Hour))
	}
	result, err := Execute(context.Background(), plan, "sess-1", "2026-07-31", true, deps, now)
	require.NoError(t, err)
	require.Len(t, result.Blocked, 1)
	assert.Equal(t, "PDT_VIOLATION", result.Blocked[0].Reason)
}

func TestExecuteRequiresApprovedPlan(t *testing.T) {
	deps, plan := setupDeps(t, &fakeBroker{isPaper: true})
	plan.Status = domain.PlanDraft
	_, err := Execute(context.Background(), plan, "sess-1", "2026-07-31", true, deps, time.Now().UTC())
	require.Error(t, err)
}

func TestExecuteFailsPlanWhenEveryTradeSubmissionErrors(t *testing.T) {
	deps, plan := setupDeps(t, &fakeBroker{isPaper: false, fail: map[domain.Ticker]bool{"AAPL": true, "MSFT": true}})
	result, err := Execute(context.Background(), plan, "sess-1", "2026-07-31", true, deps, time.Now().UTC())
	require.Error(t, err)
	assert.Len(t, result.Failed, 2)
	assert.Equal(t, domain.PlanFailed, plan.Status)
}
