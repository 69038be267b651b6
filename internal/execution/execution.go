// Package execution drives an APPROVED TradingPlan through submission: the
// Plan Lifecycle (C8) transition to EXECUTING/EXECUTED, the Realism
// Simulator (C10) when the broker reports paper mode, one TradeOrder
// message per trade dispatched to the Trading adapter inbox (spec.md §4.8),
// and durable trade rows in the State Store. Grounded on
// original_source/Departments/Trading/trading_department.py and
// Departments/Operations/operations_manager.py's execution-dispatch loop.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/sentinel-trader/internal/bus"
	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/planlifecycle"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/aristath/sentinel-trader/internal/realism"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TradingAdapterInbox is the fixed recipient name for the per-trade
// dispatch messages the Plan Lifecycle emits on execution (spec.md §4.8).
const TradingAdapterInbox = "Trading"

// Realism bundles the Realism Simulator collaborators used during dispatch.
// Nil fields disable that simulator facet (used when the broker reports
// live mode — spec.md §4.10: "In live mode, all operations are
// pass-throughs.").
type Realism struct {
	PDT          *realism.PDTTracker
	Slippage     realism.SlippageModel
	EntryDates   *realism.EntryDateTracker
	ModeDetector *realism.ModeDetector
}

// Deps bundles everything Execute needs beyond the plan itself.
type Deps struct {
	Broker    providers.Broker
	Bus       *bus.Bus
	Trades    *store.TradeRepository
	Sessions  *store.SessionRepository
	Persister planlifecycle.Persister
	Realism   Realism
	Log       zerolog.Logger
}

// Result reports what happened for every trade line in the plan.
type Result struct {
	Submitted []domain.TradeOrder
	Blocked   []BlockedTrade
	Failed    []FailedTrade
}

// BlockedTrade is a trade the Realism Simulator or guardrails refused to
// submit (PDT_VIOLATION, ORANGE circuit breaker, etc.) — not an error, a
// structured non-submission.
type BlockedTrade struct {
	Order  domain.TradeOrder
	Reason string
}

// FailedTrade is a trade whose broker submission errored.
type FailedTrade struct {
	Order domain.TradeOrder
	Err   error
}

// avgQuoteAndVolume reads the daily bars of the trailing 20 calendar days for a ticker and
// returns the latest close (the fill quote) and the average daily volume the
// slippage model sizes its impact against. A broker error or empty history
// falls back to a zero quote and zero volume, which SlippageModel treats as
// the illiquid extreme.
func avgQuoteAndVolume(ctx context.Context, broker providers.Broker, ticker domain.Ticker, now time.Time) (quote, dailyVolume float64) {
	bars, err := broker.GetBars(ctx, ticker, "1Day", now.AddDate(0, 0, -20), now)
	if err != nil || len(bars) == 0 {
		return 0, 0
	}
	quote = bars[len(bars)-1].Close
	var total float64
	for _, b := range bars {
		total += b.Volume
	}
	dailyVolume = total / float64(len(bars))
	return quote, dailyVolume
}

// Execute transitions plan APPROVED -> EXECUTING, submits every trade
// (applying the Realism Simulator when active), dispatches one message per
// trade to the Trading adapter inbox, records trade rows, then transitions
// to EXECUTED (or FAILED if every trade failed to submit). It never emits a
// partial plan silently: Result always enumerates every outcome.
func Execute(ctx context.Context, plan *domain.TradingPlan, sessionID, dateKey string, allowBuys bool, deps Deps, now time.Time) (Result, error) {
	if plan.Status != domain.PlanApproved {
		return Result{}, fmt.Errorf("execution requires an APPROVED plan, got %s", plan.Status)
	}
	if err := planlifecycle.BeginExecution(plan, deps.Persister); err != nil {
		return Result{}, fmt.Errorf("begin execution: %w", err)
	}

	isPaper, err := deps.Broker.IsPaper(ctx)
	if err != nil {
		_ = planlifecycle.Fail(plan, deps.Persister)
		return Result{}, fmt.Errorf("check broker mode: %w", err)
	}
	if deps.Realism.ModeDetector != nil {
		if warning, flipped := deps.Realism.ModeDetector.Observe(isPaper, false); flipped && warning != "" {
			deps.Log.Error().Str("warning", warning).Msg("mode flip detected mid-execution")
		}
	}

	var marginUsed float64
	if isPaper {
		if acct, acctErr := deps.Broker.GetAccount(ctx); acctErr == nil {
			marginUsed = acct.MarginUsed
		}
	}

	var result Result
	for _, order := range plan.Trades {
		if order.Side == domain.SideBuy && !allowBuys {
			result.Blocked = append(result.Blocked, BlockedTrade{Order: order, Reason: "circuit breaker blocks new BUYs"})
			continue
		}
		if isPaper && order.Side == domain.SideBuy && deps.Realism.PDT != nil && deps.Realism.PDT.IsPatternDayTrader() {
			result.Blocked = append(result.Blocked, BlockedTrade{Order: order, Reason: "PDT_VIOLATION"})
			continue
		}

		var qty float64
		if order.Quantity != nil {
			qty = *order.Quantity
		}

		ack, submitErr := deps.Broker.SubmitOrder(ctx, providers.OrderRequest{
			Ticker: order.Ticker, Side: order.Side, OrderType: order.OrderType,
			Quantity: order.Quantity, Notional: order.Notional, TimeInForce: "day",
		})
		if submitErr != nil {
			result.Failed = append(result.Failed, FailedTrade{Order: order, Err: submitErr})
			_ = deps.Trades.Insert(store.TradeRow{
				ID: uuid.NewString(), DecisionID: order.DecisionID, Timestamp: now,
				Ticker: order.Ticker, Side: order.Side, Quantity: qty, Status: store.TradeExecutionFailed,
			})
			continue
		}

		if isPaper && order.Quantity != nil {
			quote, dailyVolume := avgQuoteAndVolume(ctx, deps.Broker, order.Ticker, now)
			cost := deps.Realism.Slippage.EstimateCost(quote, *order.Quantity, dailyVolume)
			deps.Log.Debug().Str("ticker", string(order.Ticker)).
				Float64("slippage_cost", cost).
				Msg("paper-mode slippage estimated for fill")
		}
		if isPaper && deps.Realism.EntryDates != nil {
			if order.Side == domain.SideBuy && order.Quantity != nil {
				_ = deps.Realism.EntryDates.RecordEntry(order.Ticker, *order.Quantity, 0, now)
			} else if order.Side == domain.SideSell {
				if entry, entryErr := deps.Realism.EntryDates.Get(order.Ticker); entryErr == nil && entry != nil {
					daysHeld := int(now.Sub(entry.EntryDate).Hours() / 24)
					interest := realism.MarginInterest(marginUsed, daysHeld)
					deps.Log.Debug().Str("ticker", string(order.Ticker)).
						Float64("margin_interest", interest).Int("days_held", daysHeld).
						Msg("paper-mode margin interest accrued on position close")
					if deps.Realism.PDT != nil && entry.EntryDate.UTC().Format("2006-01-02") == now.UTC().Format("2006-01-02") {
						deps.Realism.PDT.RecordDayTrade(now)
					}
				}
				_ = deps.Realism.EntryDates.RecordExit(order.Ticker)
			}
		}

		if err := deps.Trades.Insert(store.TradeRow{
			ID: uuid.NewString(), DecisionID: order.DecisionID, Timestamp: now,
			Ticker: order.Ticker, Side: order.Side, Quantity: qty, Status: store.TradeSubmitted, BrokerOrderID: ack.ID,
		}); err != nil {
			deps.Log.Error().Err(err).Str("ticker", string(order.Ticker)).Msg("failed to persist trade row")
		}

		subject := fmt.Sprintf("%s %s", order.Side, order.Ticker)
		msgType := bus.TypeBuyOrder
		if order.Side == domain.SideSell {
			msgType = bus.TypeSellOrder
		}
		if msgID, werr := deps.Bus.Write(TradingAdapterInbox, msgType, subject, order.Note, nil, ""); werr != nil {
			deps.Log.Error().Err(werr).Str("ticker", string(order.Ticker)).Msg("failed to dispatch trade message")
		} else if rerr := deps.Bus.Route(msgID, deps.Bus.Self, TradingAdapterInbox); rerr != nil {
			deps.Log.Error().Err(rerr).Str("ticker", string(order.Ticker)).Msg("failed to route trade message to the Trading inbox")
		}

		result.Submitted = append(result.Submitted, order)
	}

	if len(result.Submitted) == 0 && len(result.Failed) > 0 {
		_ = planlifecycle.Fail(plan, deps.Persister)
		return result, fmt.Errorf("no trades submitted, %d failed", len(result.Failed))
	}
	if err := planlifecycle.Complete(plan, deps.Persister); err != nil {
		return result, fmt.Errorf("complete plan: %w", err)
	}

	submittedCount := len(result.Submitted)
	if err := deps.Sessions.Upsert(domain.TradingSession{
		SessionID: sessionID, Date: dateKey, PlanGeneratedAt: &plan.GeneratedAt, PlanExecutedAt: &now,
		MarketStatus: domain.MarketOpen, TradesSubmitted: &submittedCount, CreatedAt: now,
	}); err != nil {
		deps.Log.Error().Err(err).Msg("failed to persist plan_executed_at session record")
	}

	return result, nil
}
