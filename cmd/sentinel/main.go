// Command sentinel is the CLI entrypoint: `sentinel run --mode=plan|execute|monitor|dashboard`.
// It wires config, logging, the State Store, the Market Calendar, Session
// Guardrails, and the five stage runners into a Workflow Coordinator, then
// drives one cycle (or, for dashboard, serves the read-only HTTP API).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/sentinel-trader/internal/bus"
	"github.com/aristath/sentinel-trader/internal/cache"
	"github.com/aristath/sentinel-trader/internal/calendar"
	"github.com/aristath/sentinel-trader/internal/config"
	"github.com/aristath/sentinel-trader/internal/coordinator"
	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/execution"
	"github.com/aristath/sentinel-trader/internal/guardrails"
	"github.com/aristath/sentinel-trader/internal/monitor"
	"github.com/aristath/sentinel-trader/internal/planlifecycle"
	"github.com/aristath/sentinel-trader/internal/providers"
	"github.com/aristath/sentinel-trader/internal/realism"
	"github.com/aristath/sentinel-trader/internal/regime"
	"github.com/aristath/sentinel-trader/internal/server"
	"github.com/aristath/sentinel-trader/internal/stages"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-trader/pkg/logger"
)

// errProvidersNotConfigured marks the one deliberate seam in this repo: the
// broker/market-data/sentiment/LLM adapters are out of scope (spec.md §1)
// and must be supplied by the operator's own build. See internal/providers.
var errProvidersNotConfigured = errors.New("no concrete provider adapters linked into this build")

// wireProviders is the integration point an operator's fork fills in with
// real adapters implementing the internal/providers contracts. It
// deliberately fails closed rather than silently no-op-ing.
func wireProviders() (providers.Broker, providers.MarketData, providers.Sentiment, providers.LLMOptimizer, error) {
	return nil, nil, nil, nil, errProvidersNotConfigured
}

func main() {
	mode := flag.String("mode", "plan", "run mode: plan|execute|monitor|dashboard")
	override := flag.Bool("override", false, "override guardrail blocks (daily execution limit, stale plan, circuit breaker)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.Pretty})
	logger.SetGlobalLogger(log)

	db, err := store.Open(cfg.DataDir + "/sentinel.db")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, marketData, sentiment, llm, perr := wireProviders()
	if perr != nil && *mode != "dashboard" {
		log.Fatal().Err(perr).Msg("cannot run this mode without provider adapters")
	}

	clock, err := calendar.New(cfg.TimeZone, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build market calendar")
	}

	switch *mode {
	case "plan":
		runPlanCycle(ctx, cfg, log, db, clock, broker, marketData, sentiment, llm)
	case "execute":
		runExecute(ctx, cfg, log, db, clock, broker, *override)
	case "monitor":
		runMonitorLoop(ctx, cfg, log, db, broker, marketData, sentiment)
	case "dashboard":
		runDashboard(ctx, cfg, log, db)
	default:
		fmt.Fprintln(os.Stderr, "unknown --mode:", *mode)
		os.Exit(2)
	}
}

// planFileDir is where the durable plan JSON (spec.md §6.3) lives,
// alongside the message bus roots.
func planFileDir(cfg *config.Config) string { return cfg.DataDir + "/plans" }

// runPlanCycle drives one full Coordinator cycle, persists the resulting
// plan as the durable proposed_trades_YYYY-MM-DD.json file (the
// cross-process source of truth, SPEC_FULL.md §9), and advances it to
// READY_FOR_APPROVAL. It never submits an order — that only happens under
// `run --mode=execute` against an already-APPROVED plan.
func runPlanCycle(ctx context.Context, cfg *config.Config, log zerolog.Logger, db *store.DB, clock *calendar.Clock,
	broker providers.Broker, marketData providers.MarketData, sentiment providers.Sentiment, llm providers.LLMOptimizer) {

	regimeRepo := store.NewRegimeRepository(db)
	regimeAssessor := regime.New(regimeRepo, log)
	priceCache := cache.NewPriceCache(db, cache.TTL{Hours: cfg.CacheTTLHours})
	sentimentCache := cache.NewSentimentCache(db, cache.TTL{Hours: cfg.CacheTTLHours})

	account, err := broker.GetAccount(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read account state")
		return
	}
	holdings, err := broker.GetPositions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read open positions")
		return
	}

	now := clock.NowMarket()
	dateKey := clock.DateKey(now)

	_, _ = regimeAssessor.AssessAndPersist(ctx, dateKey, 0, regime.Inputs{})

	co := coordinator.New(coordinator.Deps{
		Research: stages.ResearchDeps{
			MarketData: marketData, Sentiment: sentiment,
			PriceCache: priceCache, SentimentCache: sentimentCache,
			Fanout: cfg.Concurrency.PerStageFanout, Log: log,
		},
		Risk:      stages.RiskDeps{MarketData: marketData},
		Optimizer: stages.OptimizerDeps{LLM: llm},
	}, coordinator.Config{MaxStageRetries: cfg.MaxStageRetries}, log)

	plan, esc := co.Run(ctx, coordinator.CycleInput{
		Holdings:            holdings,
		AvailableCapital:    account.BuyingPower,
		PortfolioValue:      account.PortfolioValue,
		MinRequiredResearch: cfg.MinPositions,
		TacticalTarget:      cfg.TargetPositionCount * 4,
		PortfolioConfig:     stages.PortfolioConfig{MaxOpenPositions: cfg.MaxPositions, MaxCapitalDeployedPct: cfg.TargetInvestedRatio},
		ComplianceConfig:    stages.ComplianceConfig{},
		SectorByTicker:      map[domain.Ticker]string{},
		SubmittedToday:      map[domain.Ticker]bool{},
	})
	if esc != nil {
		log.Error().Str("stage", esc.Stage).Str("severity", string(esc.Severity)).
			Msg("cycle escalated without producing a plan")
		os.Exit(2)
	}

	persister := planlifecycle.FilePersister{Dir: planFileDir(cfg), DateKey: func() string { return dateKey }}
	if err := planlifecycle.ReadyForApproval(plan, persister); err != nil {
		log.Error().Err(err).Msg("failed to persist generated plan")
		os.Exit(3)
	}

	log.Info().Str("plan_id", plan.PlanID).Int("trades", len(plan.Trades)).
		Int("overall_quality", plan.Summary.OverallQualityScore).Msg("plan generated and ready for approval")
}

// runExecute loads the most recent plan file for today, requires it to be
// APPROVED (an operator approval step outside this binary's scope moves
// READY_FOR_APPROVAL -> APPROVED), evaluates Session Guardrails, and — if
// they clear (or --override is set) — dispatches every trade through the
// Realism Simulator and the broker adapter (spec.md §4.8, §4.10).
func runExecute(ctx context.Context, cfg *config.Config, log zerolog.Logger, db *store.DB, clock *calendar.Clock,
	broker providers.Broker, override bool) {

	now := clock.NowMarket()
	dateKey := clock.DateKey(now)

	plan, err := planlifecycle.Load(planFileDir(cfg), dateKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to load plan file")
		os.Exit(3)
	}
	if plan == nil {
		log.Error().Str("date", dateKey).Msg("no plan file found for today")
		os.Exit(3)
	}
	if plan.Status != domain.PlanApproved {
		log.Error().Str("status", string(plan.Status)).Msg("plan is not APPROVED; an operator must approve it first")
		os.Exit(2)
	}

	sessionRepo := store.NewSessionRepository(db)
	executedToday, err := sessionRepo.ExecutedToday(dateKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to read session state")
		os.Exit(3)
	}

	account, err := broker.GetAccount(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read account state")
		os.Exit(3)
	}

	pendingBuys, pendingSells := 0, 0
	for _, t := range plan.Trades {
		if t.Side == domain.SideBuy {
			pendingBuys++
		} else {
			pendingSells++
		}
	}

	gr := guardrails.Evaluate(clock, guardrails.Config{
		YellowPct: cfg.CircuitBreaker.YellowPct, OrangePct: cfg.CircuitBreaker.OrangePct,
		RedPct: cfg.CircuitBreaker.RedPct, PlanFreshnessHours: cfg.PlanFreshnessHours,
	}, guardrails.Input{
		Now: now, Date: dateKey, PlanGeneratedAt: &plan.GeneratedAt, ExecutedToday: executedToday,
		DailyPLPct: (account.Equity - account.LastEquity) / account.LastEquity * 100,
		Override:   override, OverrideConfirm: override,
		PendingBuyCount: pendingBuys, PendingSellCount: pendingSells,
	})
	if !gr.CanExecute && !override {
		log.Warn().Strs("gates_failed", gr.GatesFailed).Msg("guardrails blocked execution")
		os.Exit(2)
	}

	b := bus.New(cfg.DataDir+"/bus", "Coordinator", log)
	deps := execution.Deps{
		Broker: broker, Bus: b,
		Trades: store.NewTradeRepository(db), Sessions: sessionRepo,
		Persister: planlifecycle.FilePersister{Dir: planFileDir(cfg), DateKey: func() string { return dateKey }},
		Realism: execution.Realism{
			PDT: &realism.PDTTracker{}, Slippage: realism.SlippageModel{},
			EntryDates:   realism.NewEntryDateTracker(store.NewEntryDateRepository(db)),
			ModeDetector: realism.NewModeDetector(log),
		},
		Log: log,
	}

	result, err := execution.Execute(ctx, plan, plan.PlanID, dateKey, !gr.BuysBlocked, deps, now)
	if err != nil {
		log.Error().Err(err).Msg("execution failed")
		os.Exit(3)
	}
	log.Info().Int("submitted", len(result.Submitted)).Int("blocked", len(result.Blocked)).
		Int("failed", len(result.Failed)).Msg("plan execution complete")
}

func runMonitorLoop(ctx context.Context, cfg *config.Config, log zerolog.Logger, db *store.DB,
	broker providers.Broker, marketData providers.MarketData, sentiment providers.Sentiment) {

	entryDates := store.NewEntryDateRepository(db)
	snapshots := store.NewSnapshotRepository(db)
	deps := monitor.Deps{MarketData: marketData, Sentiment: sentiment, EntryDates: entryDates, Snapshots: snapshots, Log: log}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc("@every 4h", func() {
		holdings, herr := broker.GetPositions(ctx)
		if herr != nil {
			log.Error().Err(herr).Msg("failed to read positions for monitor cycle")
			return
		}
		monitor.RunCycle(ctx, deps, monitor.Config{Fanout: cfg.Concurrency.PerStageFanout}, holdings, time.Now().UTC())
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule position monitor")
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
}

func runDashboard(ctx context.Context, cfg *config.Config, log zerolog.Logger, db *store.DB) {
	sessions := store.NewSessionRepository(db)
	var lastPlan *domain.TradingPlan
	srv := server.New(func() *domain.TradingPlan { return lastPlan }, sessions, db, log)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: srv}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Msg("dashboard listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("dashboard server failed")
	}
}
