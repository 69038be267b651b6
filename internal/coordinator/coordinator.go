// Package coordinator implements the Workflow Coordinator (C7): it drives
// Research -> Risk -> Portfolio -> Optimizer -> Compliance in strict
// sequence, retries a failing stage with backoff before escalating, and
// aggregates the final TradingPlan. Grounded on
// original_source/Departments/Operations/operations_manager.py's
// retry_count/max_retries loop (SPEC_FULL.md §C.1).
package coordinator

import (
	"context"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/stages"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config controls retry behavior and the per-stage quality floor below which
// a stage is considered failed and retried.
type Config struct {
	MaxStageRetries   int // default 2, per the original's max_retries
	BaseBackoff       time.Duration // default 2s
	MinQualityScore   int // default 40
}

func (c Config) withDefaults() Config {
	if c.MaxStageRetries == 0 {
		c.MaxStageRetries = 2
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MinQualityScore == 0 {
		c.MinQualityScore = 40
	}
	return c
}

// Deps bundles every collaborator the five stage runners need. Assembled
// once per cycle by the CLI from the broker/market-data/sentiment/LLM
// providers and the price/sentiment caches.
type Deps struct {
	Research  stages.ResearchDeps
	Risk      stages.RiskDeps
	Optimizer stages.OptimizerDeps
}

// CycleInput is everything that varies per cycle: universe, holdings,
// account state, and the constraint configs for Portfolio/Compliance.
type CycleInput struct {
	Universe          []domain.Ticker
	Holdings          []domain.Holding
	AvailableCapital   float64
	PortfolioValue     float64
	MinRequiredResearch int
	TacticalTarget      int
	PortfolioConfig     stages.PortfolioConfig
	ComplianceConfig    stages.ComplianceConfig
	SectorByTicker      map[domain.Ticker]string
	SubmittedToday      map[domain.Ticker]bool
}

// Coordinator runs one full cycle of the pipeline.
type Coordinator struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
}

func New(deps Deps, cfg Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{deps: deps, cfg: cfg.withDefaults(), log: log.With().Str("component", "coordinator").Logger()}
}

// stageRun executes one stage attempt-by-attempt, retrying with exponential
// backoff while its quality score is below the floor, recording every
// attempt into workflow_summary (SPEC_FULL.md §C.1).
func (co *Coordinator) stageRun(ctx context.Context, name domain.StageName, run func() domain.StageResult) (domain.StageResult, []domain.StageSummary, *domain.Escalation) {
	var summaries []domain.StageSummary
	var last domain.StageResult

	for attempt := 1; attempt <= co.cfg.MaxStageRetries+1; attempt++ {
		last = run()
		summaries = append(summaries, domain.StageSummary{
			Stage: string(name), Message: last.Message,
			QualityScore: last.QualityScore, Issues: last.Issues, Attempt: attempt,
		})
		co.log.Info().Str("stage", string(name)).Int("attempt", attempt).
			Int("quality_score", last.QualityScore).Msg("stage attempt completed")

		if last.Success && last.QualityScore >= co.cfg.MinQualityScore {
			return last, summaries, nil
		}
		if attempt <= co.cfg.MaxStageRetries {
			backoff := co.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
			co.log.Warn().Str("stage", string(name)).Dur("backoff", backoff).
				Msg("stage below quality floor, retrying")
			select {
			case <-ctx.Done():
				esc := &domain.Escalation{
					Stage: string(name), IssueType: "cycle_cancelled", Severity: domain.SeverityCritical,
					Context: map[string]any{"attempt": attempt}, Recommendation: "cycle cancelled before stage retries completed",
				}
				return last, summaries, esc
			case <-time.After(backoff):
			}
		}
	}

	severity := domain.SeverityWarning
	if last.QualityScore < 30 {
		severity = domain.SeverityCritical
	}
	esc := &domain.Escalation{
		Stage:          string(name),
		IssueType:      "quality_gate_failed",
		Severity:       severity,
		Context:        map[string]any{"last_quality_score": last.QualityScore, "issues": last.Issues},
		Options:        []string{"proceed with degraded output", "abort cycle", "manual review"},
		Recommendation: "abort cycle and escalate to operator",
	}
	return last, summaries, esc
}

// Run executes the full pipeline once, returning a durable TradingPlan in
// DRAFT status (Plan Lifecycle, C8, takes it from there) or an Escalation if
// any stage could not clear its quality gate after retries.
func (co *Coordinator) Run(ctx context.Context, in CycleInput) (*domain.TradingPlan, *domain.Escalation) {
	var allSummaries []domain.StageSummary
	quality := domain.StageQuality{}

	researchResult, summaries, esc := co.stageRun(ctx, domain.StageResearch, func() domain.StageResult {
		return stages.RunResearch(ctx, co.deps.Research, stages.ResearchInput{
			Universe:       in.Universe,
			Holdings:       in.Holdings,
			MinRequired:    in.MinRequiredResearch,
			TacticalTarget: in.TacticalTarget,
		})
	})
	allSummaries = append(allSummaries, summaries...)
	quality[string(domain.StageResearch)] = researchResult.QualityScore
	if esc != nil {
		return nil, esc
	}
	candidates, _ := researchResult.Data["candidates"].([]domain.Candidate)

	riskResult, summaries, esc := co.stageRun(ctx, domain.StageRisk, func() domain.StageResult {
		return stages.RunRisk(ctx, co.deps.Risk, stages.RiskInput{
			Candidates:       candidates,
			AvailableCapital: in.AvailableCapital,
		})
	})
	allSummaries = append(allSummaries, summaries...)
	quality[string(domain.StageRisk)] = riskResult.QualityScore
	if esc != nil {
		return nil, esc
	}
	riskEnriched, _ := riskResult.Data["candidates"].([]domain.Candidate)
	riskByTicker := make(map[domain.Ticker]domain.RiskMetrics, len(riskEnriched))
	heldComposite := make(map[domain.Ticker]float64, len(riskEnriched))
	for _, c := range riskEnriched {
		if c.RiskMetrics != nil {
			riskByTicker[c.Ticker] = *c.RiskMetrics
		}
		if c.Context == domain.ContextHolding {
			heldComposite[c.Ticker] = c.CompositeScore
		}
	}

	portfolioResult, summaries, esc := co.stageRun(ctx, domain.StagePortfolio, func() domain.StageResult {
		return stages.RunPortfolio(ctx, stages.PortfolioInput{
			Candidates:       riskEnriched,
			OpenHoldings:     in.Holdings,
			AvailableCapital: in.AvailableCapital,
			PortfolioValue:   in.PortfolioValue,
			Config:           in.PortfolioConfig,
		})
	})
	allSummaries = append(allSummaries, summaries...)
	quality[string(domain.StagePortfolio)] = portfolioResult.QualityScore
	if esc != nil {
		return nil, esc
	}
	selections, _ := portfolioResult.Data["selections"].([]domain.PortfolioSelection)

	optimizerResult, summaries, esc := co.stageRun(ctx, domain.StageOptimizer, func() domain.StageResult {
		return stages.RunOptimizer(ctx, co.deps.Optimizer, stages.OptimizerInput{
			Selections:       selections,
			Holdings:         in.Holdings,
			AvailableCapital: in.AvailableCapital,
			PortfolioValue:   in.PortfolioValue,
			HeldComposite:    heldComposite,
		})
	})
	allSummaries = append(allSummaries, summaries...)
	quality[string(domain.StageOptimizer)] = optimizerResult.QualityScore
	if esc != nil {
		return nil, esc
	}
	buys, _ := optimizerResult.Data["buys"].([]domain.AIBuyAllocation)
	sells, _ := optimizerResult.Data["sells"].([]domain.AISellDecision)

	complianceResult, summaries, esc := co.stageRun(ctx, domain.StageCompliance, func() domain.StageResult {
		return stages.RunCompliance(ctx, stages.ComplianceInput{
			Buys:           buys,
			Sells:          sells,
			PortfolioValue: in.PortfolioValue,
			SectorByTicker: in.SectorByTicker,
			Config:         in.ComplianceConfig,
			SubmittedToday: in.SubmittedToday,
			RiskByTicker:   riskByTicker,
		})
	})
	allSummaries = append(allSummaries, summaries...)
	quality[string(domain.StageCompliance)] = complianceResult.QualityScore
	if esc != nil {
		return nil, esc
	}
	orders, _ := complianceResult.Data["orders"].([]domain.TradeOrder)

	overall := 0
	for _, q := range quality {
		overall += q
	}
	if len(quality) > 0 {
		overall /= len(quality)
	}

	plan := &domain.TradingPlan{
		PlanID:          uuid.NewString(),
		GeneratedAt:     time.Now().UTC(),
		Status:          domain.PlanDraft,
		Summary:         domain.PlanSummary{OverallQualityScore: overall},
		StageQuality:    quality,
		Trades:          orders,
		WorkflowSummary: allSummaries,
	}
	co.log.Info().Str("plan_id", plan.PlanID).Int("trade_count", len(orders)).
		Int("overall_quality", overall).Msg("cycle completed, plan drafted")
	return plan, nil
}
