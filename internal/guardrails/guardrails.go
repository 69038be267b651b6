// Package guardrails implements the Session Guardrails (C4): market-hours,
// once-per-day execution, plan-freshness, and the graduated loss circuit
// breaker. Every gate is evaluated and every failure aggregated — gates
// never short-circuit each other, per spec.md §4.4.
package guardrails

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-trader/internal/calendar"
	"github.com/aristath/sentinel-trader/internal/domain"
)

// Config holds the circuit-breaker thresholds and the freshness window.
type Config struct {
	YellowPct          float64
	OrangePct          float64
	RedPct             float64
	PlanFreshnessHours int
}

// Input bundles everything a single Evaluate call needs.
type Input struct {
	Now              time.Time
	Date             string // market-zone YYYY-MM-DD
	PlanGeneratedAt  *time.Time
	ExecutedToday    bool
	DailyPLPct       float64 // negative means a loss
	Override         bool
	OverrideConfirm  bool // explicit confirmation required at RED
	PendingBuyCount  int
	PendingSellCount int
}

// Evaluate runs the four gates against a Clock and Input, aggregating every
// failure rather than stopping at the first (spec.md §4.4).
func Evaluate(clock *calendar.Clock, cfg Config, in Input) domain.GuardrailResult {
	result := domain.GuardrailResult{Recommendation: domain.RecommendClear}

	marketOK := evaluateMarketHours(clock, in.Now, &result)
	onceOK := evaluateOncePerDay(in, &result)
	freshOK := evaluatePlanFreshness(cfg, in, &result)
	level, _ := CircuitBreakerLevel(in.DailyPLPct, cfg)
	result.Level = level
	cbOK := evaluateCircuitBreaker(level, in, &result)

	result.CanExecute = marketOK && onceOK && freshOK && cbOK
	if result.RequiresOverride && !in.Override {
		result.CanExecute = false
	}

	if !result.CanExecute {
		if len(result.GatesFailed) > 0 && (!marketOK || (!onceOK && !in.Override)) {
			result.Recommendation = domain.RecommendBlocked
		} else if result.RequiresOverride {
			result.Recommendation = domain.RecommendOverride
		} else {
			result.Recommendation = domain.RecommendBlocked
		}
	} else if len(result.Warnings) > 0 {
		result.Recommendation = domain.RecommendCaution
	}

	return result
}

func evaluateMarketHours(clock *calendar.Clock, now time.Time, result *domain.GuardrailResult) bool {
	today := now
	if !clock.IsTradingDay(today) {
		result.GatesFailed = append(result.GatesFailed, "Market Status")
		return false
	}
	bounds := clock.SessionBounds(today)
	if now.Before(bounds.Open) || !now.Before(bounds.Close) {
		result.GatesFailed = append(result.GatesFailed, "Market Status")
		return false
	}
	result.GatesPassed = append(result.GatesPassed, "Market Status")
	return true
}

func evaluateOncePerDay(in Input, result *domain.GuardrailResult) bool {
	if in.ExecutedToday {
		if in.Override {
			result.Warnings = append(result.Warnings, "daily execution limit overridden")
			result.GatesPassed = append(result.GatesPassed, "Daily Execution Limit")
			return true
		}
		result.GatesFailed = append(result.GatesFailed, "Daily Execution Limit")
		return false
	}
	result.GatesPassed = append(result.GatesPassed, "Daily Execution Limit")
	return true
}

func evaluatePlanFreshness(cfg Config, in Input, result *domain.GuardrailResult) bool {
	if in.PlanGeneratedAt == nil {
		result.GatesFailed = append(result.GatesFailed, "Plan Freshness")
		return false
	}
	maxAge := time.Duration(cfg.PlanFreshnessHours) * time.Hour
	age := in.Now.Sub(*in.PlanGeneratedAt)
	if age > maxAge {
		result.Warnings = append(result.Warnings, "plan freshness exceeded")
		result.RequiresOverride = true
		result.GatesPassed = append(result.GatesPassed, "Plan Freshness")
		return true
	}
	result.GatesPassed = append(result.GatesPassed, "Plan Freshness")
	return true
}

// CircuitBreakerLevel maps a loss percentage to a graduated severity level
// and reports whether new BUYs are allowed at that level (spec.md §4.4, P8).
func CircuitBreakerLevel(dailyPLPct float64, cfg Config) (domain.CircuitBreakerLevel, bool) {
	lossPct := -dailyPLPct
	if lossPct < 0 {
		lossPct = 0
	}
	switch {
	case lossPct < cfg.YellowPct:
		return domain.CircuitNormal, true
	case lossPct < cfg.OrangePct:
		return domain.CircuitYellow, true
	case lossPct < cfg.RedPct:
		return domain.CircuitOrange, false
	default:
		return domain.CircuitRed, false
	}
}

// evaluateCircuitBreaker never fails the gate over a BUY-only restriction:
// ORANGE and RED both block new BUYs via result.BuysBlocked, but SELLs (and
// CanExecute) are only blocked outright at RED without an operator override
// (spec.md §4.4: "ORANGE ... block new BUYs (SELLs allowed)").
func evaluateCircuitBreaker(level domain.CircuitBreakerLevel, in Input, result *domain.GuardrailResult) bool {
	switch level {
	case domain.CircuitNormal:
		result.GatesPassed = append(result.GatesPassed, "Circuit Breaker")
		return true
	case domain.CircuitYellow:
		result.Warnings = append(result.Warnings, "circuit breaker YELLOW: elevated daily loss")
		result.GatesPassed = append(result.GatesPassed, "Circuit Breaker")
		return true
	case domain.CircuitOrange:
		result.BuysBlocked = true
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"circuit breaker ORANGE: new BUYs blocked (%d pending)", in.PendingBuyCount))
		if in.Override {
			result.BuysBlocked = false
			result.Warnings = append(result.Warnings, "circuit breaker ORANGE override: BUYs re-enabled")
		}
		result.GatesPassed = append(result.GatesPassed, "Circuit Breaker")
		return true
	default: // RED
		result.BuysBlocked = true
		result.Warnings = append(result.Warnings, "circuit breaker RED: all new trades blocked")
		result.RequiresOverride = true
		if !in.Override || !in.OverrideConfirm {
			result.GatesFailed = append(result.GatesFailed, "Circuit Breaker")
			return false
		}
		result.BuysBlocked = false
		result.GatesPassed = append(result.GatesPassed, "Circuit Breaker")
		return true
	}
}
