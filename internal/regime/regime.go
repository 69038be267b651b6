// Package regime implements the supplemented market regime assessment
// (SPEC_FULL.md §C.2), grounded on original_source/Departments/Research/market_regime.py.
// It is advisory and gates nothing. VolatilityBandOffset describes a
// RISK_OFF adjustment to Research's swing-suitability volatility band, but
// no caller applies it.
package regime

import (
	"context"
	"time"

	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Regime is the coarse market-condition label the original Python assigned
// from SPY/VIX levels.
type Regime string

const (
	RegimeRiskOn    Regime = "RISK_ON"
	RegimeNeutral   Regime = "NEUTRAL"
	RegimeRiskOff   Regime = "RISK_OFF"
	RegimeUncertain Regime = "UNCERTAIN"
)

// Assessment is the result of one regime read.
type Assessment struct {
	Regime         Regime
	Confidence     float64
	Recommendation string
	Reasoning      string
}

// Inputs are the raw index reads the assessment is built from.
type Inputs struct {
	SPYChangePct float64
	VIXLevel     float64
	VIXChangePct float64
}

// Assessor computes and persists a daily regime read.
type Assessor struct {
	repo *store.RegimeRepository
	log  zerolog.Logger
}

func New(repo *store.RegimeRepository, log zerolog.Logger) *Assessor {
	return &Assessor{repo: repo, log: log.With().Str("component", "regime").Logger()}
}

// Assess classifies the current regime from SPY/VIX movement. VIX at or
// above 30, or at or above 25 and rising, reads RISK_OFF; below those levels,
// SPY up more than 0.5% while VIX rises more than 3% reads UNCERTAIN (a
// conflicting signal); SPY up more than 0.3% with VIX below 18 reads
// RISK_ON; everything else is NEUTRAL.
func Assess(in Inputs) Assessment {
	switch {
	case in.VIXLevel >= 30:
		return Assessment{
			Regime: RegimeRiskOff, Confidence: 0.85,
			Recommendation: "reduce new position sizing",
			Reasoning:      "VIX at or above 30 indicates elevated market stress",
		}
	case in.VIXLevel >= 25 && in.VIXChangePct > 0:
		return Assessment{
			Regime: RegimeRiskOff, Confidence: 0.7,
			Recommendation: "tighten stops, favor defensive sectors",
			Reasoning:      "VIX elevated and rising",
		}
	case in.SPYChangePct > 0.5 && in.VIXLevel < 30 && in.VIXChangePct > 3:
		return Assessment{
			Regime: RegimeUncertain, Confidence: 0.4,
			Recommendation: "hold steady, avoid chasing strength",
			Reasoning:      "SPY gaining while VIX also rises is a conflicting signal",
		}
	case in.SPYChangePct > 0.3 && in.VIXLevel < 18:
		return Assessment{
			Regime: RegimeRiskOn, Confidence: 0.75,
			Recommendation: "normal sizing, swing setups favored",
			Reasoning:      "SPY advancing with low realized volatility",
		}
	default:
		return Assessment{
			Regime: RegimeNeutral, Confidence: 0.55,
			Recommendation: "normal sizing",
			Reasoning:      "no strong directional or volatility signal",
		}
	}
}

// AssessAndPersist runs Assess and writes the result to the
// market_regime_assessments table for the given market-zone date.
func (a *Assessor) AssessAndPersist(ctx context.Context, date string, spyPrice float64, in Inputs) (Assessment, error) {
	assessment := Assess(in)
	spy := spyPrice
	vix := in.VIXLevel
	spyChg := in.SPYChangePct
	vixChg := in.VIXChangePct
	row := store.RegimeAssessment{
		AssessmentID:   uuid.NewString(),
		Date:           date,
		Timestamp:      time.Now().UTC(),
		SPYPrice:       &spy,
		SPYChangePct:   &spyChg,
		VIXLevel:       &vix,
		VIXChangePct:   &vixChg,
		Regime:         string(assessment.Regime),
		Confidence:     assessment.Confidence,
		Recommendation: assessment.Recommendation,
		Reasoning:      assessment.Reasoning,
	}
	if err := a.repo.Insert(row); err != nil {
		a.log.Warn().Err(err).Msg("failed to persist regime assessment")
		return assessment, err
	}
	a.log.Info().Str("regime", string(assessment.Regime)).Float64("confidence", assessment.Confidence).Msg("market regime assessed")
	return assessment, nil
}

// VolatilityBandOffset returns the offset to Research's swing-suitability
// volatility sweet-spot band for a regime (SPEC_FULL.md §C.2): nonzero only
// for RISK_OFF, where the band becomes narrower and lower, favoring calmer
// setups.
func VolatilityBandOffset(r Regime) (loOffset, hiOffset float64) {
	if r == RegimeRiskOff {
		return -0.05, -0.10
	}
	return 0, 0
}
