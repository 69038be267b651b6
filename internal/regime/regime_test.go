package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssessRiskOffOnHighVIX(t *testing.T) {
	a := Assess(Inputs{SPYChangePct: -0.5, VIXLevel: 32, VIXChangePct: 5})
	assert.Equal(t, RegimeRiskOff, a.Regime)
}

func TestAssessRiskOnCalmAdvance(t *testing.T) {
	a := Assess(Inputs{SPYChangePct: 0.6, VIXLevel: 14, VIXChangePct: -1})
	assert.Equal(t, RegimeRiskOn, a.Regime)
}

func TestAssessNeutralDefault(t *testing.T) {
	a := Assess(Inputs{SPYChangePct: 0.05, VIXLevel: 19, VIXChangePct: 0.5})
	assert.Equal(t, RegimeNeutral, a.Regime)
}

func TestVolatilityBandOffsetOnlyAppliesInRiskOff(t *testing.T) {
	lo, hi := VolatilityBandOffset(RegimeRiskOff)
	assert.NotZero(t, lo)
	assert.NotZero(t, hi)

	lo, hi = VolatilityBandOffset(RegimeNeutral)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}
