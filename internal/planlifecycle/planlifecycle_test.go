package planlifecycle

import (
	"errors"
	"testing"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	fail  bool
	saved []domain.PlanStatus
}

func (f *fakePersister) Persist(plan *domain.TradingPlan) error {
	if f.fail {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, plan.Status)
	return nil
}

func TestHappyPathTransitions(t *testing.T) {
	plan := &domain.TradingPlan{Status: domain.PlanDraft}
	p := &fakePersister{}

	require.NoError(t, ReadyForApproval(plan, p))
	assert.Equal(t, domain.PlanReadyForApproval, plan.Status)

	require.NoError(t, Approve(plan, p))
	assert.Equal(t, domain.PlanApproved, plan.Status)

	require.NoError(t, BeginExecution(plan, p))
	assert.Equal(t, domain.PlanExecuting, plan.Status)

	require.NoError(t, Complete(plan, p))
	assert.Equal(t, domain.PlanExecuted, plan.Status)

	assert.Equal(t, []domain.PlanStatus{
		domain.PlanReadyForApproval, domain.PlanApproved, domain.PlanExecuting, domain.PlanExecuted,
	}, p.saved)
}

func TestInvalidTransitionRejected(t *testing.T) {
	plan := &domain.TradingPlan{Status: domain.PlanDraft}
	p := &fakePersister{}
	err := Advance(plan, domain.PlanExecuted, p)
	require.Error(t, err)
	assert.Equal(t, domain.PlanDraft, plan.Status)
}

func TestFailedPersistRollsBackInMemoryStatus(t *testing.T) {
	plan := &domain.TradingPlan{Status: domain.PlanDraft}
	p := &fakePersister{fail: true}
	err := ReadyForApproval(plan, p)
	require.Error(t, err)
	assert.Equal(t, domain.PlanDraft, plan.Status)
}

func TestRejectedPlanCannotAdvanceFurther(t *testing.T) {
	plan := &domain.TradingPlan{Status: domain.PlanReadyForApproval}
	p := &fakePersister{}
	require.NoError(t, Reject(plan, p))
	assert.False(t, CanTransition(domain.PlanRejected, domain.PlanApproved))
}
